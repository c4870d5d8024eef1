package pager

import "testing"

func newTestTree(t *testing.T) (*Pager, *BTree) {
	t.Helper()
	p := openTestPager(t)
	var tree *BTree
	withTxn(t, p, func() {
		var err error
		tree, err = CreateBTree(p)
		if err != nil {
			t.Fatalf("create btree: %v", err)
		}
	})
	return p, tree
}

func withTxn(t *testing.T, p *Pager, fn func()) {
	t.Helper()
	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn()
	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestBTree_InsertSearch(t *testing.T) {
	p, tree := newTestTree(t)
	withTxn(t, p, func() {
		for i := int32(0); i < 50; i++ {
			if err := tree.Insert(i, uint32(i+1000)); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}
	})

	for i := int32(0); i < 50; i++ {
		v, found, err := tree.Search(i)
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if !found || v != uint32(i+1000) {
			t.Fatalf("search %d: got (%d, %v)", i, v, found)
		}
	}
	if _, found, _ := tree.Search(999); found {
		t.Fatal("expected key 999 to be absent")
	}
}

// P2 (insert side): after inserts that split the root, search against
// the tree's current root returns the correct value for every live key.
func TestBTree_SplitAndSearchAfterRootChange(t *testing.T) {
	p, tree := newTestTree(t)
	const n = 2000
	withTxn(t, p, func() {
		for i := int32(0); i < n; i++ {
			if err := tree.Insert(i, uint32(i)); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}
	})

	for i := int32(0); i < n; i++ {
		v, found, err := tree.Search(i)
		if err != nil || !found || v != uint32(i) {
			t.Fatalf("search %d failed after splits: v=%d found=%v err=%v", i, v, found, err)
		}
	}
}

func TestBTree_InsertOverwritesExistingKey(t *testing.T) {
	p, tree := newTestTree(t)
	withTxn(t, p, func() {
		if err := tree.Insert(1, 100); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tree.Insert(1, 200); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
	})
	v, found, err := tree.Search(1)
	if err != nil || !found || v != 200 {
		t.Fatalf("expected overwritten value 200, got %d found=%v err=%v", v, found, err)
	}
}

// S2: insert out of order, delete a range, scan yields the remaining
// keys in ascending order.
func TestBTree_DeleteRangeAndScan(t *testing.T) {
	p, tree := newTestTree(t)
	keys := []int32{5, 3, 7, 1, 9, 4, 6, 8, 2}
	withTxn(t, p, func() {
		for _, k := range keys {
			if err := tree.Insert(k, uint32(k)); err != nil {
				t.Fatalf("insert %d: %v", k, err)
			}
		}
	})
	withTxn(t, p, func() {
		for _, k := range keys {
			if k < 5 {
				if err := tree.Delete(k); err != nil {
					t.Fatalf("delete %d: %v", k, err)
				}
			}
		}
	})

	var got []int32
	err := tree.ScanRange(-2147483648, 2147483647, func(key int32, value uint32) error {
		got = append(got, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []int32{5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

// Deletes enough keys to force borrow/merge rebalancing and root
// height collapse across many leaves, then confirms every surviving key
// is still reachable from the tree's current root.
func TestBTree_DeleteManyForcesRebalance(t *testing.T) {
	p, tree := newTestTree(t)
	const n = 3000
	withTxn(t, p, func() {
		for i := int32(0); i < n; i++ {
			if err := tree.Insert(i, uint32(i)); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}
	})
	withTxn(t, p, func() {
		for i := int32(0); i < n; i++ {
			if i%3 != 0 {
				if err := tree.Delete(i); err != nil {
					t.Fatalf("delete %d: %v", i, err)
				}
			}
		}
	})

	for i := int32(0); i < n; i++ {
		v, found, err := tree.Search(i)
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if i%3 == 0 {
			if !found || v != uint32(i) {
				t.Fatalf("expected key %d to survive, found=%v v=%d", i, found, v)
			}
		} else if found {
			t.Fatalf("expected key %d to be gone, got value %d", i, v)
		}
	}

	var got []int32
	err := tree.ScanRange(-2147483648, 2147483647, func(key int32, value uint32) error {
		got = append(got, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("scan not strictly ascending at index %d: %v", i, got)
		}
	}
}

func TestBTree_DeleteMissingKeyIsNoop(t *testing.T) {
	p, tree := newTestTree(t)
	withTxn(t, p, func() {
		if err := tree.Insert(1, 1); err != nil {
			t.Fatalf("insert: %v", err)
		}
	})
	withTxn(t, p, func() {
		if err := tree.Delete(404); err != nil {
			t.Fatalf("delete missing key should not error: %v", err)
		}
	})
	if _, found, _ := tree.Search(1); !found {
		t.Fatal("unrelated key should survive a delete of a missing key")
	}
}

func TestBTree_OpenExistingRoot(t *testing.T) {
	p, tree := newTestTree(t)
	withTxn(t, p, func() {
		if err := tree.Insert(42, 4242); err != nil {
			t.Fatalf("insert: %v", err)
		}
	})
	reopened := OpenBTree(p, tree.Root())
	v, found, err := reopened.Search(42)
	if err != nil || !found || v != 4242 {
		t.Fatalf("reopened tree lookup failed: v=%d found=%v err=%v", v, found, err)
	}
}
