package pager

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), uuid.NewString()+".fdb")
}

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	p, err := Open(tempDBPath(t), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPage_CRCDetectsCorruption(t *testing.T) {
	page := NewPage(7)
	copy(page.Buf, []byte("hello world"))
	page.SetCRC()
	if err := page.VerifyCRC(); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	page.Buf[0] ^= 0xFF
	if err := page.VerifyCRC(); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func TestHeader_MarshalRoundTrip(t *testing.T) {
	h := NewHeader()
	h.CatalogRoot = 5
	h.AuxRoot = 6
	h.PageHighWater = 42
	h.LastCommittedTxn = 99

	page := h.Marshal()
	h2, err := UnmarshalHeader(page)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *h2 != *h {
		t.Fatalf("header roundtrip mismatch: %+v vs %+v", h, h2)
	}
}

func TestHeader_RejectsBadMagic(t *testing.T) {
	page := NewHeader().Marshal()
	page.Buf[0] ^= 0xFF
	page.SetCRC()
	if _, err := UnmarshalHeader(page); err == nil {
		t.Fatal("expected a corruption error for a bad magic number")
	}
}

// P4: a page written in a committed transaction is recoverable after close/reopen.
func TestPager_WriteCommitReopen(t *testing.T) {
	path := tempDBPath(t)
	p, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	page, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	copy(page.Buf, []byte("persisted"))
	p.UnpinPage(page.ID)
	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	got, err := p2.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer p2.UnpinPage(page.ID)
	if string(got.Buf[:9]) != "persisted" {
		t.Fatalf("unexpected page contents: %q", got.Buf[:9])
	}
}

// P5: abort restores every page the transaction touched to its pre-image.
func TestPager_AbortRestoresPreImage(t *testing.T) {
	p := openTestPager(t)

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	page, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	copy(page.Buf, []byte("v1"))
	page.SetCRC()
	p.UnpinPage(page.ID)
	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	page, err = p.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty 2: %v", err)
	}
	for i := range page.Buf[:2] {
		page.Buf[i] = 'X'
	}
	p.UnpinPage(page.ID)
	if err := p.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	restored, err := p.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page after abort: %v", err)
	}
	defer p.UnpinPage(page.ID)
	if string(restored.Buf[:2]) != "v1" {
		t.Fatalf("abort did not restore pre-image, got %q", restored.Buf[:2])
	}
}

// P7: with no transaction in flight, the WAL is empty and nothing is dirty.
func TestPager_NoOverRetentionAfterCommit(t *testing.T) {
	p := openTestPager(t)

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	page, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	p.UnpinPage(page.ID)
	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	recs, err := p.wal.ReadAll()
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected an empty WAL after commit, got %d records", len(recs))
	}
	if len(p.cache.DirtyPages()) != 0 {
		t.Fatalf("expected no dirty pages after commit")
	}
}

// P4/P6: a crash mid-transaction (WAL left valid, header still marks it in
// flight) is rolled back identically whether Open recovers it once or twice.
func TestPager_CrashRecoveryIsIdempotent(t *testing.T) {
	path := tempDBPath(t)
	p, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	page, err := p.AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	copy(page.Buf, []byte("base"))
	page.SetCRC()
	p.UnpinPage(page.ID)
	if err := p.Commit(); err != nil {
		t.Fatalf("commit base: %v", err)
	}

	// Simulate a crash mid-transaction: begin, dirty the page, but never
	// commit or close cleanly — the on-disk header is left with
	// wal_valid=1, exactly as a killed process would leave it.
	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	page, err = p.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if err := p.MarkDirty(page.ID); err != nil {
		t.Fatalf("mark dirty 2: %v", err)
	}
	for i := range page.Buf[:4] {
		page.Buf[i] = 'X'
	}
	p.UnpinPage(page.ID)
	// No Commit, no Abort, no Close: the WAL file and the on-disk header
	// are left exactly as a crash would leave them.

	p1, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen 1 (recovery): %v", err)
	}
	got1, err := p1.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page after recovery 1: %v", err)
	}
	val1 := string(got1.Buf[:4])
	p1.UnpinPage(page.ID)
	if err := p1.Close(); err != nil {
		t.Fatalf("close after recovery 1: %v", err)
	}
	if val1 != "base" {
		t.Fatalf("recovery did not restore pre-image, got %q", val1)
	}

	p2, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen 2 (recovery again): %v", err)
	}
	defer p2.Close()
	got2, err := p2.GetPage(page.ID)
	if err != nil {
		t.Fatalf("get page after recovery 2: %v", err)
	}
	val2 := string(got2.Buf[:4])
	p2.UnpinPage(page.ID)
	if val2 != val1 {
		t.Fatalf("second recovery produced different contents: %q vs %q", val2, val1)
	}
}

// P5: a header mutation made mid-transaction via PersistHeader (as happens
// when a statement lazily creates the catalog) must not survive an abort.
func TestPager_AbortRestoresHeaderSnapshot(t *testing.T) {
	p := openTestPager(t)
	before := *p.Header()

	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	p.PersistHeader(77, 88)
	if err := p.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	after := *p.Header()
	if after.CatalogRoot != before.CatalogRoot || after.AuxRoot != before.AuxRoot {
		t.Fatalf("abort did not restore header snapshot: before=%+v after=%+v", before, after)
	}
	if after.PageHighWater != before.PageHighWater {
		t.Fatalf("abort did not restore page_high_water: before=%d after=%d", before.PageHighWater, after.PageHighWater)
	}
	if after.WALValid != 0 {
		t.Fatalf("expected wal_valid cleared after abort, got %d", after.WALValid)
	}
}

func TestPager_CommitOutsideTransactionFails(t *testing.T) {
	p := openTestPager(t)
	if err := p.Commit(); err == nil {
		t.Fatal("expected an error committing with no active transaction")
	}
}

func TestPager_DoubleBeginFails(t *testing.T) {
	p := openTestPager(t)
	if err := p.BeginTx(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer p.Abort()
	if err := p.BeginTx(); err == nil {
		t.Fatal("expected an error on a second concurrent BeginTx")
	}
}
