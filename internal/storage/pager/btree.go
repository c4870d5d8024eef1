package pager

import (
	"encoding/binary"
)

// B+Tree nodes use a fixed 12-byte header followed by fixed-width
// cells — no slotted directory, no overflow pages, since every key is
// a 4-byte int32 and every value a 4-byte uint32 page pointer. A leaf
// cell is (key, value); an internal node stores cellCount separators
// interleaved with cellCount+1 child pointers: child0, sep0, child1,
// sep1, ..., child_{cellCount}.
const (
	nodeHdrKind    = 0
	nodeHdrCount   = 1 // uint16
	nodeHdrSibling = 3 // uint32, leaf: right sibling page; internal: unused
	nodeHdrParent  = 7 // uint32
	nodeHdrSize    = 12

	leafCellSize = 8 // int32 key + uint32 value

	maxLeafCells    = (PageSize - nodeHdrSize - crcTrailerSize) / leafCellSize
	maxInternalSeps = (PageSize - nodeHdrSize - crcTrailerSize - 4) / 8

	minLeafCells     = maxLeafCells / 2
	minInternalSeps  = maxInternalSeps / 2
)

type nodeKind uint8

const (
	nodeLeaf nodeKind = iota
	nodeInternal
)

// node is a thin accessor over a B+Tree page's bytes. It never copies;
// callers must MarkDirty the underlying page before mutating through it.
type node struct {
	page *Page
}

func wrapNode(p *Page) *node { return &node{page: p} }

func (n *node) kind() nodeKind    { return nodeKind(n.page.Buf[nodeHdrKind]) }
func (n *node) setKind(k nodeKind) { n.page.Buf[nodeHdrKind] = byte(k) }

func (n *node) cellCount() int {
	return int(binary.LittleEndian.Uint16(n.page.Buf[nodeHdrCount:]))
}
func (n *node) setCellCount(c int) {
	binary.LittleEndian.PutUint16(n.page.Buf[nodeHdrCount:], uint16(c))
}

func (n *node) sibling() PageID {
	return PageID(binary.LittleEndian.Uint32(n.page.Buf[nodeHdrSibling:]))
}
func (n *node) setSibling(id PageID) {
	binary.LittleEndian.PutUint32(n.page.Buf[nodeHdrSibling:], uint32(id))
}

func (n *node) parent() PageID {
	return PageID(binary.LittleEndian.Uint32(n.page.Buf[nodeHdrParent:]))
}
func (n *node) setParent(id PageID) {
	binary.LittleEndian.PutUint32(n.page.Buf[nodeHdrParent:], uint32(id))
}

func initLeaf(p *Page, parent PageID) *node {
	n := wrapNode(p)
	n.setKind(nodeLeaf)
	n.setCellCount(0)
	n.setSibling(InvalidPageID)
	n.setParent(parent)
	return n
}

func initInternal(p *Page, parent PageID) *node {
	n := wrapNode(p)
	n.setKind(nodeInternal)
	n.setCellCount(0)
	n.setSibling(InvalidPageID)
	n.setParent(parent)
	return n
}

// --- leaf cell access ---

func leafCellOff(i int) int { return nodeHdrSize + i*leafCellSize }

func (n *node) leafKey(i int) int32 {
	return int32(binary.LittleEndian.Uint32(n.page.Buf[leafCellOff(i):]))
}
func (n *node) leafVal(i int) uint32 {
	return binary.LittleEndian.Uint32(n.page.Buf[leafCellOff(i)+4:])
}
func (n *node) setLeafCell(i int, key int32, val uint32) {
	off := leafCellOff(i)
	binary.LittleEndian.PutUint32(n.page.Buf[off:], uint32(key))
	binary.LittleEndian.PutUint32(n.page.Buf[off+4:], val)
}

// leafFind returns the index of key if present, else the index at which
// it should be inserted to keep cells sorted.
func (n *node) leafFind(key int32) (idx int, found bool) {
	cc := n.cellCount()
	lo, hi := 0, cc
	for lo < hi {
		mid := (lo + hi) / 2
		k := n.leafKey(mid)
		switch {
		case k == key:
			return mid, true
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func (n *node) leafInsertAt(i int, key int32, val uint32) {
	cc := n.cellCount()
	off := leafCellOff(i)
	end := leafCellOff(cc)
	copy(n.page.Buf[off+leafCellSize:end+leafCellSize], n.page.Buf[off:end])
	n.setLeafCell(i, key, val)
	n.setCellCount(cc + 1)
}

func (n *node) leafRemoveAt(i int) {
	cc := n.cellCount()
	off := leafCellOff(i)
	end := leafCellOff(cc)
	copy(n.page.Buf[off:end-leafCellSize], n.page.Buf[off+leafCellSize:end])
	n.setCellCount(cc - 1)
}

// --- internal cell access ---

func internalChildOff(i int) int { return nodeHdrSize + i*8 }
func internalSepOff(i int) int   { return nodeHdrSize + 4 + i*8 }

func (n *node) internalChild(i int) PageID {
	return PageID(binary.LittleEndian.Uint32(n.page.Buf[internalChildOff(i):]))
}
func (n *node) setInternalChild(i int, id PageID) {
	binary.LittleEndian.PutUint32(n.page.Buf[internalChildOff(i):], uint32(id))
}
func (n *node) internalSep(i int) int32 {
	return int32(binary.LittleEndian.Uint32(n.page.Buf[internalSepOff(i):]))
}
func (n *node) setInternalSep(i int, sep int32) {
	binary.LittleEndian.PutUint32(n.page.Buf[internalSepOff(i):], uint32(sep))
}

// internalFindChild returns the index of the child pointer to follow
// for key: the last child whose preceding separator is <= key.
func (n *node) internalFindChild(key int32) int {
	cc := n.cellCount()
	i := 0
	for i < cc && key >= n.internalSep(i) {
		i++
	}
	return i
}

func (n *node) internalInsertAt(i int, sep int32, rightChild PageID) {
	cc := n.cellCount()
	shiftFrom := internalSepOff(i)
	existingEnd := internalChildOff(cc) + 4
	length := existingEnd - shiftFrom
	copy(n.page.Buf[shiftFrom+8:shiftFrom+8+length], n.page.Buf[shiftFrom:shiftFrom+length])
	n.setInternalSep(i, sep)
	n.setInternalChild(i+1, rightChild)
	n.setCellCount(cc + 1)
}

// internalRemoveAt drops separator i and the child pointer immediately
// to its right, leaving child i as the sole representative of the
// merged range.
func (n *node) internalRemoveAt(i int) {
	cc := n.cellCount()
	shiftFrom := internalSepOff(i + 1)
	shiftTo := internalSepOff(i)
	existingEnd := internalChildOff(cc) + 4
	length := existingEnd - shiftFrom
	copy(n.page.Buf[shiftTo:shiftTo+length], n.page.Buf[shiftFrom:shiftFrom+length])
	n.setCellCount(cc - 1)
}

// BTree is an ordered int32 -> uint32 map backed by fixed-width B+Tree
// pages reached through a Pager.
type BTree struct {
	pager *Pager
	root  PageID
}

// CreateBTree allocates a fresh, empty single-leaf tree. The caller must
// be within an active transaction.
func CreateBTree(p *Pager) (*BTree, error) {
	page, err := p.AllocatePage()
	if err != nil {
		return nil, err
	}
	defer p.UnpinPage(page.ID)
	if err := p.MarkDirty(page.ID); err != nil {
		return nil, err
	}
	initLeaf(page, InvalidPageID)
	return &BTree{pager: p, root: page.ID}, nil
}

// OpenBTree wraps an existing tree rooted at root.
func OpenBTree(p *Pager, root PageID) *BTree { return &BTree{pager: p, root: root} }

// Root returns the tree's current root page. Callers must re-fetch this
// after every Insert/Delete that might have split or collapsed the root
// and persist it into the owning catalog entry.
func (t *BTree) Root() PageID { return t.root }

// Search returns the value stored for key, if any.
func (t *BTree) Search(key int32) (uint32, bool, error) {
	leafID, err := t.findLeaf(key)
	if err != nil {
		return 0, false, err
	}
	leaf, err := t.pager.GetPage(leafID)
	if err != nil {
		return 0, false, err
	}
	defer t.pager.UnpinPage(leafID)
	n := wrapNode(leaf)
	idx, found := n.leafFind(key)
	if !found {
		return 0, false, nil
	}
	return n.leafVal(idx), true, nil
}

// findLeaf descends from root to the leaf that would contain key.
func (t *BTree) findLeaf(key int32) (PageID, error) {
	id := t.root
	for {
		page, err := t.pager.GetPage(id)
		if err != nil {
			return 0, err
		}
		n := wrapNode(page)
		if n.kind() == nodeLeaf {
			t.pager.UnpinPage(id)
			return id, nil
		}
		next := n.internalChild(n.internalFindChild(key))
		t.pager.UnpinPage(id)
		id = next
	}
}

// pathEntry is one step of a root-to-leaf descent, kept so splits and
// deletes can walk back up without re-descending.
type pathEntry struct {
	id        PageID
	childSlot int // which child index of this node was followed (0 for leaf entries)
}

func (t *BTree) descend(key int32) ([]pathEntry, error) {
	var path []pathEntry
	id := t.root
	for {
		page, err := t.pager.GetPage(id)
		if err != nil {
			return nil, err
		}
		n := wrapNode(page)
		if n.kind() == nodeLeaf {
			t.pager.UnpinPage(id)
			path = append(path, pathEntry{id: id})
			return path, nil
		}
		slot := n.internalFindChild(key)
		next := n.internalChild(slot)
		t.pager.UnpinPage(id)
		path = append(path, pathEntry{id: id, childSlot: slot})
		id = next
	}
}

// Insert stores value for key, overwriting any existing value, splitting
// nodes bottom-up as needed. The caller must be within an active
// transaction.
func (t *BTree) Insert(key int32, value uint32) error {
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].id
	leaf, err := t.pager.GetPage(leafID)
	if err != nil {
		return err
	}
	n := wrapNode(leaf)
	idx, found := n.leafFind(key)
	if err := t.pager.MarkDirty(leafID); err != nil {
		t.pager.UnpinPage(leafID)
		return err
	}
	if found {
		n.setLeafCell(idx, key, value)
		t.pager.UnpinPage(leafID)
		return nil
	}
	if n.cellCount() < maxLeafCells {
		n.leafInsertAt(idx, key, value)
		t.pager.UnpinPage(leafID)
		return nil
	}
	// Split: collect the one-too-many cells, rebuild both halves.
	cells := make([]struct {
		k int32
		v uint32
	}, 0, n.cellCount()+1)
	for i := 0; i < n.cellCount(); i++ {
		cells = append(cells, struct {
			k int32
			v uint32
		}{n.leafKey(i), n.leafVal(i)})
	}
	cells = append(cells[:idx], append([]struct {
		k int32
		v uint32
	}{{key, value}}, cells[idx:]...)...)

	mid := len(cells) / 2
	rightPage, err := t.pager.AllocatePage()
	if err != nil {
		t.pager.UnpinPage(leafID)
		return err
	}
	if err := t.pager.MarkDirty(rightPage.ID); err != nil {
		t.pager.UnpinPage(leafID)
		t.pager.UnpinPage(rightPage.ID)
		return err
	}
	right := initLeaf(rightPage, n.parent())
	right.setSibling(n.sibling())
	n.setCellCount(0)
	for i := 0; i < mid; i++ {
		n.leafInsertAt(i, cells[i].k, cells[i].v)
	}
	for i := mid; i < len(cells); i++ {
		right.leafInsertAt(i-mid, cells[i].k, cells[i].v)
	}
	n.setSibling(rightPage.ID)
	separator := right.leafKey(0)

	t.pager.UnpinPage(leafID)
	t.pager.UnpinPage(rightPage.ID)

	return t.insertIntoParent(path[:len(path)-1], leafID, separator, rightPage.ID)
}

// insertIntoParent propagates a split upward, possibly growing a new
// root. path is the root-to-parent portion of the original descent.
func (t *BTree) insertIntoParent(path []pathEntry, leftChild PageID, sep int32, rightChild PageID) error {
	if len(path) == 0 {
		// leftChild was the root; grow a new internal root above it.
		rootPage, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		if err := t.pager.MarkDirty(rootPage.ID); err != nil {
			t.pager.UnpinPage(rootPage.ID)
			return err
		}
		root := initInternal(rootPage, InvalidPageID)
		root.setInternalChild(0, leftChild)
		root.internalInsertAt(0, sep, rightChild)
		t.pager.UnpinPage(rootPage.ID)

		if err := t.reparent(leftChild, rootPage.ID); err != nil {
			return err
		}
		if err := t.reparent(rightChild, rootPage.ID); err != nil {
			return err
		}
		t.root = rootPage.ID
		return nil
	}

	parentID := path[len(path)-1].id
	parentPage, err := t.pager.GetPage(parentID)
	if err != nil {
		return err
	}
	pn := wrapNode(parentPage)
	if err := t.pager.MarkDirty(parentID); err != nil {
		t.pager.UnpinPage(parentID)
		return err
	}
	slot := path[len(path)-1].childSlot

	if pn.cellCount() < maxInternalSeps {
		pn.internalInsertAt(slot, sep, rightChild)
		t.pager.UnpinPage(parentID)
		return t.reparent(rightChild, parentID)
	}

	// Parent is full: split it too.
	oldCC := pn.cellCount()
	children := make([]PageID, 0, oldCC+2)
	seps := make([]int32, 0, oldCC+1)
	for i := 0; i < oldCC; i++ {
		children = append(children, pn.internalChild(i))
		seps = append(seps, pn.internalSep(i))
	}
	children = append(children, pn.internalChild(oldCC))

	// Insert (sep, rightChild) after position slot.
	children = append(children[:slot+1], append([]PageID{rightChild}, children[slot+1:]...)...)
	seps = append(seps[:slot], append([]int32{sep}, seps[slot:]...)...)

	midSep := len(seps) / 2
	promoted := seps[midSep]
	leftChildren := children[:midSep+1]
	leftSeps := seps[:midSep]
	rightChildren := children[midSep+1:]
	rightSeps := seps[midSep+1:]

	newPage, err := t.pager.AllocatePage()
	if err != nil {
		t.pager.UnpinPage(parentID)
		return err
	}
	if err := t.pager.MarkDirty(newPage.ID); err != nil {
		t.pager.UnpinPage(parentID)
		t.pager.UnpinPage(newPage.ID)
		return err
	}
	newRight := initInternal(newPage, pn.parent())

	pn.setCellCount(0)
	pn.setInternalChild(0, leftChildren[0])
	for i, s := range leftSeps {
		pn.internalInsertAt(i, s, leftChildren[i+1])
	}
	newRight.setInternalChild(0, rightChildren[0])
	for i, s := range rightSeps {
		newRight.internalInsertAt(i, s, rightChildren[i+1])
	}

	t.pager.UnpinPage(parentID)
	t.pager.UnpinPage(newPage.ID)

	for _, c := range rightChildren {
		if err := t.reparent(c, newPage.ID); err != nil {
			return err
		}
	}

	return t.insertIntoParent(path[:len(path)-1], parentID, promoted, newPage.ID)
}

func (t *BTree) reparent(child PageID, parent PageID) error {
	page, err := t.pager.GetPage(child)
	if err != nil {
		return err
	}
	n := wrapNode(page)
	if n.parent() == parent {
		t.pager.UnpinPage(child)
		return nil
	}
	if err := t.pager.MarkDirty(child); err != nil {
		t.pager.UnpinPage(child)
		return err
	}
	n.setParent(parent)
	t.pager.UnpinPage(child)
	return nil
}

// Delete removes key, rebalancing via borrow-from-sibling or merge as
// needed, collapsing the root when it is left with a single child.
// Deleting a key that is not present is a no-op.
func (t *BTree) Delete(key int32) error {
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].id
	leaf, err := t.pager.GetPage(leafID)
	if err != nil {
		return err
	}
	n := wrapNode(leaf)
	idx, found := n.leafFind(key)
	if !found {
		t.pager.UnpinPage(leafID)
		return nil
	}
	if err := t.pager.MarkDirty(leafID); err != nil {
		t.pager.UnpinPage(leafID)
		return err
	}
	n.leafRemoveAt(idx)
	t.pager.UnpinPage(leafID)

	return t.rebalance(path[:len(path)-1], leafID)
}

// rebalance fixes underflow starting at nodeID (whose parent chain is
// ancestors), walking upward as merges propagate.
func (t *BTree) rebalance(ancestors []pathEntry, nodeID PageID) error {
	if nodeID == t.root {
		return t.maybeCollapseRoot()
	}

	page, err := t.pager.GetPage(nodeID)
	if err != nil {
		return err
	}
	n := wrapNode(page)
	min := minLeafCells
	if n.kind() == nodeInternal {
		min = minInternalSeps
	}
	underflow := n.cellCount() < min
	t.pager.UnpinPage(nodeID)
	if !underflow {
		return nil
	}

	parentEntry := ancestors[len(ancestors)-1]
	parentPage, err := t.pager.GetPage(parentEntry.id)
	if err != nil {
		return err
	}
	pn := wrapNode(parentPage)
	slot := parentEntry.childSlot
	// The parent stays pinned while borrow/merge MarkDirty and mutate it.

	// Try borrowing from the left sibling, then the right, else merge.
	if slot > 0 {
		ok, err := t.tryBorrowLeft(pn, parentEntry.id, slot, nodeID)
		if err != nil || ok {
			t.pager.UnpinPage(parentEntry.id)
			return err
		}
	}
	if slot < pn.cellCount() {
		ok, err := t.tryBorrowRight(pn, parentEntry.id, slot, nodeID)
		if err != nil || ok {
			t.pager.UnpinPage(parentEntry.id)
			return err
		}
	}
	var mergeSlot int
	if slot > 0 {
		mergeSlot = slot - 1
	} else {
		mergeSlot = slot
	}
	err = t.mergeChildren(parentEntry.id, mergeSlot)
	t.pager.UnpinPage(parentEntry.id)
	if err != nil {
		return err
	}
	return t.rebalance(ancestors[:len(ancestors)-1], parentEntry.id)
}

func (t *BTree) tryBorrowLeft(pn *node, parentID PageID, slot int, nodeID PageID) (bool, error) {
	leftID := pn.internalChild(slot - 1)
	leftPage, err := t.pager.GetPage(leftID)
	if err != nil {
		return false, err
	}
	left := wrapNode(leftPage)
	curPage, err := t.pager.GetPage(nodeID)
	if err != nil {
		t.pager.UnpinPage(leftID)
		return false, err
	}
	cur := wrapNode(curPage)

	min := minLeafCells
	if cur.kind() == nodeInternal {
		min = minInternalSeps
	}
	if left.cellCount() <= min {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(nodeID)
		return false, nil
	}

	if err := t.pager.MarkDirty(leftID); err != nil {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}
	if err := t.pager.MarkDirty(nodeID); err != nil {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}
	if err := t.pager.MarkDirty(parentID); err != nil {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}

	if cur.kind() == nodeLeaf {
		lastIdx := left.cellCount() - 1
		k, v := left.leafKey(lastIdx), left.leafVal(lastIdx)
		left.leafRemoveAt(lastIdx)
		cur.leafInsertAt(0, k, v)
		pn.setInternalSep(slot-1, cur.leafKey(0))
	} else {
		lastChildIdx := left.cellCount()
		movedChild := left.internalChild(lastChildIdx)
		downSep := pn.internalSep(slot - 1)
		upSep := left.internalSep(lastChildIdx - 1)
		left.internalRemoveAt(lastChildIdx - 1)
		// Shift cur's children right by one slot, inserting the moved
		// child at the front with downSep as its new leading separator.
		firstChild := cur.internalChild(0)
		cur.setInternalChild(0, movedChild)
		cur.internalInsertAt(0, downSep, firstChild)
		pn.setInternalSep(slot-1, upSep)
		if err := t.reparent(movedChild, nodeID); err != nil {
			t.pager.UnpinPage(leftID)
			t.pager.UnpinPage(nodeID)
			return false, err
		}
	}
	t.pager.UnpinPage(leftID)
	t.pager.UnpinPage(nodeID)
	return true, nil
}

func (t *BTree) tryBorrowRight(pn *node, parentID PageID, slot int, nodeID PageID) (bool, error) {
	rightID := pn.internalChild(slot + 1)
	rightPage, err := t.pager.GetPage(rightID)
	if err != nil {
		return false, err
	}
	right := wrapNode(rightPage)
	curPage, err := t.pager.GetPage(nodeID)
	if err != nil {
		t.pager.UnpinPage(rightID)
		return false, err
	}
	cur := wrapNode(curPage)

	min := minLeafCells
	if cur.kind() == nodeInternal {
		min = minInternalSeps
	}
	if right.cellCount() <= min {
		t.pager.UnpinPage(rightID)
		t.pager.UnpinPage(nodeID)
		return false, nil
	}

	if err := t.pager.MarkDirty(rightID); err != nil {
		t.pager.UnpinPage(rightID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}
	if err := t.pager.MarkDirty(nodeID); err != nil {
		t.pager.UnpinPage(rightID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}
	if err := t.pager.MarkDirty(parentID); err != nil {
		t.pager.UnpinPage(rightID)
		t.pager.UnpinPage(nodeID)
		return false, err
	}

	if cur.kind() == nodeLeaf {
		k, v := right.leafKey(0), right.leafVal(0)
		right.leafRemoveAt(0)
		cur.leafInsertAt(cur.cellCount(), k, v)
		pn.setInternalSep(slot, right.leafKey(0))
	} else {
		movedChild := right.internalChild(0)
		downSep := pn.internalSep(slot)
		upSep := right.internalSep(0)
		// Drop child 0 and separator 0 by shifting the rest left one cell.
		rcc := right.cellCount()
		copy(right.page.Buf[internalChildOff(0):], right.page.Buf[internalChildOff(1):internalChildOff(rcc)+4])
		right.setCellCount(rcc - 1)
		cur.internalInsertAt(cur.cellCount(), downSep, movedChild)
		pn.setInternalSep(slot, upSep)
		if err := t.reparent(movedChild, nodeID); err != nil {
			t.pager.UnpinPage(rightID)
			t.pager.UnpinPage(nodeID)
			return false, err
		}
	}
	t.pager.UnpinPage(rightID)
	t.pager.UnpinPage(nodeID)
	return true, nil
}

// mergeChildren merges parent's child[slot+1] into child[slot] and
// removes the separator between them.
func (t *BTree) mergeChildren(parentID PageID, slot int) error {
	parentPage, err := t.pager.GetPage(parentID)
	if err != nil {
		return err
	}
	pn := wrapNode(parentPage)
	leftID := pn.internalChild(slot)
	rightID := pn.internalChild(slot + 1)
	t.pager.UnpinPage(parentID)

	leftPage, err := t.pager.GetPage(leftID)
	if err != nil {
		return err
	}
	left := wrapNode(leftPage)
	rightPage, err := t.pager.GetPage(rightID)
	if err != nil {
		t.pager.UnpinPage(leftID)
		return err
	}
	right := wrapNode(rightPage)

	if err := t.pager.MarkDirty(leftID); err != nil {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(rightID)
		return err
	}
	if err := t.pager.MarkDirty(parentID); err != nil {
		t.pager.UnpinPage(leftID)
		t.pager.UnpinPage(rightID)
		return err
	}

	var reparentChildren []PageID
	if left.kind() == nodeLeaf {
		for i := 0; i < right.cellCount(); i++ {
			left.leafInsertAt(left.cellCount(), right.leafKey(i), right.leafVal(i))
		}
		left.setSibling(right.sibling())
	} else {
		parentPage2, err := t.pager.GetPage(parentID)
		if err != nil {
			t.pager.UnpinPage(leftID)
			t.pager.UnpinPage(rightID)
			return err
		}
		downSep := wrapNode(parentPage2).internalSep(slot)
		t.pager.UnpinPage(parentID)

		firstRightChild := right.internalChild(0)
		left.internalInsertAt(left.cellCount(), downSep, firstRightChild)
		reparentChildren = append(reparentChildren, firstRightChild)
		for i := 0; i < right.cellCount(); i++ {
			c := right.internalChild(i + 1)
			left.internalInsertAt(left.cellCount(), right.internalSep(i), c)
			reparentChildren = append(reparentChildren, c)
		}
	}

	t.pager.UnpinPage(leftID)
	t.pager.UnpinPage(rightID)

	for _, c := range reparentChildren {
		if err := t.reparent(c, leftID); err != nil {
			return err
		}
	}

	parentPage3, err := t.pager.GetPage(parentID)
	if err != nil {
		return err
	}
	wrapNode(parentPage3).internalRemoveAt(slot)
	t.pager.UnpinPage(parentID)
	return nil
}

// maybeCollapseRoot shrinks the tree height when an internal root is
// left with exactly one child.
func (t *BTree) maybeCollapseRoot() error {
	page, err := t.pager.GetPage(t.root)
	if err != nil {
		return err
	}
	n := wrapNode(page)
	if n.kind() != nodeInternal || n.cellCount() != 0 {
		t.pager.UnpinPage(t.root)
		return nil
	}
	onlyChild := n.internalChild(0)
	t.pager.UnpinPage(t.root)

	if err := t.reparent(onlyChild, InvalidPageID); err != nil {
		return err
	}
	t.root = onlyChild
	return nil
}

// ScanRange walks leaves left to right over [start, end], invoking fn
// for every cell in range. fn returning an error stops the scan.
func (t *BTree) ScanRange(start, end int32, fn func(key int32, value uint32) error) error {
	leafID, err := t.findLeaf(start)
	if err != nil {
		return err
	}
	for leafID != InvalidPageID {
		page, err := t.pager.GetPage(leafID)
		if err != nil {
			return err
		}
		n := wrapNode(page)
		cc := n.cellCount()
		var stop bool
		for i := 0; i < cc; i++ {
			k := n.leafKey(i)
			if k < start {
				continue
			}
			if k > end {
				stop = true
				break
			}
			if err := fn(k, n.leafVal(i)); err != nil {
				t.pager.UnpinPage(leafID)
				return err
			}
		}
		next := n.sibling()
		t.pager.UnpinPage(leafID)
		if stop {
			return nil
		}
		leafID = next
	}
	return nil
}
