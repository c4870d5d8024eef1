package pager

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flint-db/flintdb/internal/dberr"
)

// Config controls pager construction.
type Config struct {
	CacheCapacity int // pages; defaults to 256 when zero
	Log           *logrus.Logger
}

// Pager is the single entry point onto a flintdb file: page allocation,
// the cache, and the undo-logging transaction lifecycle. It is not safe
// for concurrent use — flintdb is a single-threaded engine by design.
type Pager struct {
	mu sync.Mutex

	file *os.File
	wal  *WAL
	path string

	cache  *Cache
	header *Header

	inTxn       bool
	txnID       uint64
	dirtiedIn   map[PageID]bool // pages already undo-logged this txn
	headerBegin Header          // snapshot of the header at BeginTx, restored on Abort

	log *logrus.Entry
}

// Open opens an existing flintdb file, or creates one if it does not
// exist. On open, if the header's wal_valid flag is set, a crash left a
// transaction in flight and it is rolled back before Open returns.
func Open(path string, cfg Config) (*Pager, error) {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 256
	}
	logger := cfg.Log
	if logger == nil {
		logger = logrus.New()
	}
	entry := logger.WithField("db", path)

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.IoError("open database file", err)
	}

	wal, err := OpenWAL(path+".wal", entry)
	if err != nil {
		f.Close()
		return nil, err
	}

	p := &Pager{
		file:      f,
		wal:       wal,
		path:      path,
		cache:     NewCache(cfg.CacheCapacity),
		dirtiedIn: make(map[PageID]bool),
		log:       entry,
	}
	p.cache.firstDirty = p.captureUndoImage

	if isNew {
		p.header = NewHeader()
		if err := p.writeHeaderRaw(); err != nil {
			return nil, err
		}
	} else {
		hdr, err := p.readHeaderRaw()
		if err != nil {
			return nil, err
		}
		p.header = hdr
		if hdr.WALValid != 0 {
			entry.WithField("txn_id", hdr.LastCommittedTxn+1).Warn("recovering in-flight transaction")
			if err := p.recoverOnOpen(); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inTxn {
		return dberr.ResourceError("close called with transaction in flight")
	}
	if err := p.wal.Close(); err != nil {
		return err
	}
	return p.file.Close()
}

// --- raw, cache-bypassing I/O, used only for the header page and recovery ---

func (p *Pager) readPageRaw(id PageID) (*Page, error) {
	page := NewPage(id)
	off := int64(id) * PageSize
	if _, err := p.file.ReadAt(page.Buf, off); err != nil && err != io.EOF {
		return nil, dberr.IoError("read page", err)
	}
	return page, nil
}

func (p *Pager) writePageRaw(page *Page) error {
	off := int64(page.ID) * PageSize
	if _, err := p.file.WriteAt(page.Buf, off); err != nil {
		return dberr.IoError("write page", err)
	}
	return nil
}

func (p *Pager) readHeaderRaw() (*Header, error) {
	page, err := p.readPageRaw(HeaderPageID)
	if err != nil {
		return nil, err
	}
	return UnmarshalHeader(page)
}

func (p *Pager) writeHeaderRaw() error {
	page := p.header.Marshal()
	if err := p.writePageRaw(page); err != nil {
		return err
	}
	return p.syncFile()
}

func (p *Pager) syncFile() error {
	if err := p.file.Sync(); err != nil {
		return dberr.IoError("fsync database file", err)
	}
	return nil
}

// --- page allocation ---

// AllocatePage grows the file's high-water mark and returns a fresh,
// zeroed, pinned page. The caller must MarkDirty and eventually Unpin
// it like any other page.
func (p *Pager) AllocatePage() (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := PageID(p.header.PageHighWater)
	p.header.PageHighWater++

	page := NewPage(id)
	page.SetCRC()
	if err := p.cache.Insert(page); err != nil {
		return nil, err
	}
	return page, nil
}

// --- cache-mediated page access ---

// GetPage returns a pinned, resident page, loading it from disk on a
// cache miss. Callers must pair every GetPage with an UnpinPage.
func (p *Pager) GetPage(id PageID) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getPageLocked(id)
}

func (p *Pager) getPageLocked(id PageID) (*Page, error) {
	if page := p.cache.Lookup(id); page != nil {
		p.cache.Pin(id)
		return page, nil
	}
	if p.cache.AllPinned() {
		return nil, dberr.ResourceError("page cache exhausted: all frames pinned")
	}
	page, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	if err := page.VerifyCRC(); err != nil {
		return nil, err
	}
	if err := p.cache.Insert(page); err != nil {
		return nil, err
	}
	return page, nil
}

// UnpinPage releases one pin on a resident page.
func (p *Pager) UnpinPage(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Unpin(id)
}

// MarkDirty flags a page dirty within the active transaction, capturing
// its pre-image to the undo log on the first call for that page.
func (p *Pager) MarkDirty(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTxn {
		return dberr.ResourceError("mark_dirty outside a transaction")
	}
	return p.cache.MarkDirty(id)
}

// captureUndoImage is wired as the cache's firstDirty hook: it appends
// the page's current on-disk image to the WAL before the caller's
// mutation can land in the cached copy.
func (p *Pager) captureUndoImage(page *Page) error {
	if p.dirtiedIn[page.ID] {
		return nil
	}
	onDisk, err := p.readPageRaw(page.ID)
	if err != nil {
		return err
	}
	if err := p.wal.AppendUndo(p.txnID, page.ID, onDisk.Buf); err != nil {
		return err
	}
	p.dirtiedIn[page.ID] = true
	return nil
}

// --- transaction lifecycle ---

// BeginTx starts a transaction. Only one may be in flight at a time.
func (p *Pager) BeginTx() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inTxn {
		return dberr.ResourceError("transaction already in progress")
	}
	p.txnID = p.header.LastCommittedTxn + 1
	p.dirtiedIn = make(map[PageID]bool)
	p.headerBegin = *p.header
	if err := p.wal.Begin(p.txnID); err != nil {
		return err
	}
	p.header.WALValid = 1
	if err := p.writeHeaderRaw(); err != nil {
		return err
	}
	p.inTxn = true
	return nil
}

// Commit flushes every dirty page, fences the data file, then clears
// the WAL — the atomic switch point after which no undo information for
// this transaction remains.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTxn {
		return dberr.ResourceError("commit outside a transaction")
	}
	for _, page := range p.cache.DirtyPages() {
		page.SetCRC()
		if err := p.writePageRaw(page); err != nil {
			return err
		}
		p.cache.ClearDirty(page.ID)
	}
	if err := p.syncFile(); err != nil {
		return err
	}
	if err := p.wal.Commit(p.txnID); err != nil {
		return err
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	p.header.LastCommittedTxn = p.txnID
	p.header.WALValid = 0
	if err := p.writeHeaderRaw(); err != nil {
		return err
	}
	p.inTxn = false
	p.log.WithField("txn_id", p.txnID).Debug("transaction committed")
	return nil
}

// Abort restores every page this transaction dirtied to its pre-image,
// by replaying undo records in reverse order, then clears the WAL.
func (p *Pager) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inTxn {
		return dberr.ResourceError("abort outside a transaction")
	}
	if err := p.undoTxn(p.txnID); err != nil {
		return err
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	restored := p.headerBegin
	restored.WALValid = 0
	p.header = &restored
	if err := p.writeHeaderRaw(); err != nil {
		return err
	}
	p.inTxn = false
	p.log.WithField("txn_id", p.txnID).Warn("transaction aborted")
	return nil
}

// undoTxn restores pre-images for txn by walking its undo records in
// reverse, writing straight to disk and dropping any cached copy so the
// next GetPage reloads the restored image.
func (p *Pager) undoTxn(txn uint64) error {
	recs, err := p.wal.ReadAll()
	if err != nil {
		return err
	}
	var undo []walRecord
	for _, r := range recs {
		if r.Type == walRecUndo && r.Txn == txn {
			undo = append(undo, r)
		}
	}
	for i := len(undo) - 1; i >= 0; i-- {
		r := undo[i]
		page := &Page{ID: r.Page, Buf: r.Data}
		if err := p.writePageRaw(page); err != nil {
			return err
		}
		p.cache.Evict(r.Page)
	}
	return p.syncFile()
}

// recoverOnOpen is called when Open finds wal_valid set: the prior
// process died mid-transaction. The only safe action is to treat it as
// an abort, since flintdb's WAL holds undo (not redo) images and there
// is no record of which writes, if any, reached disk before the crash.
func (p *Pager) recoverOnOpen() error {
	recs, err := p.wal.ReadAll()
	if err != nil {
		return err
	}
	var txn uint64
	found := false
	for _, r := range recs {
		if r.Type == walRecBegin {
			txn = r.Txn
			found = true
		}
	}
	if found {
		if err := p.undoTxn(txn); err != nil {
			return err
		}
	}
	if err := p.wal.Truncate(); err != nil {
		return err
	}
	p.header.WALValid = 0
	if err := p.writeHeaderRaw(); err != nil {
		return err
	}
	p.log.WithField("txn_id", txn).Info("recovery complete")
	return nil
}

// Header returns the current in-memory database header. Callers that
// mutate CatalogRoot/AuxRoot must call PersistHeader afterward within
// the active transaction.
func (p *Pager) Header() *Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p.header
	return &cp
}

// PersistHeader records header-level metadata changes (catalog root,
// aux root) in the in-memory header only. It does not write page 1 or
// go through the dirty/WAL path: the next Commit writes the header page
// out, and an Abort restores the snapshot taken at BeginTx.
func (p *Pager) PersistHeader(catalogRoot, auxRoot PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.CatalogRoot = catalogRoot
	p.header.AuxRoot = auxRoot
}
