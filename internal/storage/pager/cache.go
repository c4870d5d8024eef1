package pager

import (
	"github.com/flint-db/flintdb/internal/dberr"
)

// frame is one resident page plus its cache bookkeeping. Pinned frames
// are never evicted; dirty frames must be flushed before eviction.
type frame struct {
	page   *Page
	pinned int
	dirty  bool

	prev, next *frame
}

// Cache is a fixed-capacity LRU page cache. It never evicts a pinned
// page, and every dirty page must be flushed (or aborted away) before
// the cache forgets it.
type Cache struct {
	capacity int
	frames   map[PageID]*frame
	head     *frame // most recently used
	tail     *frame // least recently used

	// firstDirty is called once per page the first time MarkDirty is
	// invoked on it within the current transaction, letting the pager
	// capture the pre-image to the undo log before any mutation lands.
	firstDirty func(p *Page) error
}

func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{capacity: capacity, frames: make(map[PageID]*frame, capacity)}
}

func (c *Cache) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		c.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		c.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (c *Cache) pushFront(f *frame) {
	f.prev = nil
	f.next = c.head
	if c.head != nil {
		c.head.prev = f
	}
	c.head = f
	if c.tail == nil {
		c.tail = f
	}
}

func (c *Cache) touch(f *frame) {
	if c.head == f {
		return
	}
	c.unlink(f)
	c.pushFront(f)
}

// Lookup returns a resident page without affecting pin count, or nil if
// the page is not cached.
func (c *Cache) Lookup(id PageID) *Page {
	f, ok := c.frames[id]
	if !ok {
		return nil
	}
	c.touch(f)
	return f.page
}

// Insert adds a freshly-loaded page to the cache, pinned once, evicting
// an unpinned, clean victim first if the cache is full. Returns
// ResourceError if every resident frame is pinned or dirty.
func (c *Cache) Insert(p *Page) error {
	if len(c.frames) >= c.capacity {
		if err := c.evictOne(); err != nil {
			return err
		}
	}
	f := &frame{page: p, pinned: 1}
	c.frames[p.ID] = f
	c.pushFront(f)
	return nil
}

func (c *Cache) evictOne() error {
	for f := c.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			c.unlink(f)
			delete(c.frames, f.page.ID)
			return nil
		}
	}
	return dberr.ResourceError("page cache exhausted: all frames pinned or dirty")
}

// Pin increments the pin count of a resident page.
func (c *Cache) Pin(id PageID) {
	if f, ok := c.frames[id]; ok {
		f.pinned++
		c.touch(f)
	}
}

// Unpin decrements the pin count of a resident page. Unpinning a page
// that is not pinned is a caller bug and is ignored rather than
// corrupting the count.
func (c *Cache) Unpin(id PageID) {
	if f, ok := c.frames[id]; ok && f.pinned > 0 {
		f.pinned--
	}
}

// MarkDirty flags a resident, pinned page dirty. The first time a given
// page is dirtied, firstDirty is invoked with the page's current
// (pre-mutation) image so the caller can append it to the undo log.
func (c *Cache) MarkDirty(id PageID) error {
	f, ok := c.frames[id]
	if !ok {
		return dberr.ResourceError("mark_dirty on non-resident page")
	}
	if f.pinned == 0 {
		return dberr.ResourceError("mark_dirty on unpinned page")
	}
	if !f.dirty {
		if c.firstDirty != nil {
			if err := c.firstDirty(f.page); err != nil {
				return err
			}
		}
		f.dirty = true
	}
	return nil
}

// DirtyPages returns every currently-dirty resident page, in no
// particular order, for flush-on-commit.
func (c *Cache) DirtyPages() []*Page {
	var out []*Page
	for _, f := range c.frames {
		if f.dirty {
			out = append(out, f.page)
		}
	}
	return out
}

// ClearDirty marks a page clean after it has been written back. It
// leaves the page resident; Evict is what drops a copy after an abort.
func (c *Cache) ClearDirty(id PageID) {
	if f, ok := c.frames[id]; ok {
		f.dirty = false
	}
}

// Evict forcibly drops a resident page regardless of pin/dirty state,
// used during abort to discard in-memory images that no longer match
// the restored on-disk page.
func (c *Cache) Evict(id PageID) {
	if f, ok := c.frames[id]; ok {
		c.unlink(f)
		delete(c.frames, id)
	}
}

// AllPinned reports whether every resident frame is currently pinned —
// the out-of-handles condition a caller imbalance produces.
func (c *Cache) AllPinned() bool {
	if len(c.frames) < c.capacity {
		return false
	}
	for _, f := range c.frames {
		if f.pinned == 0 {
			return false
		}
	}
	return true
}
