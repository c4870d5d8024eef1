// Package pager implements flintdb's on-disk storage core: fixed-size
// pages, a pinned/dirty page cache, an undo-logging write-ahead log, and
// the B+Tree built on top of them.
//
// Pages are a fixed 4096 bytes. Page 0 is never addressable. Page 1 holds
// the database header (see superblock.go). Every other page is either a
// B+Tree node, a row payload page, or a serialized schema record; nothing
// on the page itself says which — the typed pointer that reaches it
// (a B+Tree root, a B+Tree leaf value, a catalog entry) carries that
// information instead.
package pager

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/flint-db/flintdb/internal/dberr"
)

// PageID identifies a page within a database file. 0 is reserved and
// never allocated.
type PageID uint32

const (
	InvalidPageID PageID = 0
	HeaderPageID  PageID = 1

	// PageSize is fixed for the lifetime of a database file; flintdb
	// does not support variable page sizes.
	PageSize = 4096

	// crcTrailerSize is the width of the trailing CRC32C footer every
	// page carries, regardless of its interpretation above that footer.
	crcTrailerSize = 4
	crcOffset      = PageSize - crcTrailerSize
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Page is one fixed-size buffer read from or destined for the database
// file. Buf is always exactly PageSize bytes.
type Page struct {
	ID  PageID
	Buf []byte
}

// NewPage allocates a zeroed page buffer for the given id.
func NewPage(id PageID) *Page {
	return &Page{ID: id, Buf: make([]byte, PageSize)}
}

// SetCRC stamps the page's trailing CRC32C footer over everything but
// the footer itself.
func (p *Page) SetCRC() {
	binary.LittleEndian.PutUint32(p.Buf[crcOffset:], crc32.Checksum(p.Buf[:crcOffset], crcTable))
}

// VerifyCRC recomputes the checksum and compares it to the stored
// footer, returning a CorruptionError on mismatch.
func (p *Page) VerifyCRC() error {
	want := binary.LittleEndian.Uint32(p.Buf[crcOffset:])
	got := crc32.Checksum(p.Buf[:crcOffset], crcTable)
	if want != got {
		return dberr.CorruptionError("page checksum mismatch", nil)
	}
	return nil
}

// Clone returns a deep copy of the page, used to capture pre-images for
// the undo log before a page is mutated in place.
func (p *Page) Clone() *Page {
	cp := &Page{ID: p.ID, Buf: make([]byte, PageSize)}
	copy(cp.Buf, p.Buf)
	return cp
}
