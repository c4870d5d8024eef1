package pager

import (
	"encoding/binary"

	"github.com/flint-db/flintdb/internal/dberr"
)

// Header occupies page 1 of every flintdb file. Its layout is fixed;
// unused bytes between the last field and the CRC trailer are zeroed.
type Header struct {
	Magic            uint32
	FormatVersion    uint32
	PageSize         uint32
	PageHighWater    uint32 // one past the highest page ever allocated
	CatalogRoot      PageID // root of the catalog B+Tree
	AuxRoot          PageID // reserved for future auxiliary structures
	WALValid         uint8  // non-zero: a transaction was in flight when last closed
	LastCommittedTxn uint64
}

const (
	headerMagic   = 0x464c4e54 // "FLNT"
	headerVersion = 1

	offMagic            = 0
	offFormatVersion    = 4
	offPageSize         = 8
	offPageHighWater    = 12
	offCatalogRoot      = 16
	offAuxRoot          = 20
	offWALValid         = 24
	offLastCommittedTxn = 25
	headerFieldsEnd     = 33
)

// NewHeader returns the header for a freshly created database file.
// Page 1 is the header itself; page 2 is reserved for the catalog root,
// allocated immediately after.
func NewHeader() *Header {
	return &Header{
		Magic:         headerMagic,
		FormatVersion: headerVersion,
		PageSize:      PageSize,
		PageHighWater: 2,
	}
}

// Marshal writes h into a fresh, CRC-stamped page.
func (h *Header) Marshal() *Page {
	p := NewPage(HeaderPageID)
	b := p.Buf
	binary.LittleEndian.PutUint32(b[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(b[offFormatVersion:], h.FormatVersion)
	binary.LittleEndian.PutUint32(b[offPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(b[offPageHighWater:], h.PageHighWater)
	binary.LittleEndian.PutUint32(b[offCatalogRoot:], uint32(h.CatalogRoot))
	binary.LittleEndian.PutUint32(b[offAuxRoot:], uint32(h.AuxRoot))
	b[offWALValid] = h.WALValid
	binary.LittleEndian.PutUint64(b[offLastCommittedTxn:], h.LastCommittedTxn)
	p.SetCRC()
	return p
}

// UnmarshalHeader validates and decodes a header page.
func UnmarshalHeader(p *Page) (*Header, error) {
	if err := p.VerifyCRC(); err != nil {
		return nil, err
	}
	b := p.Buf
	h := &Header{
		Magic:            binary.LittleEndian.Uint32(b[offMagic:]),
		FormatVersion:    binary.LittleEndian.Uint32(b[offFormatVersion:]),
		PageSize:         binary.LittleEndian.Uint32(b[offPageSize:]),
		PageHighWater:    binary.LittleEndian.Uint32(b[offPageHighWater:]),
		CatalogRoot:      PageID(binary.LittleEndian.Uint32(b[offCatalogRoot:])),
		AuxRoot:          PageID(binary.LittleEndian.Uint32(b[offAuxRoot:])),
		WALValid:         b[offWALValid],
		LastCommittedTxn: binary.LittleEndian.Uint64(b[offLastCommittedTxn:]),
	}
	if h.Magic != headerMagic {
		return nil, dberr.CorruptionError("bad database magic", nil)
	}
	if h.FormatVersion != headerVersion {
		return nil, dberr.CorruptionError("unsupported format version", nil)
	}
	if h.PageSize != PageSize {
		return nil, dberr.CorruptionError("unsupported page size", nil)
	}
	return h, nil
}
