package pager

import (
	"encoding/binary"

	"github.com/flint-db/flintdb/internal/dberr"
)

// Value tags for the four sql_value variants flintdb supports. There is
// deliberately no floating point and no boolean type.
const (
	TagNull byte = iota
	TagInt32
	TagText
	TagBlob
)

const (
	MaxColumns = 32
	// RowPageBody is the usable span of a row page: the first 12 bytes
	// are the page header, and the last 4 are the CRC trailer SetCRC
	// stamps over whatever MarshalRow wrote there.
	RowPageBody = PageSize - 12 - crcTrailerSize
)

// Value is one cell of a row: exactly one of the four variants is
// active, discriminated by Tag.
type Value struct {
	Tag  byte
	I32  int32
	Text string
	Blob []byte
}

func NullValue() Value          { return Value{Tag: TagNull} }
func IntValue(v int32) Value    { return Value{Tag: TagInt32, I32: v} }
func TextValue(v string) Value  { return Value{Tag: TagText, Text: v} }
func BlobValue(v []byte) Value  { return Value{Tag: TagBlob, Blob: v} }

// MarshalRow encodes cols into the wire format: uint16 column count,
// then per column a 1-byte tag and a type-specific payload.
func MarshalRow(cols []Value) ([]byte, error) {
	if len(cols) > MaxColumns {
		return nil, dberr.SchemaError("row has more than 32 columns")
	}
	buf := make([]byte, 2, 16)
	binary.LittleEndian.PutUint16(buf, uint16(len(cols)))
	for _, v := range cols {
		buf = append(buf, v.Tag)
		switch v.Tag {
		case TagNull:
		case TagInt32:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(v.I32))
			buf = append(buf, tmp[:]...)
		case TagText:
			buf = appendBlob(buf, []byte(v.Text))
		case TagBlob:
			buf = appendBlob(buf, v.Blob)
		default:
			return nil, dberr.SchemaError("unknown value tag")
		}
	}
	if len(buf) > RowPageBody {
		return nil, dberr.ConstraintError("row exceeds maximum serialized size")
	}
	return buf, nil
}

func appendBlob(buf []byte, data []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(data)))
	buf = append(buf, tmp[:]...)
	return append(buf, data...)
}

// UnmarshalRow decodes a row previously produced by MarshalRow.
func UnmarshalRow(data []byte) ([]Value, error) {
	if len(data) < 2 {
		return nil, dberr.CorruptionError("row too short for column count", nil)
	}
	count := int(binary.LittleEndian.Uint16(data))
	if count > MaxColumns {
		return nil, dberr.CorruptionError("row column count exceeds maximum", nil)
	}
	pos := 2
	cols := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(data) {
			return nil, dberr.CorruptionError("row truncated reading tag", nil)
		}
		tag := data[pos]
		pos++
		switch tag {
		case TagNull:
			cols = append(cols, Value{Tag: TagNull})
		case TagInt32:
			if pos+4 > len(data) {
				return nil, dberr.CorruptionError("row truncated reading int32", nil)
			}
			v := int32(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
			cols = append(cols, Value{Tag: TagInt32, I32: v})
		case TagText:
			b, next, err := readBlob(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			cols = append(cols, Value{Tag: TagText, Text: string(b)})
		case TagBlob:
			b, next, err := readBlob(data, pos)
			if err != nil {
				return nil, err
			}
			pos = next
			cols = append(cols, Value{Tag: TagBlob, Blob: b})
		default:
			return nil, dberr.CorruptionError("unrecognized value tag", nil)
		}
	}
	return cols, nil
}

func readBlob(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, 0, dberr.CorruptionError("row truncated reading blob length", nil)
	}
	n := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, 0, dberr.CorruptionError("row blob length out of bounds", nil)
	}
	b := make([]byte, n)
	copy(b, data[pos:pos+n])
	return b, pos + n, nil
}

// WriteRowPage serializes cols into a fresh row page: first 12 bytes
// reserved (zero), row bytes follow at offset 12.
func WriteRowPage(page *Page, cols []Value) error {
	enc, err := MarshalRow(cols)
	if err != nil {
		return err
	}
	for i := range page.Buf[:12] {
		page.Buf[i] = 0
	}
	copy(page.Buf[12:], enc)
	for i := 12 + len(enc); i < PageSize; i++ {
		page.Buf[i] = 0
	}
	page.SetCRC()
	return nil
}

// ReadRowPage decodes the row stored on page.
func ReadRowPage(page *Page) ([]Value, error) {
	if err := page.VerifyCRC(); err != nil {
		return nil, err
	}
	return UnmarshalRow(page.Buf[12:])
}
