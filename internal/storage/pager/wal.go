package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flint-db/flintdb/internal/dberr"
)

// The WAL is an undo log, not a redo log: every record holds the
// pre-mutation image of a page, captured the first time a transaction
// dirties it. A commit flushes dirty pages to the data file and then
// clears the WAL — the atomic switch point. An abort (explicit, or
// implicit when Pager.Open finds wal_valid set) walks the records
// in reverse, restoring every pre-image, then clears the WAL. Either
// path leaves the WAL truncated to header-only length, which is the
// on-disk signal that no transaction is in flight.
const (
	walMagic      = "FLNTWAL\x00"
	walVersion    = 1
	walFileHdrLen = 16 // magic(8) + version(4) + reserved(4)
	walRecHdrLen  = 21 // txn(8) + page(4) + datalen(4) + crc(4) + type(1)
)

type walRecType uint8

const (
	walRecUndo walRecType = iota
	walRecBegin
	walRecCommit
)

type walRecord struct {
	Type walRecType
	Txn  uint64
	Page PageID
	Data []byte // pre-image, only present for walRecUndo
}

// WAL is the write-ahead log file paired with one database file.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	path string
	log  *logrus.Entry
}

func OpenWAL(path string, log *logrus.Entry) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.IoError("open wal", err)
	}
	w := &WAL{f: f, path: path, log: log}
	fi, err := f.Stat()
	if err != nil {
		return nil, dberr.IoError("stat wal", err)
	}
	if fi.Size() == 0 {
		if err := w.writeFileHeader(); err != nil {
			return nil, err
		}
	} else if err := w.verifyFileHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) writeFileHeader() error {
	buf := make([]byte, walFileHdrLen)
	copy(buf, walMagic)
	binary.LittleEndian.PutUint32(buf[8:], walVersion)
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return dberr.IoError("write wal header", err)
	}
	return w.sync()
}

func (w *WAL) verifyFileHeader() error {
	buf := make([]byte, walFileHdrLen)
	if _, err := io.ReadFull(w.f, buf); err != nil {
		return dberr.CorruptionError("wal header truncated", err)
	}
	if string(buf[:8]) != walMagic {
		return dberr.CorruptionError("bad wal magic", nil)
	}
	return nil
}

// Begin appends a begin marker for txn and fences it: recoverOnOpen
// must be able to trust that a begin marker found on disk actually
// reached disk before any later record in the same transaction.
func (w *WAL) Begin(txn uint64) error {
	if err := w.append(walRecord{Type: walRecBegin, Txn: txn}); err != nil {
		return err
	}
	return w.sync()
}

// AppendUndo records the pre-image of page and fences it before
// returning. The pre-image must be durable before the caller is allowed
// to flush the corresponding data-page image, or a crash between the two
// writes would leave a new page image on disk with no undo record to
// restore it from.
func (w *WAL) AppendUndo(txn uint64, page PageID, preImage []byte) error {
	data := make([]byte, len(preImage))
	copy(data, preImage)
	if err := w.append(walRecord{Type: walRecUndo, Txn: txn, Page: page, Data: data}); err != nil {
		return err
	}
	return w.sync()
}

// Commit appends a commit marker. The caller truncates the WAL only
// after the data file's dirty pages have been durably flushed.
func (w *WAL) Commit(txn uint64) error {
	if err := w.append(walRecord{Type: walRecCommit, Txn: txn}); err != nil {
		return err
	}
	return w.sync()
}

func (w *WAL) append(rec walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, walRecHdrLen+len(rec.Data))
	binary.LittleEndian.PutUint64(buf[0:], rec.Txn)
	binary.LittleEndian.PutUint32(buf[8:], uint32(rec.Page))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(rec.Data)))
	crc := crc32.Checksum(rec.Data, crcTable)
	binary.LittleEndian.PutUint32(buf[16:], crc)
	buf[20] = byte(rec.Type)
	copy(buf[walRecHdrLen:], rec.Data)

	off, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return dberr.IoError("seek wal", err)
	}
	if _, err := w.f.WriteAt(buf, off); err != nil {
		return dberr.IoError("append wal record", err)
	}
	return nil
}

func (w *WAL) sync() error {
	if err := w.f.Sync(); err != nil {
		return dberr.IoError("fsync wal", err)
	}
	return nil
}

// ReadAll returns every well-formed record following the file header,
// stopping silently at the first truncated or corrupt record — the tail
// of a WAL interrupted mid-append during a crash.
func (w *WAL) ReadAll() ([]walRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(walFileHdrLen, io.SeekStart); err != nil {
		return nil, dberr.IoError("seek wal", err)
	}
	var recs []walRecord
	hdr := make([]byte, walRecHdrLen)
	for {
		if _, err := io.ReadFull(w.f, hdr); err != nil {
			break
		}
		txn := binary.LittleEndian.Uint64(hdr[0:])
		page := PageID(binary.LittleEndian.Uint32(hdr[8:]))
		dataLen := binary.LittleEndian.Uint32(hdr[12:])
		wantCRC := binary.LittleEndian.Uint32(hdr[16:])
		typ := walRecType(hdr[20])

		data := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(w.f, data); err != nil {
				break
			}
		}
		if crc32.Checksum(data, crcTable) != wantCRC {
			break
		}
		recs = append(recs, walRecord{Type: typ, Txn: txn, Page: page, Data: data})
	}
	return recs, nil
}

// Truncate resets the WAL to header-only length: the on-disk signal
// that no transaction is in flight.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Truncate(walFileHdrLen); err != nil {
		return dberr.IoError("truncate wal", err)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return dberr.IoError("seek wal", err)
	}
	return w.sync()
}

func (w *WAL) Close() error {
	return w.f.Close()
}

func (w *WAL) String() string {
	return fmt.Sprintf("wal(%s)", w.path)
}
