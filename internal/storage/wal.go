// Package storage — wal.go
//
// Per-topic append-only log. Each bus topic owns one WAL file; records are
// appended by a single writer goroutine and read back in offset order by
// consumer groups. Grounded on the append-only, hash-verified log pattern
// from the canon-core storelog design, adapted from pipe-delimited
// canonical lines to a length-prefixed binary record with a CRC32C
// checksum, since the bus payload is already JSON and does not need a
// second text-canonicalization pass.
//
// Record layout (little-endian):
//
//	uint32 recordLen   // length of everything that follows except crc
//	uint64 offset
//	int64  timestampUnixNano
//	[]byte eventID (26 bytes, ULID text form)
//	[]byte envelope (JSON, recordLen - 8 - 8 - 26 bytes)
//	uint32 crc32c      // over offset..envelope
//
// Recovery: on Open, scan forward verifying each record's CRC32C. The file
// is truncated at the first bad or partial record — a crash mid-append
// leaves at most one torn record, which is dropped rather than replayed.
package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/hearthcore/hearthcore/internal/corekit"
)

const eventIDLen = 26 // ULID canonical text length

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// WALRecord is one decoded log entry.
type WALRecord struct {
	Offset    uint64
	TimestampUnixNano int64
	EventID   string
	Envelope  []byte
}

// WAL is a single append-only, checksum-verified log file.
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	nextOffset uint64
	pendingFsync int
}

// OpenWAL opens or creates the log at path, replaying existing records to
// recover nextOffset and truncating any torn tail record.
func OpenWAL(path string) (*WAL, []WALRecord, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, corekit.New(corekit.KindSubstrateFailure, "storage.OpenWAL", err)
	}

	records, validLen, err := scanWAL(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, corekit.New(corekit.KindSubstrateFailure, "storage.OpenWAL.scan", err)
	}
	if err := f.Truncate(validLen); err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if _, err := f.Seek(validLen, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	w := &WAL{f: f, w: bufio.NewWriter(f)}
	if len(records) > 0 {
		w.nextOffset = records[len(records)-1].Offset + 1
	}
	return w, records, nil
}

func scanWAL(f *os.File) ([]WALRecord, int64, error) {
	var records []WALRecord
	var validLen int64

	r := bufio.NewReader(f)
	for {
		header := make([]byte, 4)
		n, err := io.ReadFull(r, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			break // torn length prefix, stop here
		}
		recordLen := binary.LittleEndian.Uint32(header)
		body := make([]byte, recordLen)
		if _, err := io.ReadFull(r, body); err != nil {
			break // torn body
		}
		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			break // torn checksum
		}
		wantCRC := binary.LittleEndian.Uint32(crcBuf)
		gotCRC := crc32.Checksum(body, crc32cTable)
		if wantCRC != gotCRC {
			break // corrupted record, truncate here
		}

		offset := binary.LittleEndian.Uint64(body[0:8])
		ts := int64(binary.LittleEndian.Uint64(body[8:16]))
		eventID := string(body[16 : 16+eventIDLen])
		envelope := append([]byte(nil), body[16+eventIDLen:]...)

		records = append(records, WALRecord{
			Offset: offset, TimestampUnixNano: ts, EventID: eventID, Envelope: envelope,
		})
		validLen += int64(4 + recordLen + 4)
	}
	return records, validLen, nil
}

// Append writes one record and reports its assigned offset. The caller
// decides fsync cadence via Flush; Append alone only buffers.
func (w *WAL) Append(eventID string, ts int64, envelope []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := w.nextOffset
	idBytes := make([]byte, eventIDLen)
	copy(idBytes, eventID)

	body := make([]byte, 0, 16+eventIDLen+len(envelope))
	offBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(offBuf, offset)
	body = append(body, offBuf...)
	tsBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBuf, uint64(ts))
	body = append(body, tsBuf...)
	body = append(body, idBytes...)
	body = append(body, envelope...)

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	crc := crc32.Checksum(body, crc32cTable)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)

	if _, err := w.w.Write(lenBuf); err != nil {
		return 0, corekit.New(corekit.KindSubstrateFailure, "storage.WAL.Append", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return 0, corekit.New(corekit.KindSubstrateFailure, "storage.WAL.Append", err)
	}
	if _, err := w.w.Write(crcBuf); err != nil {
		return 0, corekit.New(corekit.KindSubstrateFailure, "storage.WAL.Append", err)
	}

	w.nextOffset++
	w.pendingFsync++
	return offset, nil
}

// Flush flushes buffered writes and fsyncs the file. Called by the flush
// ticker (FAMILY_CORE_FLUSH_INTERVAL_MS) or immediately when the append
// queue drains.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingFsync == 0 {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return corekit.New(corekit.KindSubstrateFailure, "storage.WAL.Flush", err)
	}
	if err := w.f.Sync(); err != nil {
		return corekit.New(corekit.KindSubstrateFailure, "storage.WAL.Flush", err)
	}
	w.pendingFsync = 0
	return nil
}

// NextOffset returns the offset that will be assigned to the next Append.
func (w *WAL) NextOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextOffset
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// ReadFrom re-scans the file from the beginning and returns every record
// with Offset >= from. Used by consumer catch-up and DLQ replay; not
// called on the low-latency publish path.
func (w *WAL) ReadFrom(from uint64) ([]WALRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return nil, err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	records, validLen, err := scanWAL(w.f)
	if err != nil {
		return nil, err
	}
	if _, err := w.f.Seek(validLen, io.SeekStart); err != nil {
		return nil, err
	}
	out := records[:0:0]
	for _, r := range records {
		if r.Offset >= from {
			out = append(out, r)
		}
	}
	return out, nil
}
