// Package segment owns the on-disk representation of one journal segment
// file: its header, its append cursor and the record framing inside it.
package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/qqcong/replikate/internal/core/domain"
	"github.com/qqcong/replikate/internal/core/ports"
	"github.com/qqcong/replikate/pkg/pool"
)

// ErrSegmentClosed indicates an operation on a closed segment.
var ErrSegmentClosed = errors.New("segment is closed")

// AppendOutcome reports how a segment handled an append attempt.
type AppendOutcome int

const (
	// AppendSuccess means the record was fully written and flushed to the OS.
	AppendSuccess AppendOutcome = iota + 1

	// AppendOverflow means the frame does not fit the remaining space of
	// this segment. No bytes were written.
	AppendOverflow

	// AppendFullOverflow means the frame is larger than the segment's size
	// ceiling altogether and needs a dedicated overflow segment.
	// No bytes were written.
	AppendFullOverflow
)

// AppendedRecord is the identity a successful append assigned on disk.
type AppendedRecord struct {
	ID     uint64
	Offset int64
}

// framePool provides scratch buffers for record framing.
var framePool = pool.NewBufferPool(4096)

// Segment is the exclusive owner of one segment file handle. Appends are
// serialized by a per-segment lock; the engine additionally funnels all
// writes through its directory mutex, so the lock here is defensive.
type Segment struct {
	mu       sync.Mutex // append lock, covers frame-then-write
	file     *os.File
	path     string
	header   domain.FileHeader
	position int64 // always just past the last fully written record
	closed   atomic.Bool
}

// Create creates a fresh segment file, writes its header and syncs it.
// The cursor is positioned at the first record offset. The file is opened
// with O_SYNC so every record write is flushed by the OS before returning.
func Create(path string, logNumber uint64, maxSize uint32, fileType domain.FileType) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_SYNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating segment file: %w", err)
	}

	header := domain.FileHeader{
		Version:        domain.JournalVersion,
		Type:           fileType,
		MaxLogFileSize: maxSize,
		LogNumber:      logNumber,
	}

	if _, err := file.Write(encodeFileHeader(header)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing segment header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("syncing segment header: %w", err)
	}

	return &Segment{
		file:     file,
		path:     path,
		header:   header,
		position: domain.FileHeaderSize,
	}, nil
}

// OpenExisting opens a segment file for appending, parses and validates
// its header and positions the cursor at end of file.
func OpenExisting(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}

	raw := make([]byte, domain.FileHeaderSize)
	if _, err := io.ReadFull(file, raw); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}

	header, err := decodeFileHeader(raw)
	if err != nil {
		file.Close()
		return nil, err
	}

	position, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("seeking segment end: %w", err)
	}

	return &Segment{
		file:     file,
		path:     path,
		header:   header,
		position: position,
	}, nil
}

// Reopened builds a closed handle for a segment that was scanned during
// replay. It keeps the file's identity in the directory without holding
// an open file descriptor; appends to it fail with ErrSegmentClosed.
func Reopened(path string, header domain.FileHeader, size int64) *Segment {
	s := &Segment{path: path, header: header, position: size}
	s.closed.Store(true)
	return s
}

// Append frames one record and writes it at the cursor. The record id is
// drawn from ids only after the frame is known to fit, so rejected frames
// never consume an id here.
func (s *Segment) Append(payload []byte, entryType uint8, ids ports.RecordIDGenerator) (AppendOutcome, AppendedRecord, error) {
	if s.closed.Load() {
		return 0, AppendedRecord{}, ErrSegmentClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	framed := uint32(domain.RecordHeaderSize + len(payload))
	if framed > s.header.MaxLogFileSize {
		return AppendFullOverflow, AppendedRecord{}, nil
	}
	if s.header.MaxLogFileSize < uint32(s.position)+framed {
		return AppendOverflow, AppendedRecord{}, nil
	}

	recordID := ids.NextRecordID()
	offset := s.position

	buf := framePool.Get()
	defer framePool.Put(buf)
	appendFrame(buf, payload, entryType, recordID)

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return 0, AppendedRecord{}, fmt.Errorf("writing record: %w", err)
	}

	s.position += int64(framed)
	return AppendSuccess, AppendedRecord{ID: recordID, Offset: offset}, nil
}

// Close flushes and releases the file handle. It is idempotent.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.file == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("syncing segment: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing segment: %w", err)
	}
	return nil
}

// Remove deletes the segment file from disk. Only used by batch rollback,
// after Close.
func (s *Segment) Remove() error {
	return os.Remove(s.path)
}

// Position returns the current append cursor.
func (s *Segment) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// LogNumber returns the segment's monotonic id.
func (s *Segment) LogNumber() uint64 {
	return s.header.LogNumber
}

// Header returns the decoded file header.
func (s *Segment) Header() domain.FileHeader {
	return s.header
}

// Path returns the segment's file path.
func (s *Segment) Path() string {
	return s.path
}
