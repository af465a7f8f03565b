package segment

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/qqcong/replikate/internal/adapters/idgen"
	"github.com/qqcong/replikate/internal/core/domain"
)

func newTestSegment(t *testing.T, maxSize uint32) *Segment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal-0.rpl")
	s, err := Create(path, 0, maxSize, domain.FileTypeDefault)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateWritesHeader(t *testing.T) {
	s := newTestSegment(t, 4096)

	if s.Position() != domain.FileHeaderSize {
		t.Fatalf("cursor at %d, want %d", s.Position(), domain.FileHeaderSize)
	}

	stat, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size() != domain.FileHeaderSize {
		t.Fatalf("fresh segment is %d bytes, want %d", stat.Size(), domain.FileHeaderSize)
	}

	r, err := OpenReader(s.Path())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	header := r.Header()
	if header.Version != domain.JournalVersion || header.Type != domain.FileTypeDefault ||
		header.MaxLogFileSize != 4096 || header.LogNumber != 0 {
		t.Fatalf("unexpected header: %+v", header)
	}
}

func TestAppendAdvancesCursor(t *testing.T) {
	s := newTestSegment(t, 4096)
	ids := idgen.NewSequence(0)

	outcome, appended, err := s.Append([]byte("abc"), 1, ids)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if outcome != AppendSuccess {
		t.Fatalf("outcome %d, want success", outcome)
	}
	if appended.ID != 1 {
		t.Fatalf("record id %d, want 1", appended.ID)
	}
	if appended.Offset != domain.FileHeaderSize {
		t.Fatalf("offset %d, want %d", appended.Offset, domain.FileHeaderSize)
	}

	want := int64(domain.FileHeaderSize + domain.RecordHeaderSize + 3)
	if s.Position() != want {
		t.Fatalf("cursor at %d, want %d", s.Position(), want)
	}
}

func TestAppendOverflowLeavesNoBytes(t *testing.T) {
	// Header (25) plus one 20 byte payload frame (37) fits an 80 byte
	// segment once; the second frame must overflow without writing.
	s := newTestSegment(t, 80)
	ids := idgen.NewSequence(0)
	payload := bytes.Repeat([]byte("x"), 20)

	if outcome, _, err := s.Append(payload, 1, ids); err != nil || outcome != AppendSuccess {
		t.Fatalf("first append: outcome %d err %v", outcome, err)
	}

	outcome, _, err := s.Append(payload, 1, ids)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if outcome != AppendOverflow {
		t.Fatalf("outcome %d, want overflow", outcome)
	}
	if ids.LastRecordID() != 1 {
		t.Fatalf("overflow consumed a record id: last = %d", ids.LastRecordID())
	}

	stat, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size() != 62 {
		t.Fatalf("file is %d bytes after overflow, want 62", stat.Size())
	}
}

func TestAppendFullOverflow(t *testing.T) {
	s := newTestSegment(t, 100)
	ids := idgen.NewSequence(0)

	outcome, _, err := s.Append(bytes.Repeat([]byte("x"), 200), 1, ids)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if outcome != AppendFullOverflow {
		t.Fatalf("outcome %d, want full overflow", outcome)
	}
	if ids.LastRecordID() != 0 {
		t.Fatalf("full overflow consumed a record id: last = %d", ids.LastRecordID())
	}
}

func TestOverflowSegmentFitsExactly(t *testing.T) {
	// An overflow segment sized payload + 42 holds its single record with
	// zero slack.
	payload := bytes.Repeat([]byte("x"), 200)
	maxSize := uint32(len(payload) + domain.OverflowOverheadSize)

	path := filepath.Join(t.TempDir(), "journal-7.rpl")
	s, err := Create(path, 7, maxSize, domain.FileTypeOverflow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	outcome, _, err := s.Append(payload, 1, idgen.NewSequence(0))
	if err != nil || outcome != AppendSuccess {
		t.Fatalf("append: outcome %d err %v", outcome, err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Size() != int64(maxSize) {
		t.Fatalf("overflow segment is %d bytes, want %d", stat.Size(), maxSize)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestSegment(t, 4096)

	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, _, err := s.Append([]byte("x"), 1, idgen.NewSequence(0)); !errors.Is(err, ErrSegmentClosed) {
		t.Fatalf("append after close: %v", err)
	}
}

func TestOpenExistingResumesAtEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal-3.rpl")
	ids := idgen.NewSequence(0)

	s, err := Create(path, 3, 4096, domain.FileTypeDefault)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.Append([]byte("first"), 1, ids); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenExisting(path)
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	defer reopened.Close()

	if reopened.LogNumber() != 3 {
		t.Fatalf("log number %d, want 3", reopened.LogNumber())
	}
	wantPos := int64(domain.FileHeaderSize + domain.RecordHeaderSize + 5)
	if reopened.Position() != wantPos {
		t.Fatalf("cursor at %d, want %d", reopened.Position(), wantPos)
	}

	if _, _, err := reopened.Append([]byte("second"), 1, ids); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
}

func TestReaderIteratesRecords(t *testing.T) {
	s := newTestSegment(t, 4096)
	ids := idgen.NewSequence(10)

	payloads := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range payloads {
		if _, _, err := s.Append(p, 2, ids); err != nil {
			t.Fatalf("append %q: %v", p, err)
		}
	}

	r, err := OpenReader(s.Path())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	for i, want := range payloads {
		header, payload, _, err := r.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if !bytes.Equal(payload, want) {
			t.Fatalf("record %d payload %q, want %q", i, payload, want)
		}
		if header.RecordID != uint64(11+i) {
			t.Fatalf("record %d id %d, want %d", i, header.RecordID, 11+i)
		}
	}

	if _, _, _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("want clean EOF, got %v", err)
	}
}

func TestReaderStopsAtTruncatedTail(t *testing.T) {
	s := newTestSegment(t, 4096)
	ids := idgen.NewSequence(0)

	for i := 0; i < 3; i++ {
		if _, _, err := s.Append([]byte("payload"), 1, ids); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Cut the file in the middle of the third record header.
	frame := int64(domain.RecordHeaderSize + len("payload"))
	cut := int64(domain.FileHeaderSize) + 2*frame + 9
	if err := os.Truncate(s.Path(), cut); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	r, err := OpenReader(s.Path())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	for i := 0; i < 2; i++ {
		if _, _, _, err := r.Next(); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}
	if _, _, _, err := r.Next(); !errors.Is(err, ErrEndOfSegment) {
		t.Fatalf("want ErrEndOfSegment at the cut, got %v", err)
	}
}
