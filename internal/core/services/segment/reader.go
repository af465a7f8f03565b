package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/qqcong/replikate/internal/core/domain"
)

// Reader iterates the records of one segment file front to back. It is
// used by the replayer; the appending Segment never reads.
type Reader struct {
	file    *os.File
	reader  *bufio.Reader
	header  domain.FileHeader
	size    int64
	offset  int64 // file offset of the next record header
}

// OpenReader opens a segment file read-only and validates its header.
// A magic or version mismatch surfaces as ErrBadMagic or ErrBadVersion.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment for read: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("segment stat: %w", err)
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

	return &Reader{
		file:   file,
		reader: bufio.NewReader(file),
		header: header,
		size:   stat.Size(),
		offset: domain.FileHeaderSize,
	}, nil
}

// Next decodes the record at the cursor. It returns io.EOF at a clean end
// of file, ErrEndOfSegment or ErrCorruptRecord at a crashed writer's
// trailing garbage. After either of the latter the remainder of the file
// must not be decoded.
func (r *Reader) Next() (domain.RecordHeader, []byte, int64, error) {
	offset := r.offset
	header, payload, err := readFrame(r.reader, r.size-r.offset)
	if err != nil {
		return header, nil, offset, err
	}

	r.offset += int64(header.Length)
	return header, payload, offset, nil
}

// Header returns the decoded file header.
func (r *Reader) Header() domain.FileHeader {
	return r.header
}

// Size returns the file's total size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
