package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/qqcong/replikate/internal/core/domain"
)

// Framing errors returned by the codec. ErrEndOfSegment and
// ErrCorruptRecord mark where a crashed writer left a partial tail;
// callers stop decoding a file at the first occurrence.
var (
	ErrBadMagic      = errors.New("segment file magic mismatch")
	ErrBadVersion    = errors.New("unsupported segment format version")
	ErrEndOfSegment  = errors.New("end of segment before a full record header")
	ErrCorruptRecord = errors.New("corrupt record framing")
)

// All multi-byte integers on disk are big-endian.
//
// File header (25 bytes):
//
//	magic[4] | version u16 | fileType u8 | maxSize u32 | logNumber u64 | reserved[6]
//
// Record header (17 bytes):
//
//	length u32 | type u8 | recordId u64 | reserved[4]

// encodeFileHeader renders a file header into its 25 byte on-disk form.
func encodeFileHeader(header domain.FileHeader) []byte {
	buf := make([]byte, domain.FileHeaderSize)
	copy(buf[0:4], domain.Magic[:])
	binary.BigEndian.PutUint16(buf[4:6], header.Version)
	buf[6] = byte(header.Type)
	binary.BigEndian.PutUint32(buf[7:11], header.MaxLogFileSize)
	binary.BigEndian.PutUint64(buf[11:19], header.LogNumber)
	// buf[19:25] reserved, zero
	return buf
}

// decodeFileHeader parses and validates a 25 byte file header.
func decodeFileHeader(buf []byte) (domain.FileHeader, error) {
	var header domain.FileHeader

	if len(buf) < domain.FileHeaderSize {
		return header, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(buf))
	}
	if !bytes.Equal(buf[0:4], domain.Magic[:]) {
		return header, ErrBadMagic
	}

	header.Version = binary.BigEndian.Uint16(buf[4:6])
	if header.Version != domain.JournalVersion {
		return header, fmt.Errorf("%w: %d", ErrBadVersion, header.Version)
	}

	header.Type = domain.FileType(buf[6])
	if !header.Type.IsValid() {
		return header, fmt.Errorf("%w: file type %d", ErrCorruptRecord, buf[6])
	}

	header.MaxLogFileSize = binary.BigEndian.Uint32(buf[7:11])
	header.LogNumber = binary.BigEndian.Uint64(buf[11:19])
	return header, nil
}

// appendFrame writes one framed record (header plus payload) into buf.
// The frame length covers the header itself.
func appendFrame(buf *bytes.Buffer, payload []byte, entryType uint8, recordID uint64) {
	var header [domain.RecordHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(domain.RecordHeaderSize+len(payload)))
	header[4] = entryType
	binary.BigEndian.PutUint64(header[5:13], recordID)
	// header[13:17] reserved, zero
	buf.Write(header[:])
	buf.Write(payload)
}

// readFrame decodes the next record from r, where remaining is the number
// of bytes left in the file.
//
// It returns io.EOF when remaining is exactly zero (clean end of segment),
// ErrEndOfSegment when fewer bytes than a record header remain, and
// ErrCorruptRecord when the header's length field is impossible.
func readFrame(r io.Reader, remaining int64) (domain.RecordHeader, []byte, error) {
	var header domain.RecordHeader

	if remaining == 0 {
		return header, nil, io.EOF
	}
	if remaining < domain.RecordHeaderSize {
		return header, nil, ErrEndOfSegment
	}

	var raw [domain.RecordHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return header, nil, fmt.Errorf("reading record header: %w", err)
	}

	header.Length = binary.BigEndian.Uint32(raw[0:4])
	header.Type = raw[4]
	header.RecordID = binary.BigEndian.Uint64(raw[5:13])

	if header.Length < domain.RecordHeaderSize {
		return header, nil, fmt.Errorf("%w: length %d below header size", ErrCorruptRecord, header.Length)
	}
	if int64(header.Length) > remaining {
		return header, nil, fmt.Errorf("%w: length %d overruns file (%d bytes left)", ErrCorruptRecord, header.Length, remaining)
	}

	payload := make([]byte, header.Length-domain.RecordHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return header, nil, fmt.Errorf("reading record payload: %w", err)
	}

	return header, payload, nil
}
