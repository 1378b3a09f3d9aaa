// Package wire implements the length-prefixed framing used between a sender and
// a receiver: every file is sent as an 8-byte big-endian unsigned length
// followed by exactly that many content bytes. There is no other header, no
// checksum and no delimiter; several files simply repeat the unit back to back.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 8

// DefaultMaxFileSize is the largest frame body a receiver accepts by default.
const DefaultMaxFileSize = 100 * 1024 * 1024

var (
	ErrShortHeader    = errors.New("wire: short length header")
	ErrFrameTruncated = errors.New("wire: frame truncated")
	ErrFileTooLarge   = errors.New("wire: file too large")
)

// Limits constrains how much a reader will accept per frame.
type Limits struct {
	// MaxFileSize is the largest accepted body; 0 means unlimited.
	MaxFileSize uint64
}

// DefaultLimits returns Limits with MaxFileSize set to DefaultMaxFileSize.
func DefaultLimits() Limits {
	return Limits{MaxFileSize: DefaultMaxFileSize}
}

// EncodeHeader returns the length prefix for a body of n bytes.
func EncodeHeader(n uint64) [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.BigEndian.PutUint64(h[:], n)
	return h
}

// WriteHeader writes the length prefix for a body of n bytes to w.
func WriteHeader(w io.Writer, n uint64) error {
	h := EncodeHeader(n)
	if _, err := w.Write(h[:]); err != nil {
		return fmt.Errorf("write length header: %w", err)
	}

	return nil
}

// ReadHeader reads one length prefix from r. It returns io.EOF unchanged when
// the stream ends cleanly before the first header byte, and ErrShortHeader when
// it ends part-way through.
func ReadHeader(r io.Reader) (uint64, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrShortHeader
		}
		return 0, fmt.Errorf("read length header: %w", err)
	}

	return binary.BigEndian.Uint64(h[:]), nil
}

// CheckSize reports ErrFileTooLarge when n exceeds the limit or cannot be
// represented as an int64 byte count.
func (l Limits) CheckSize(n uint64) error {
	if l.MaxFileSize > 0 && n > l.MaxFileSize {
		return fmt.Errorf("%w: %d > %d", ErrFileTooLarge, n, l.MaxFileSize)
	}
	if n > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrFileTooLarge, n)
	}

	return nil
}

// ReadBody copies the n body bytes announced by a header from r into dst.
// Callers check n with Limits.CheckSize first.
//
// Parameters:
//   - r: Source stream positioned just after the length header
//   - n: Body length from ReadHeader
//   - dst: Destination for the body
//
// Returns:
//   - nil once all n bytes were copied
//   - ErrFrameTruncated when the stream ends early, ErrFileTooLarge when n
//     exceeds an int64, or the read or dst write error
func ReadBody(r io.Reader, n uint64, dst io.Writer) error {
	if n > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrFileTooLarge, n)
	}

	copied, err := io.CopyN(dst, r, int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: got %d of %d bytes", ErrFrameTruncated, copied, n)
		}
		return fmt.Errorf("read frame body: %w", err)
	}

	return nil
}
