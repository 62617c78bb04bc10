// Package wire provides the cursor-based binary buffer used by the message codec.
//
// The writer appends fixed-width big-endian integers, single-byte booleans,
// length-prefixed strings and presence markers. The reader mirrors each put
// and reports failure through a boolean instead of an error. Once a read has
// failed, every subsequent read fails too, so a decoder may check once per
// field without ever seeing a partially read value.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by Reader.Err after a read ran past the end of
// the buffer or met a malformed size or flag.
var ErrShortBuffer = errors.New("wire: short or malformed buffer")

// Writer appends wire-encoded values to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity for sizeHint bytes.
func NewWriter(sizeHint int) *Writer {
	if sizeHint <= 0 {
		sizeHint = 256
	}
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded bytes. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// PutPresent writes the one-byte marker that precedes an optional section.
func (w *Writer) PutPresent(v bool) { w.PutBool(v) }

func (w *Writer) PutUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutUint16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) PutUint32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) PutUint64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) PutReal32(v float32) { w.PutUint32(math.Float32bits(v)) }

func (w *Writer) PutReal64(v float64) { w.PutUint64(math.Float64bits(v)) }

// PutString writes a uint32 byte count followed by the UTF-8 bytes of s.
func (w *Writer) PutString(s string) {
	w.PutUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// PutBytes writes a uint32 byte count followed by b.
func (w *Writer) PutBytes(b []byte) {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// PutCount writes the element count that precedes an array.
func (w *Writer) PutCount(n int) { w.PutUint32(uint32(n)) }

// Reader decodes values from a byte slice without backtracking.
type Reader struct {
	buf    []byte
	off    int
	failed bool
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Failed reports whether any read has failed.
func (r *Reader) Failed() bool { return r.failed }

// Err returns ErrShortBuffer once a read has failed, nil otherwise.
func (r *Reader) Err() error {
	if r.failed {
		return ErrShortBuffer
	}
	return nil
}

// Fail marks the reader as failed. Decoders call it when a value is
// well-formed on the wire but invalid in context.
func (r *Reader) Fail() { r.failed = true }

func (r *Reader) take(n int) ([]byte, bool) {
	if r.failed || n < 0 || r.Remaining() < n {
		r.failed = true
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

// GetBool reads a single byte that must be 0 or 1.
func (r *Reader) GetBool() (bool, bool) {
	b, ok := r.take(1)
	if !ok {
		return false, false
	}
	switch b[0] {
	case 0:
		return false, true
	case 1:
		return true, true
	}
	r.failed = true
	return false, false
}

// GetPresent reads a presence marker.
func (r *Reader) GetPresent() (bool, bool) { return r.GetBool() }

func (r *Reader) GetUint8() (uint8, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *Reader) GetUint16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (r *Reader) GetUint32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (r *Reader) GetUint64() (uint64, bool) {
	b, ok := r.take(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

func (r *Reader) GetReal32() (float32, bool) {
	v, ok := r.GetUint32()
	return math.Float32frombits(v), ok
}

func (r *Reader) GetReal64() (float64, bool) {
	v, ok := r.GetUint64()
	return math.Float64frombits(v), ok
}

func (r *Reader) GetString() (string, bool) {
	b, ok := r.GetBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// GetBytes reads a length-prefixed byte slice. The result is a copy.
func (r *Reader) GetBytes() ([]byte, bool) {
	n, ok := r.GetUint32()
	if !ok {
		return nil, false
	}
	b, ok := r.take(int(n))
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// GetCount reads an array element count. Every element occupies at least
// one byte, so a count larger than the unread remainder is malformed.
func (r *Reader) GetCount() (int, bool) {
	n, ok := r.GetUint32()
	if !ok {
		return 0, false
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.failed = true
		return 0, false
	}
	return int(n), true
}
