// Package status holds the widget slots of a status line and composes their
// contents into one bounded line.
//
// Every slot owns a fixed-capacity Buffer and an opaque producer State. The
// Arena hands out stable integer Handles for slots, refreshes them through
// their producers, and guarantees a failed refresh leaves the slot empty. The
// Composer concatenates slot contents with begin, delimiter and end markers
// into a line buffer that never grows past its declared capacity.
package status

import (
	"errors"

	"gitlab.com/tinyland/lab/pulsebar/internal/format"
)

// ErrTruncated is returned by Buffer writes that did not fit completely.
var ErrTruncated = errors.New("status: buffer capacity exceeded")

// Buffer is a bounded byte buffer allocated once at construction.
//
// A buffer of capacity n holds at most n-1 content bytes; the last byte of
// every capacity is reserved for a terminator so capacities match those of
// C-string displays. Writes past the limit store the longest prefix that does
// not split a UTF-8 sequence and report ErrTruncated. A zero-capacity buffer
// discards everything it is given.
type Buffer struct {
	data     []byte
	n        int
	capacity int
}

// NewBuffer allocates a buffer with the given capacity in bytes.
// Negative capacities are treated as zero.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	limit := capacity - 1
	if limit < 0 {
		limit = 0
	}
	return &Buffer{
		data:     make([]byte, limit),
		capacity: capacity,
	}
}

// Cap returns the declared capacity, including the reserved terminator byte.
func (b *Buffer) Cap() int { return b.capacity }

// Limit returns the maximum number of content bytes.
func (b *Buffer) Limit() int { return len(b.data) }

// Len returns the number of content bytes currently held.
func (b *Buffer) Len() int { return b.n }

// Available returns how many more content bytes fit.
func (b *Buffer) Available() int { return len(b.data) - b.n }

// Discards reports whether the buffer has no visible output.
func (b *Buffer) Discards() bool { return b.capacity == 0 }

// Bytes returns the current content. The slice aliases the buffer and is only
// valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// String returns a copy of the current content.
func (b *Buffer) String() string { return string(b.data[:b.n]) }

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() { b.n = 0 }

// Write appends p. It implements io.Writer so producers can use fmt.Fprintf.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.capacity == 0 {
		return len(p), nil
	}
	fit := format.FitBytes(p, b.Available())
	copy(b.data[b.n:], p[:fit])
	b.n += fit
	if fit < len(p) {
		return fit, ErrTruncated
	}
	return fit, nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	if b.capacity == 0 {
		return len(s), nil
	}
	fit := len(format.TruncateBytes(s, b.Available()))
	copy(b.data[b.n:], s[:fit])
	b.n += fit
	if fit < len(s) {
		return fit, ErrTruncated
	}
	return fit, nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) error {
	if b.capacity == 0 {
		return nil
	}
	if b.Available() < 1 {
		return ErrTruncated
	}
	b.data[b.n] = c
	b.n++
	return nil
}

// Set replaces the content with s.
func (b *Buffer) Set(s string) error {
	b.Reset()
	_, err := b.WriteString(s)
	return err
}
