// Package buf implements the growable byte buffer the stream engine reads
// into and drains out of.
//
// It supports append-from-reader, drain-to-writer, prefix-consume and
// indexed slicing, with no fixed capacity. Unlike a fixed power-of-two
// frame pool built for a multiplexer, a Stream needs one contiguous,
// arbitrarily growing region per direction, so growth happens at the
// slab level instead of swapping whole buffers.
package buf

import (
	"io"

	"github.com/pkg/errors"
)

// minGrow is the smallest amount of extra capacity allocated when the
// buffer needs more room; mirrors smux's smallest pool bucket.
const minGrow = 4096

// Buf is a growable byte buffer with front-consumption, matching the
// capability set the engine requires of its input/output buffers.
type Buf struct {
	data []byte
	off  int // consumed prefix
}

// New returns an empty buffer.
func New() *Buf {
	return &Buf{}
}

// Len reports the number of unconsumed bytes.
func (b *Buf) Len() int {
	return len(b.data) - b.off
}

// Bytes returns the unconsumed slice. The caller must not retain it across
// a mutating call (ReadFrom, Consume, Append, RemoveRange all may move the
// backing array).
func (b *Buf) Bytes() []byte {
	return b.data[b.off:]
}

// Slice returns buf[lo:hi] of the unconsumed region, for handlers that
// need an indexed slice of already-buffered input (e.g. up to a
// delimiter plus a fixed trailer).
func (b *Buf) Slice(lo, hi int) []byte {
	return b.data[b.off+lo : b.off+hi]
}

// Append adds p to the end of the buffer.
func (b *Buf) Append(p []byte) {
	b.reserve(len(p))
	b.data = append(b.data, p...)
}

// ReadFrom appends data read from r to the buffer and returns the number of
// bytes appended. It performs at most one underlying Read, matching the
// engine's read-once-per-cycle discipline under edge-triggered readiness.
func (b *Buf) ReadFrom(r io.Reader) (int, error) {
	b.reserve(minGrow)
	start := len(b.data)
	b.data = b.data[:cap(b.data)]
	n, err := r.Read(b.data[start:])
	b.data = b.data[:start+n]
	return n, err
}

// WriteTo drains as much of the buffer as w accepts in one call, and
// consumes exactly what was written.
func (b *Buf) WriteTo(w io.Writer) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	n, err := w.Write(b.Bytes())
	if n > 0 {
		b.Consume(n)
	}
	return n, err
}

// Consume removes the first n bytes from the buffer.
func (b *Buf) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > b.Len() {
		panic(errors.Errorf("buf: consume %d exceeds length %d", n, b.Len()))
	}
	b.off += n
}

// RemoveRange drops every unconsumed byte, e.g. to clear the output
// buffer before reporting a fatal write error.
func (b *Buf) RemoveRange() {
	b.data = b.data[:0]
	b.off = 0
}

// reserve makes sure at least n more bytes can be appended without
// repeated small reallocations; also reclaims the consumed prefix.
func (b *Buf) reserve(n int) {
	if b.off > 0 && (cap(b.data)-len(b.data) < n || b.off > len(b.data)/2) {
		b.compact()
	}
	if cap(b.data)-len(b.data) >= n {
		return
	}
	grow := n
	if grow < minGrow {
		grow = minGrow
	}
	newData := make([]byte, len(b.data), len(b.data)+grow)
	copy(newData, b.data)
	b.data = newData
}

// compact slides the unconsumed region to the front of the backing array.
func (b *Buf) compact() {
	if b.off == 0 {
		return
	}
	n := copy(b.data, b.data[b.off:])
	b.data = b.data[:n]
	b.off = 0
}
