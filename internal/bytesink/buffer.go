// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bytesink holds an owned byte buffer with an explicit read
// cursor, the Go-native analogue of the PayLoadCont ring-like byte
// deque: bytes are appended at the tail and consumed from a cursor
// that walks toward the tail, with Compact moving unread bytes back
// to the front instead of reallocating.
package bytesink // import "github.com/go-its/alpideraw/internal/bytesink"

// Buffer is an owned, growable byte container with a read cursor.
// It is not safe for concurrent use.
type Buffer struct {
	buf []byte
	pos int // read cursor; unread data is buf[pos:]
}

// NewBuffer returns an empty Buffer with room for at least capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.pos }

// IsEmpty reports whether there is no unread data left.
func (b *Buffer) IsEmpty() bool { return b.Len() == 0 }

// Cap returns the number of bytes that can still be appended without
// reallocating the underlying array.
func (b *Buffer) Cap() int { return cap(b.buf) - len(b.buf) }

// Bytes returns the unread data. The returned slice is invalidated by
// any subsequent mutating call on the Buffer.
func (b *Buffer) Bytes() []byte { return b.buf[b.pos:] }

// End returns the empty slice just past the last written byte, the
// analogue of PayLoadCont::getEnd().
func (b *Buffer) End() []byte { return b.buf[len(b.buf):] }

// Append copies p to the tail of the buffer, growing it if needed.
func (b *Buffer) Append(p []byte) {
	b.EnsureFreeCapacity(len(p))
	b.buf = append(b.buf, p...)
}

// FillZero appends n zero bytes to the tail.
func (b *Buffer) FillZero(n int) {
	b.EnsureFreeCapacity(n)
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
}

// EnsureFreeCapacity grows the backing array, if needed, so that at
// least n more bytes can be appended without another allocation.
func (b *Buffer) EnsureFreeCapacity(n int) {
	if b.Cap() >= n {
		return
	}
	nb := make([]byte, len(b.buf), len(b.buf)+n+cap(b.buf))
	copy(nb, b.buf)
	b.buf = nb
}

// Advance moves the read cursor forward by n bytes.
func (b *Buffer) Advance(n int) { b.pos += n }

// Compact moves the unread tail to the front of the backing array and
// resets the cursor, the analogue of PayLoadCont::moveUnusedToHead.
func (b *Buffer) Compact() {
	if b.pos == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.pos:])
	b.buf = b.buf[:n]
	b.pos = 0
}

// Clear discards all data and resets the cursor.
func (b *Buffer) Clear() {
	b.buf = b.buf[:0]
	b.pos = 0
}

// ShrinkTo truncates the buffer back to n unread-plus-read bytes,
// pulling the read cursor back if it would fall past the new end.
func (b *Buffer) ShrinkTo(n int) {
	if n < len(b.buf) {
		b.buf = b.buf[:n]
	}
	if b.pos > len(b.buf) {
		b.pos = len(b.buf)
	}
}

// Size returns the total number of bytes ever appended minus those
// dropped by Compact/Clear (i.e. the write-side length).
func (b *Buffer) Size() int { return len(b.buf) }

// Fill appends the output of a reader function, used by callers that
// refill from a blocking byte source: read(p) returns the number of
// bytes copied into p, with 0 signaling no more data available right
// now.
func (b *Buffer) Fill(read func(p []byte) int) int {
	const chunk = 1 << 16
	total := 0
	for {
		b.EnsureFreeCapacity(chunk)
		free := b.buf[len(b.buf):cap(b.buf)]
		n := read(free)
		if n <= 0 {
			return total
		}
		b.buf = b.buf[:len(b.buf)+n]
		total += n
		if n < len(free) {
			return total
		}
	}
}
