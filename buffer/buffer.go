// Package buffer implements the fixed-capacity byte region that is the only
// value type passed between filters (spec §3/§4.2): a byte slice with a
// fill cursor `used` such that 0 <= used <= cap. Filters always write at
// `used` and consumers read from [0, used) - there is deliberately no
// mid-buffer insertion.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package buffer

import "github.com/dwsteele/pgbackrest-core/cmn"

// Buffer is an owned byte region with capacity `size` and a fill cursor
// `used`.
type Buffer struct {
	data []byte // len(data) == size, cap(data) == size
	used int
}

// New allocates a Buffer with the given capacity and zero `used`.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// WithContent builds a Buffer whose content is a copy of b and whose `used`
// equals len(b); capacity equals len(b) as well.
func WithContent(b []byte) *Buffer {
	buf := &Buffer{data: make([]byte, len(b))}
	copy(buf.data, b)
	buf.used = len(b)
	return buf
}

// Size is the buffer's total capacity.
func (b *Buffer) Size() int { return len(b.data) }

// Used is the number of valid bytes currently held, [0, used).
func (b *Buffer) Used() int { return b.used }

// Remains is the writable tail length, size - used.
func (b *Buffer) Remains() int { return len(b.data) - b.used }

// Bytes returns the valid content view [0, used). Callers must not retain
// it past the next mutating call on b.
func (b *Buffer) Bytes() []byte { return b.data[:b.used] }

// Tail returns the writable tail view [used, size) of length Remains().
// Filters write into this view and then call Advance to commit the bytes.
func (b *Buffer) Tail() []byte { return b.data[b.used:] }

// Advance commits n freshly-written tail bytes, moving `used` forward. n
// must not exceed Remains().
func (b *Buffer) Advance(n int) {
	cmn.AssertMsg(n >= 0 && b.used+n <= len(b.data), "buffer advance %d overflows remains %d", n, b.Remains())
	b.used += n
}

// Append copies src into the tail and advances used by len(src). src must
// fit in Remains().
func (b *Buffer) Append(src []byte) {
	cmn.AssertMsg(len(src) <= b.Remains(), "buffer append %d exceeds remains %d", len(src), b.Remains())
	n := copy(b.Tail(), src)
	b.Advance(n)
}

// ClearUsed resets the fill cursor to zero without touching capacity or
// content - the buffer is logically empty again and ready for reuse.
func (b *Buffer) ClearUsed() { b.used = 0 }

// DropFront removes the first n bytes of content, shifting any remainder
// down to index 0. Used by consumers (IoRead draining a FilterGroup's tail
// buffer into a caller-sized out buffer) that only take part of what a
// buffer holds and need the rest to stay put for the next call.
func (b *Buffer) DropFront(n int) {
	cmn.AssertMsg(n >= 0 && n <= b.used, "buffer DropFront %d exceeds used %d", n, b.used)
	copy(b.data, b.data[n:b.used])
	b.used -= n
}

// Resize grows or shrinks the underlying capacity, preserving existing
// content up to min(used, newSize). If the new size truncates content,
// `used` is clamped down to match.
func (b *Buffer) Resize(newSize int) {
	grown := make([]byte, newSize)
	n := copy(grown, b.data[:b.used])
	b.data = grown
	if b.used > n {
		b.used = n
	}
}
