// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out byte slices of at least a fixed capacity.
type BytePool struct {
	size int
	p    sync.Pool

	gets   atomic.Int64
	misses atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.p.New = func() any {
		b.misses.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the buffer length handed out by Get.
func (b *BytePool) Size() int { return b.size }

// Get returns a buffer of length Size.
func (b *BytePool) Get() []byte {
	b.gets.Add(1)
	return (*b.p.Get().(*[]byte))[:b.size]
}

// GetEmpty returns a zero-length buffer with capacity of at least Size,
// suitable for append-style encoders.
func (b *BytePool) GetEmpty() []byte {
	return b.Get()[:0]
}

// Put returns a buffer. Buffers smaller than Size, or grown far beyond it,
// are dropped.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) < b.size || cap(buf) > 4*b.size {
		return
	}
	buf = buf[:cap(buf)]
	b.p.Put(&buf)
}

// Stats reports how many buffers were requested and how many had to be
// freshly allocated.
func (b *BytePool) Stats() (gets, allocs int64) {
	return b.gets.Load(), b.misses.Load()
}
