// pool.go: Buffer pooling for cryptographic operations.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"sync"
)

var (
	// smallBufferPool serves AEAD nonces (12-24 bytes) and symmetric keys
	// (up to 32 bytes).
	smallBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 32)
			return &buf
		},
	}

	// chunkBufferPool serves packet payload and streaming chunk scratch
	// space.
	chunkBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 4*1024)
			return &buf
		},
	}
)

// getBuffer retrieves a pooled buffer of at least the requested size. Very
// large requests are allocated directly and never pooled.
func getBuffer(size int) *[]byte {
	switch {
	case size <= 32:
		buf := smallBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	case size <= 4*1024:
		buf := chunkBufferPool.Get().(*[]byte)
		*buf = (*buf)[:size]
		return buf
	default:
		buf := make([]byte, size)
		return &buf
	}
}

// putBuffer zeroes and returns a buffer to its pool. Buffers that did not
// come from a pool are left for the garbage collector.
func putBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	if len(*buf) > 0 {
		Zeroize(*buf)
	}
	switch cap(*buf) {
	case 32:
		smallBufferPool.Put(buf)
	case 4 * 1024:
		chunkBufferPool.Put(buf)
	}
}
