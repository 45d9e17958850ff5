// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmpipe

import (
	"code.hybscloud.com/atomix"
)

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill cache line after 8-byte field.
type padShort [64 - 8]byte

// ringState is the index pair of one SPSC byte ring, laid out in the
// shared region. atomix.Uint64 is exactly 8 bytes, so the struct has a
// fixed 128-byte layout that both processes agree on.
//
// head is written only by the consumer, tail only by the producer.
// Indices are monotonic; the byte area is addressed as index&mask.
type ringState struct {
	head atomix.Uint64 // Consumer reads from here
	_    padShort
	tail atomix.Uint64 // Producer writes here
	_    padShort
}

// ringProducer is the producer view of one ring.
//
// Based on Lamport's ring buffer with cached index optimization: the
// producer caches the consumer's head, reducing cross-process cache
// line traffic.
//
// Exactly one live producer view per ring is permitted. Constructing
// one is an unchecked assertion by the caller; the requester enforces
// it with the producer mutex, the responder by being single-threaded.
type ringProducer struct {
	st         *ringState
	buf        []byte
	mask       uint64
	cachedHead uint64 // Producer's cached view of head
}

// pushSlice copies as many bytes of src as currently fit and returns
// the count, possibly 0. Wait-free against a concurrent consumer.
func (p *ringProducer) pushSlice(src []byte) int {
	tail := p.st.tail.LoadRelaxed()
	want := uint64(len(src))
	size := p.mask + 1

	free := size - (tail - p.cachedHead)
	if free < want {
		p.cachedHead = p.st.head.LoadAcquire()
		free = size - (tail - p.cachedHead)
	}

	n := min(want, free)
	if n == 0 {
		return 0
	}

	idx := tail & p.mask
	first := min(size-idx, n)
	copy(p.buf[idx:idx+first], src[:first])
	copy(p.buf[:n-first], src[first:n])

	p.st.tail.StoreRelease(tail + n)
	return int(n)
}

// ringConsumer is the consumer view of one ring. Same exclusivity
// contract as ringProducer; on the owner side the ticket hand-off
// guarantees a single live consumer at a time.
type ringConsumer struct {
	st         *ringState
	buf        []byte
	mask       uint64
	cachedTail uint64 // Consumer's cached view of tail
}

// popSlice copies up to len(dst) available bytes into dst and returns
// the count, possibly 0. Wait-free against a concurrent producer.
func (c *ringConsumer) popSlice(dst []byte) int {
	head := c.st.head.LoadRelaxed()
	want := uint64(len(dst))
	size := c.mask + 1

	avail := c.cachedTail - head
	if avail < want {
		c.cachedTail = c.st.tail.LoadAcquire()
		avail = c.cachedTail - head
	}

	n := min(want, avail)
	if n == 0 {
		return 0
	}

	idx := head & c.mask
	first := min(size-idx, n)
	copy(dst[:first], c.buf[idx:idx+first])
	copy(dst[first:n], c.buf[:n-first])

	c.st.head.StoreRelease(head + n)
	return int(n)
}
