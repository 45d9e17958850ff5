// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmpipe

import (
	"container/heap"
	"fmt"
)

// waiter is one parked requester goroutine. wake is buffered so an
// unpark that lands before the owner parks is not lost; a stale wake
// only causes a spurious recheck.
type waiter struct {
	ticket uint32
	wake   chan struct{}
	index  int // position in the heap
}

func (w *waiter) park() {
	<-w.wake
}

func (w *waiter) unpark() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// waiterHeap orders waiters by ticket, oldest first. Tickets wrap
// modulo 2^32; the signed difference is valid because no more than
// 2^31 requests are ever in flight (bounded far lower by the ring).
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	return int32(h[i].ticket-h[j].ticket) < 0
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// unparkInOrder is the priority wakeup queue across requester
// goroutines. Tickets are assigned under the producer lock but
// goroutines may arrive here out of order; the heap restores service
// order independent of arrival order. All methods require the
// consumer lock. The heap never holds a waiter whose ticket has
// already been served.
type unparkInOrder struct {
	heap waiterHeap
}

// storeCurrent registers the calling goroutine as waiting for ticket
// and returns its waiter record.
func (u *unparkInOrder) storeCurrent(ticket uint32) *waiter {
	w := &waiter{ticket: ticket, wake: make(chan struct{}, 1)}
	heap.Push(&u.heap, w)
	return w
}

// currentIsFront reports whether w sits at the heap root with the
// expected ticket.
func (u *unparkInOrder) currentIsFront(ticket uint32, w *waiter) bool {
	if len(u.heap) == 0 {
		return false
	}
	front := u.heap[0]
	return front.ticket == ticket && front == w
}

// popFront removes w from the root. It is a bug for any other waiter
// to be in front once w's turn has come.
func (u *unparkInOrder) popFront(ticket uint32, w *waiter) {
	if len(u.heap) == 0 {
		panic("shmpipe: wait queue empty after unpark")
	}
	front := u.heap[0]
	if front != w || front.ticket != ticket {
		panic(fmt.Sprintf("shmpipe: wait queue front has ticket %d, expected %d", front.ticket, ticket))
	}
	heap.Pop(&u.heap)
}

// unparkFront wakes the waiter holding ticket if it sits at the root.
// A miss is not an error: the goroutine whose turn it is may not have
// arrived at the queue yet, and will see its turn without parking.
func (u *unparkInOrder) unparkFront(ticket uint32) {
	if len(u.heap) == 0 {
		return
	}
	if front := u.heap[0]; front.ticket == ticket {
		front.unpark()
	}
}
