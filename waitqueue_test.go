// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmpipe

import (
	"testing"
)

func woken(w *waiter) bool {
	select {
	case <-w.wake:
		return true
	default:
		return false
	}
}

// TestWaitQueueOrder verifies the heap serves tickets in issue order
// regardless of arrival order.
func TestWaitQueueOrder(t *testing.T) {
	var u unparkInOrder

	// Arrive out of order: 2 before 1
	w2 := u.storeCurrent(2)
	w1 := u.storeCurrent(1)

	if !u.currentIsFront(1, w1) {
		t.Fatalf("currentIsFront(1): got false, want true")
	}
	if u.currentIsFront(2, w2) {
		t.Fatalf("currentIsFront(2): got true, want false with 1 queued")
	}

	// Unparking 2 is a no-op while 1 holds the front
	u.unparkFront(2)
	if woken(w2) {
		t.Fatalf("unparkFront(2): woke ticket 2 while 1 is in front")
	}

	u.unparkFront(1)
	if !woken(w1) {
		t.Fatalf("unparkFront(1): did not wake ticket 1")
	}

	u.popFront(1, w1)

	u.unparkFront(2)
	if !woken(w2) {
		t.Fatalf("unparkFront(2): did not wake ticket 2 after 1 was popped")
	}
	u.popFront(2, w2)
}

// TestWaitQueueEmpty verifies unparking an empty queue is a no-op: the
// goroutine whose turn it is may not have parked yet.
func TestWaitQueueEmpty(t *testing.T) {
	var u unparkInOrder

	w0 := u.storeCurrent(0)
	if !u.currentIsFront(0, w0) {
		t.Fatalf("currentIsFront(0): got false, want true")
	}
	u.popFront(0, w0)

	u.unparkFront(1) // no front right now

	w2 := u.storeCurrent(2)
	w1 := u.storeCurrent(1)
	if !u.currentIsFront(1, w1) {
		t.Fatalf("currentIsFront(1): got false, want true")
	}
	u.popFront(1, w1)
	u.unparkFront(2)
	if !woken(w2) {
		t.Fatalf("unparkFront(2): did not wake ticket 2")
	}
}

// TestWaitQueuePopOutOfTurn verifies popping a waiter that is not in
// front is a bug, not a silent reorder.
func TestWaitQueuePopOutOfTurn(t *testing.T) {
	var u unparkInOrder
	u.storeCurrent(1)
	w2 := u.storeCurrent(2)

	defer func() {
		if recover() == nil {
			t.Fatalf("popFront(2): expected panic with ticket 1 in front")
		}
	}()
	u.popFront(2, w2)
}

// TestWaitQueueTicketWrap verifies ordering across the 32-bit ticket
// wrap: a pre-wrap ticket is served before a post-wrap one.
func TestWaitQueueTicketWrap(t *testing.T) {
	var u unparkInOrder

	wNew := u.storeCurrent(0) // post-wrap
	wOld := u.storeCurrent(^uint32(0))

	if !u.currentIsFront(^uint32(0), wOld) {
		t.Fatalf("currentIsFront(0xffffffff): got false, want true across wrap")
	}
	u.popFront(^uint32(0), wOld)
	if !u.currentIsFront(0, wNew) {
		t.Fatalf("currentIsFront(0): got false, want true after wrap")
	}
	u.popFront(0, wNew)
}

// TestWaitQueueStaleWake verifies a buffered wake left from an earlier
// unpark does not break a later park/recheck cycle.
func TestWaitQueueStaleWake(t *testing.T) {
	var u unparkInOrder

	w := u.storeCurrent(5)
	u.unparkFront(5)
	u.unparkFront(5) // second signal coalesces into the buffered one

	if !woken(w) {
		t.Fatalf("expected a buffered wake")
	}
	if woken(w) {
		t.Fatalf("wake channel must coalesce to one signal")
	}
	u.popFront(5, w)
}
