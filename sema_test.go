// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"testing"
	"time"
)

// TestSemaphoreCounting verifies post/wait counting semantics: each
// post admits exactly one wait.
func TestSemaphoreCounting(t *testing.T) {
	s, err := newEventfdSemaphore()
	if err != nil {
		t.Fatalf("newEventfdSemaphore: %v", err)
	}
	defer s.close()

	s.post()
	s.post()
	s.wait()
	s.wait() // both posts consumed without blocking

	done := make(chan struct{})
	go func() {
		s.wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("wait returned on a zero counter")
	case <-time.After(20 * time.Millisecond):
	}

	s.post()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("post did not wake the waiter")
	}
}

// TestSemaphoreWakesOneWaiter verifies one post wakes exactly one of
// several waiters.
func TestSemaphoreWakesOneWaiter(t *testing.T) {
	s, err := newEventfdSemaphore()
	if err != nil {
		t.Fatalf("newEventfdSemaphore: %v", err)
	}
	defer s.close()

	woke := make(chan int, 2)
	for i := range 2 {
		go func(id int) {
			s.wait()
			woke <- id
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	s.post()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("post woke no waiter")
	}
	select {
	case id := <-woke:
		t.Fatalf("post woke a second waiter: %d", id)
	case <-time.After(50 * time.Millisecond):
	}

	s.post() // release the remaining waiter
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("second post woke no waiter")
	}
}
