// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// eventfdSemaphore is a counting cross-process wakeup object backed by
// a semaphore-mode eventfd. post increments the counter and wakes one
// waiter; wait blocks until the counter is positive and decrements it
// by one.
//
// The descriptor is created without close-on-exec: the worker child
// inherits it across fork/exec, so the same descriptor number is valid
// in both processes.
type eventfdSemaphore struct {
	fd int32
}

func newEventfdSemaphore() (eventfdSemaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE)
	if err != nil {
		return eventfdSemaphore{fd: -1}, fmt.Errorf("shmpipe: eventfd: %w", err)
	}
	return eventfdSemaphore{fd: int32(fd)}, nil
}

// semaphoreFromFD wraps an inherited descriptor. Used by the side that
// did not create the eventfds and reads them from the shared header.
func semaphoreFromFD(fd int32) eventfdSemaphore {
	return eventfdSemaphore{fd: fd}
}

// post increments the counter by one. A failing post means the
// descriptor is gone, which is fatal for the pipe; the peer observes
// it through the region tombstone.
func (s eventfdSemaphore) post() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(int(s.fd), buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("shmpipe: semaphore post on fd %d: %v", s.fd, err))
		}
		return
	}
}

// wait blocks until the counter is positive, then decrements it.
func (s eventfdSemaphore) wait() {
	var buf [8]byte
	for {
		_, err := unix.Read(int(s.fd), buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("shmpipe: semaphore wait on fd %d: %v", s.fd, err))
		}
		return
	}
}

func (s eventfdSemaphore) close() error {
	return unix.Close(int(s.fd))
}
