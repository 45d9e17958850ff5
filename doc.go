// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmpipe provides a shared-memory request/response pipe
// between two cooperating processes on one host: a multithreaded
// owner issuing requests and a single-threaded worker producing
// replies. It replaces stdin/stdout IPC with a lock-free,
// memory-mapped transport that avoids kernel data copies on the hot
// path.
//
// The pipe is two single-producer single-consumer byte rings in one
// POSIX shared-memory object, plus two semaphore-mode eventfds for
// wakeups. Requests travel length-prefixed; responses travel raw, the
// expected length agreed between owner and worker application code.
//
// # Quick Start
//
// Owner process:
//
//	region, err := shmpipe.Create("/walredo-4213")
//	if err != nil {
//	    // handle
//	}
//	defer region.Close()
//
//	req, err := region.AcquireRequester()
//	if err != nil {
//	    // handle
//	}
//	// launch the worker, keeping req.SharedFDs() open across exec
//
//	resp := make([]byte, 8192)
//	ticket := req.RequestResponse(record, resp)
//	_ = ticket
//
// Worker process:
//
//	region, err := shmpipe.Attach("/walredo-4213")
//	if err != nil {
//	    // handle
//	}
//	defer region.Close()
//
//	w, err := region.AcquireResponder()
//	if err != nil {
//	    // handle
//	}
//	buf := make([]byte, 128<<10)
//	for {
//	    n, err := w.ReadFrameLength()
//	    if err != nil {
//	        // handle
//	    }
//	    w.ReadExact(buf[:n])
//	    w.WriteAll(apply(buf[:n]))
//	}
//
// # Ordering
//
// Any number of owner goroutines may call RequestResponse
// concurrently. A mutex-assigned ticket orders requests at the moment
// they enter the to-worker ring, so ticket order equals send order
// equals the worker's processing order equals reply order. Goroutines
// racing to read replies coordinate through a priority wakeup queue
// keyed on ticket; each gets exactly its own reply.
//
// # Wakeup economy
//
// Semaphore posts are expensive relative to spins, so the owner gates
// them. The worker sleeps only while no request is outstanding; the
// owner posts at most one wakeup per request, when the pipe may have
// been idle at submission. Under burst traffic the to-worker ring
// carries the flow with no worker wakeups at all. The worker posts
// exactly one owner wakeup per reply.
//
// # Failure model
//
// The pipe has exactly two participants and does not survive either
// of them. A crashed worker leaves the owner blocked; a crashed owner
// leaves the worker spinning. Supervision, teardown and removal of
// the shared object name belong to the embedding system. Closing the
// owner region tombstones it so late attachers fail fast.
package shmpipe
