// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"go.uber.org/zap"
)

// stallPollIterations is the number of failed ring polls after which a
// receive loop reports a stalled peer. With the response semaphore in
// use the owner polls only after the worker has posted, so the
// owner-side report can fire only while a reply larger than the
// from-worker ring is still being written.
const stallPollIterations = 100_000

// Stats is a snapshot of wakeup activity on one side of the pipe.
type Stats struct {
	// Wakeups is the number of semaphore posts issued to the peer.
	Wakeups uint64
}

// Requester is the owner-side handle. Any number of goroutines may
// call RequestResponse concurrently; responses are delivered strictly
// in request-issue order.
//
// Two mutexes cover disjoint concerns. The producer mutex assigns the
// ticket and serializes writes to the to-worker ring, so ticket order
// equals send order equals the worker's process order. The consumer
// mutex guards the wait queue; exclusive use of the from-worker
// consumer end follows from ticket order alone.
type Requester struct {
	region *Region

	producer sync.Mutex
	ticket   uint32 // next ticket to assign, under producer

	consumer sync.Mutex
	waiting  unparkInOrder

	next atomic.Uint32 // next ticket to be served a response

	notifyWorker eventfdSemaphore
	notifyOwner  eventfdSemaphore

	wakeups atomix.Uint64
	log     *zap.Logger
}

// AcquireRequester claims the owner participant slot and returns the
// requester handle. At most one requester exists per region; a second
// call returns ErrParticipantBusy.
func (r *Region) AcquireRequester() (*Requester, error) {
	if !r.owner {
		panic("shmpipe: AcquireRequester requires the owner handle")
	}
	pid := uint32(os.Getpid())
	if !r.raw.participants[0].CompareAndSwap(0, pid) {
		return nil, fmt.Errorf("%w: owner slot held by pid %d", ErrParticipantBusy, r.raw.participants[0].Load())
	}
	r.log.Info("acquired requester", zap.String("name", r.name), zap.Uint32("pid", pid))
	return &Requester{
		region:       r,
		notifyWorker: semaphoreFromFD(r.raw.notifyWorker),
		notifyOwner:  semaphoreFromFD(r.raw.notifyOwner),
		log:          r.log,
	}, nil
}

// SharedFDs returns the eventfd descriptors the worker child must
// inherit across fork/exec, in [notify_worker, notify_owner] order.
// One descriptor is not enough for both directions: a single counter
// gets drained by the poster itself when it reads back immediately
// after posting.
func (r *Requester) SharedFDs() [2]int {
	return [2]int{int(r.region.raw.notifyWorker), int(r.region.raw.notifyOwner)}
}

// Stats returns the wakeup counters of this requester.
func (r *Requester) Stats() Stats {
	return Stats{Wakeups: r.wakeups.Load()}
}

// RequestResponse submits req to the worker and fills resp with the
// reply, blocking until done. The reply length is the caller-supplied
// len(resp); responses carry no framing on the wire. Returns the
// ticket assigned to this request.
//
// The call runs to completion or blocks forever against a dead peer;
// supervision and teardown are the caller's concern.
func (r *Requester) RequestResponse(req []byte, resp []byte) uint32 {
	id := r.sendRequest(req)
	r.awaitTurn(id)
	r.recvResponse(id, resp)
	r.finishTurn(id)
	return id
}

// sendRequest frames and enqueues req under the producer mutex and
// returns the assigned ticket.
func (r *Requester) sendRequest(req []byte) uint32 {
	if uint64(len(req)) > math.MaxUint32 {
		panic("shmpipe: request exceeds 4 GiB frame limit")
	}

	r.producer.Lock()

	// The pre-increment value gates the worker's permission to sleep;
	// if it was zero the worker may be sleeping right now and needs
	// one wakeup with this request.
	mightWake := r.region.raw.toWorkerWaiters.Add(1) == 1

	id := r.ticket
	r.ticket++

	p := r.region.toWorkerProducer()

	var frame [8]byte
	binary.LittleEndian.PutUint64(frame[:], uint64(len(req)))

	// Length and payload are committed as two separate completion
	// loops. Batching the pair into one postponed write corrupts the
	// frame header; the worker checks the upper four bytes for that.
	mightWake = r.pushAll(&p, frame[:], mightWake)
	mightWake = r.pushAll(&p, req, mightWake)

	r.producer.Unlock()

	if mightWake {
		r.notifyWorker.post()
		r.wakeups.Add(1)
	}
	return id
}

// pushAll pushes all of buf into the to-worker ring. When the ring is
// full and the worker might still be asleep, it posts the wakeup early
// so the worker starts draining; otherwise the post happens once after
// the producer mutex is released.
func (r *Requester) pushAll(p *ringProducer, buf []byte, mightWake bool) bool {
	sw := spin.Wait{}
	for {
		n := p.pushSlice(buf)
		buf = buf[n:]
		if len(buf) == 0 {
			return mightWake
		}
		if n == 0 {
			if mightWake {
				r.notifyWorker.post()
				r.wakeups.Add(1)
				mightWake = false
			}
		} else {
			sw.Reset()
		}
		sw.Once()
	}
}

// awaitTurn blocks until id is the next ticket to be served. Spurious
// wakes are tolerated; the loop rechecks under the consumer mutex.
func (r *Requester) awaitTurn(id uint32) {
	if r.next.Load() == id {
		return
	}
	r.consumer.Lock()
	// recheck in case it became our turn while taking the mutex
	if r.next.Load() != id {
		w := r.waiting.storeCurrent(id)
		for r.next.Load() != id {
			r.consumer.Unlock()
			w.park()
			r.consumer.Lock()
		}
		if !r.waiting.currentIsFront(id, w) {
			panic("shmpipe: woken out of turn")
		}
		r.waiting.popFront(id, w)
	}
	r.consumer.Unlock()
}

// recvResponse drains exactly len(resp) bytes from the from-worker
// ring. The caller holds the ring-consumer role by ticket order.
func (r *Requester) recvResponse(id uint32, resp []byte) {
	c := r.region.fromWorkerConsumer()

	if r.region.sleepOnResponse {
		// Sleep until the worker posts for this reply: when it is
		// complete, or when it has filled the ring. Costs a few
		// microseconds over pure spinning but keeps cores free when
		// more than one requester goroutine is active.
		r.notifyOwner.wait()
	}

	sw := spin.Wait{}
	read := 0
	polls := 0
	for {
		n := c.popSlice(resp[read:])
		read += n

		if n == 0 {
			polls++
			if polls == stallPollIterations {
				r.log.Warn("response read stalled",
					zap.Uint32("ticket", id),
					zap.Int("read", read),
					zap.Int("want", len(resp)))
			}
		}

		if read == len(resp) {
			return
		}
		if n != 0 {
			sw.Reset()
		}
		sw.Once()
	}
}

// finishTurn hands the consumer role to the next ticket and wakes its
// goroutine if it is already parked.
func (r *Requester) finishTurn(id uint32) {
	prev := r.next.Add(1) - 1
	if prev != id {
		panic(fmt.Sprintf("shmpipe: served ticket %d out of order, expected %d", prev, id))
	}
	r.consumer.Lock()
	r.waiting.unparkFront(prev + 1)
	r.consumer.Unlock()
}
