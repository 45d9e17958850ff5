// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"encoding/binary"
	"fmt"
	"os"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"go.uber.org/zap"
)

// Responder is the worker-side handle. It is single-threaded by
// contract: no method may be called concurrently with another.
//
// The worker drains length-prefixed frames from the to-worker ring and
// writes raw response bytes back. Frame state is a (length, remaining)
// pair tracking the request currently being read.
type Responder struct {
	region *Region

	cons ringConsumer // to-worker, consumer end
	prod ringProducer // from-worker, producer end

	notifyWorker eventfdSemaphore
	notifyOwner  eventfdSemaphore

	frameLen  uint32
	remaining uint32
	inFrame   bool

	// staging for a frame header arriving in pieces across
	// TryReadFrameLength calls
	hdr     [8]byte
	hdrRead int

	wakeups atomix.Uint64
	log     *zap.Logger
}

// AcquireResponder claims the worker participant slot and returns the
// responder handle. At most one responder exists per region.
func (r *Region) AcquireResponder() (*Responder, error) {
	if r.owner {
		panic("shmpipe: AcquireResponder requires an attached handle")
	}
	pid := uint32(os.Getpid())
	if !r.raw.participants[1].CompareAndSwap(0, pid) {
		return nil, fmt.Errorf("%w: worker slot held by pid %d", ErrParticipantBusy, r.raw.participants[1].Load())
	}
	r.log.Info("acquired responder", zap.String("name", r.name), zap.Uint32("pid", pid))
	return &Responder{
		region:       r,
		cons:         r.toWorkerConsumer(),
		prod:         r.fromWorkerProducer(),
		notifyWorker: semaphoreFromFD(r.raw.notifyWorker),
		notifyOwner:  semaphoreFromFD(r.raw.notifyOwner),
		log:          r.log,
	}, nil
}

// Stats returns the wakeup counters of this responder.
func (w *Responder) Stats() Stats {
	return Stats{Wakeups: w.wakeups.Load()}
}

// ReadFrameLength reads the next frame header and returns the payload
// length. This is the only point where the worker may go to sleep,
// and only while no request is outstanding. Calling it with a frame
// still in progress returns ErrFrameInProgress carrying the remaining
// byte count.
func (w *Responder) ReadFrameLength() (uint32, error) {
	if w.inFrame {
		return 0, fmt.Errorf("%w: %d bytes remaining", ErrFrameInProgress, w.remaining)
	}
	w.readFrameLen()
	return w.frameLen, nil
}

// TryReadFrameLength is the non-blocking variant of ReadFrameLength.
// It never sleeps and never spins; when no complete header is
// available yet it returns ErrWouldBlock and remembers the bytes read
// so far. A later TryReadFrameLength or ReadFrameLength continues the
// same header.
func (w *Responder) TryReadFrameLength() (uint32, error) {
	if w.inFrame {
		return 0, fmt.Errorf("%w: %d bytes remaining", ErrFrameInProgress, w.remaining)
	}
	w.hdrRead += w.cons.popSlice(w.hdr[w.hdrRead:])
	if w.hdrRead < len(w.hdr) {
		return 0, ErrWouldBlock
	}
	w.commitFrameLen()
	return w.frameLen, nil
}

// readFrameLen drains the rest of the 8-byte header, blocking.
func (w *Responder) readFrameLen() {
	want := len(w.hdr) - w.hdrRead
	n := w.recv(w.hdr[w.hdrRead:], want-1, true)
	if n != want {
		panic(fmt.Sprintf("shmpipe: short frame header read: %d bytes", n))
	}
	w.hdrRead = len(w.hdr)
	w.commitFrameLen()
}

// commitFrameLen validates the staged header and starts the frame.
// The length travels as 64 bits but must fit in 32; non-zero upper
// bytes reliably indicate a batched-writer style corruption of the
// ring and abort the worker.
func (w *Responder) commitFrameLen() {
	if hi := binary.LittleEndian.Uint32(w.hdr[4:]); hi != 0 {
		panic(fmt.Sprintf("shmpipe: corrupt frame length: % x", w.hdr))
	}
	l := binary.LittleEndian.Uint32(w.hdr[:4])
	w.frameLen = l
	w.remaining = l
	w.inFrame = true
	w.hdrRead = 0
}

// Read copies up to len(buf) bytes of the current frame's payload into
// buf. Without a frame in progress it first reads the next frame
// header. Returns the number of bytes copied; the frame is cleared
// once fully drained.
func (w *Responder) Read(buf []byte) int {
	if !w.inFrame {
		w.readFrameLen()
	}
	if len(buf) == 0 {
		return 0
	}

	limit := min(len(buf), int(w.remaining))
	if limit == 0 {
		w.inFrame = false
		return 0
	}

	read := w.recv(buf[:limit], 0, false)
	w.remaining -= uint32(read)
	if w.remaining == 0 {
		w.inFrame = false
	}
	return read
}

// ReadExact drains the remainder of the current frame into buf, which
// must be large enough, and clears the frame. The frame length must
// already be known.
func (w *Responder) ReadExact(buf []byte) int {
	if !w.inFrame {
		panic("shmpipe: ReadExact without a frame in progress")
	}
	remaining := int(w.remaining)
	if remaining > len(buf) {
		panic(fmt.Sprintf("shmpipe: ReadExact buffer holds %d bytes, frame has %d remaining", len(buf), remaining))
	}

	read := w.recv(buf[:remaining], remaining-1, false)
	if read != remaining {
		panic(fmt.Sprintf("shmpipe: ReadExact read %d bytes, frame had %d remaining", read, remaining))
	}
	w.frameLen = 0
	w.remaining = 0
	w.inFrame = false
	return read
}

// recv polls the to-worker ring until more than readMoreThan bytes
// have been copied into buf.
//
// Sleep policy: only the frame-header read passes canWait, and the
// worker blocks on the semaphore only while the outstanding-request
// counter is zero. Once the owner has bumped the counter the worker
// must not block again this call; the single wakeup for a burst may
// already have been consumed.
func (w *Responder) recv(buf []byte, readMoreThan int, canWait bool) int {
	read := 0
	waited := false
	polls := 0
	sw := spin.Wait{}
	for {
		n := w.cons.popSlice(buf[read:])
		read += n

		if n == 0 {
			polls++
			if polls == stallPollIterations {
				w.log.Warn("request read stalled",
					zap.Int("read", read),
					zap.Int("want", len(buf)))
			}
		}

		if read > readMoreThan {
			return read
		}
		if !waited && canWait {
			for w.region.raw.toWorkerWaiters.Load() == 0 {
				w.notifyWorker.wait()
				waited = true
			}
		} else if n != 0 {
			sw.Reset()
		}
		sw.Once()
	}
}

// WriteAll pushes all of buf into the from-worker ring as the response
// to the oldest outstanding request, then signals completion.
//
// The owner is posted exactly once per reply: when the reply is
// complete, or earlier if the ring fills up first, so that a sleeping
// owner starts draining a reply larger than the ring.
//
// Ordering is load-bearing: the semaphore post precedes the waiter
// decrement so an owner sleeping on the response semaphore is woken
// before this request stops being accounted as outstanding.
func (w *Responder) WriteAll(buf []byte) int {
	total := len(buf)
	posted := false
	sw := spin.Wait{}
	for {
		n := w.prod.pushSlice(buf)
		buf = buf[n:]
		if len(buf) == 0 {
			if !posted {
				w.notifyOwner.post()
				w.wakeups.Add(1)
			}
			w.region.raw.toWorkerWaiters.Add(^uint32(0))
			return total
		}
		if n == 0 {
			if !posted {
				w.notifyOwner.post()
				w.wakeups.Add(1)
				posted = true
			}
		} else {
			sw.Reset()
		}
		sw.Once()
	}
}
