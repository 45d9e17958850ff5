// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/shmpipe/internal/shmem"
)

// Ring capacities in bytes. Must be powers of two; indices are masked.
// Requests dominate traffic (a WAL record batch per request), replies
// are a single fixed-size page, hence the asymmetry.
const (
	toWorkerCap   = 128 << 10
	fromWorkerCap = 16 << 10
)

// magic states of a shared region. The only legal transitions are
// initializing -> ready -> tombstone.
const (
	magicInitializing = 0x0000_0000
	magicReady        = 0xcafe_babe
	magicTombstone    = 0xffff_ffff
)

// rawRegion is the fixed layout of the shared record, constructed in
// place over a MAP_SHARED mapping and referenced from both processes
// at their own addresses. Field order matters; the layout is pinned by
// TestRegionLayout.
type rawRegion struct {
	// magic is the readiness state of the whole record, published with
	// sequentially consistent ordering after in-place initialization.
	magic atomic.Uint32

	// notifyWorker and notifyOwner are eventfd descriptors in semaphore
	// mode, created by the owner and inherited by the worker child.
	// notifyWorker wakes the request reader, notifyOwner the response
	// reader. Written once before magic is published, never atomically.
	notifyWorker int32
	notifyOwner  int32

	// participants holds the owner (index 0) and worker (index 1)
	// process ids. Zero means unoccupied; acquisition is by CAS.
	participants [2]atomic.Uint32

	// toWorkerWaiters counts requests in flight towards the worker.
	// While non-zero the worker must not go to sleep.
	toWorkerWaiters atomic.Uint32

	_ [40]byte // pad header to one cache line

	toWorker    ringState
	toWorkerBuf [toWorkerCap]byte

	fromWorker    ringState
	fromWorkerBuf [fromWorkerCap]byte
}

const (
	regionSize = unsafe.Sizeof(rawRegion{})

	// regionMapSize is the page-aligned size of the shared object.
	regionMapSize = (regionSize + 4095) &^ 4095
)

// Region is a process-local handle to a mapped shared region.
//
// Role determines teardown: the owner handle tombstones the magic,
// closes both eventfds and unmaps; a worker handle only unmaps. An
// in-process joined view (see joined) leaves everything to its parent.
type Region struct {
	raw  *rawRegion
	mem  []byte
	name string
	log  *zap.Logger

	owner            bool
	tombstoneOnClose bool
	closeSemaphores  bool
	unmapOnClose     bool

	sleepOnResponse bool
}

// createRegion maps a fresh shared object and initializes the record
// in place. magic is published last, so a concurrent attacher never
// observes a half-built record.
func createRegion(b *Builder) (*Region, error) {
	notifyWorker, err := newEventfdSemaphore()
	if err != nil {
		return nil, err
	}
	notifyOwner, err := newEventfdSemaphore()
	if err != nil {
		notifyWorker.close()
		return nil, err
	}

	fd, err := shmem.Create(b.name, int(regionMapSize))
	if err != nil {
		notifyWorker.close()
		notifyOwner.close()
		return nil, err
	}
	mem, err := shmem.Map(fd, int(regionMapSize))
	unix.Close(fd)
	if err != nil {
		notifyWorker.close()
		notifyOwner.close()
		return nil, err
	}

	raw := (*rawRegion)(unsafe.Pointer(&mem[0]))

	raw.magic.Store(magicInitializing)
	raw.notifyWorker = notifyWorker.fd
	raw.notifyOwner = notifyOwner.fd
	raw.participants[0].Store(0)
	raw.participants[1].Store(0)
	raw.toWorkerWaiters.Store(0)
	raw.toWorker.head.StoreRelaxed(0)
	raw.toWorker.tail.StoreRelaxed(0)
	raw.fromWorker.head.StoreRelaxed(0)
	raw.fromWorker.tail.StoreRelaxed(0)

	raw.magic.Store(magicReady)

	b.log.Info("created shared region",
		zap.String("name", b.name),
		zap.Uint64("size", uint64(regionMapSize)))

	return &Region{
		raw:              raw,
		mem:              mem,
		name:             b.name,
		log:              b.log,
		owner:            true,
		tombstoneOnClose: true,
		closeSemaphores:  true,
		unmapOnClose:     true,
		sleepOnResponse:  b.sleepOnResponse,
	}, nil
}

// attachRegion maps an existing shared object and polls magic until
// the creator has published readiness.
func attachRegion(b *Builder) (*Region, error) {
	fd, err := shmem.Open(b.name, int(regionMapSize))
	if err != nil {
		return nil, err
	}
	mem, err := shmem.Map(fd, int(regionMapSize))
	unix.Close(fd)
	if err != nil {
		return nil, err
	}

	raw := (*rawRegion)(unsafe.Pointer(&mem[0]))

	ready := false
	for range b.attachPolls {
		switch v := raw.magic.Load(); v {
		case magicInitializing:
			time.Sleep(b.attachPollInterval)
		case magicReady:
			ready = true
		default:
			shmem.Unmap(mem)
			return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, v)
		}
		if ready {
			break
		}
	}
	if !ready {
		shmem.Unmap(mem)
		return nil, ErrAttachTimeout
	}

	b.log.Info("attached shared region", zap.String("name", b.name))

	return &Region{
		raw:             raw,
		mem:             mem,
		name:            b.name,
		log:             b.log,
		owner:           false,
		unmapOnClose:    true,
		sleepOnResponse: b.sleepOnResponse,
	}, nil
}

// joined returns an attached-style view over an owner region, for
// driving both ends from a single process. The view must be closed
// before its parent; it neither tombstones nor unmaps nor closes the
// eventfds.
func (r *Region) joined() *Region {
	return &Region{
		raw:             r.raw,
		mem:             r.mem,
		name:            r.name,
		log:             r.log,
		sleepOnResponse: r.sleepOnResponse,
	}
}

// Name returns the shared object name the region was created or
// attached with.
func (r *Region) Name() string { return r.name }

// OwnerPID returns the process id occupying the owner slot, zero if
// unoccupied.
func (r *Region) OwnerPID() uint32 { return r.raw.participants[0].Load() }

// WorkerPID returns the process id occupying the worker slot, zero if
// unoccupied. Supervisors use this to detect a worker that exited
// without handing its requests back.
func (r *Region) WorkerPID() uint32 { return r.raw.participants[1].Load() }

// Close tears the handle down according to its role. Closing the owner
// handle tombstones the region: late attachers fail with ErrBadMagic.
// Only this process's eventfd descriptors are closed; copies a worker
// inherited stay open. Close is not safe to call
// while a Requester or Responder of this handle is in flight.
func (r *Region) Close() error {
	if r.raw == nil {
		return nil
	}

	if r.closeSemaphores {
		semaphoreFromFD(r.raw.notifyWorker).close()
		semaphoreFromFD(r.raw.notifyOwner).close()
	}
	if r.tombstoneOnClose {
		r.raw.magic.Store(magicTombstone)
		r.log.Info("tombstoned shared region", zap.String("name", r.name))
	}

	var err error
	if r.unmapOnClose {
		err = shmem.Unmap(r.mem)
	}
	r.raw = nil
	r.mem = nil
	return err
}

// Unlink removes the named shared object from the system. Regions
// already mapped stay usable; call this after Close when the name is
// no longer wanted. Left-behind names after a crash are cleaned up the
// same way.
func Unlink(name string) error {
	return shmem.Unlink(name)
}

// Ring view constructors. Views are handed out under the exclusivity
// rules of ring.go; the caches start at the current opposite index so
// a view constructed mid-stream computes distances correctly.

func (r *Region) toWorkerProducer() ringProducer {
	st := &r.raw.toWorker
	return ringProducer{st: st, buf: r.raw.toWorkerBuf[:], mask: toWorkerCap - 1, cachedHead: st.head.LoadAcquire()}
}

func (r *Region) toWorkerConsumer() ringConsumer {
	st := &r.raw.toWorker
	return ringConsumer{st: st, buf: r.raw.toWorkerBuf[:], mask: toWorkerCap - 1, cachedTail: st.tail.LoadAcquire()}
}

func (r *Region) fromWorkerProducer() ringProducer {
	st := &r.raw.fromWorker
	return ringProducer{st: st, buf: r.raw.fromWorkerBuf[:], mask: fromWorkerCap - 1, cachedHead: st.head.LoadAcquire()}
}

func (r *Region) fromWorkerConsumer() ringConsumer {
	st := &r.raw.fromWorker
	return ringConsumer{st: st, buf: r.raw.fromWorkerBuf[:], mask: fromWorkerCap - 1, cachedTail: st.tail.LoadAcquire()}
}
