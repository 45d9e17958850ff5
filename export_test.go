// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

// Test hooks. The joined view and the teardown knobs mirror what the
// package itself needs to drive both ends of a pipe from one process
// and to observe a region past its owner's Close.

// RegionMapSize is the page-aligned size of the shared object.
const RegionMapSize = int(regionMapSize)

// AsJoined returns an attached-style view over an owner region so a
// test can acquire the responder in the same process.
func (r *Region) AsJoined() *Region { return r.joined() }

// Magic returns the current readiness word.
func (r *Region) Magic() uint32 { return r.raw.magic.Load() }

// EventFDs returns the region's wakeup descriptors.
func (r *Region) EventFDs() [2]int {
	return [2]int{int(r.raw.notifyWorker), int(r.raw.notifyOwner)}
}

// SetUnmapOnClose overrides unmapping at Close, keeping the mapping
// observable through other views.
func (r *Region) SetUnmapOnClose(v bool) { r.unmapOnClose = v }

// SetCloseSemaphores overrides eventfd closing at Close.
func (r *Region) SetCloseSemaphores(v bool) { r.closeSemaphores = v }

// InjectToWorker writes raw bytes into the to-worker ring, bypassing
// framing, and accounts one outstanding request so the responder will
// not sleep. For corruption and wire-format tests.
func (r *Region) InjectToWorker(b []byte) int {
	p := r.toWorkerProducer()
	r.raw.toWorkerWaiters.Add(1)
	return p.pushSlice(b)
}
