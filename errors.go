// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmpipe

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a non-blocking operation cannot proceed
// immediately; for TryReadFrameLength it means no complete frame
// header is available yet.
//
// ErrWouldBlock is a control flow signal, not a failure. This is an
// alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would
// block. Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// ErrParticipantBusy indicates the owner or worker slot of a region is
// already occupied. Returned by AcquireRequester and AcquireResponder.
var ErrParticipantBusy = errors.New("shmpipe: participant slot occupied")

// ErrFrameInProgress indicates ReadFrameLength was called while the
// current frame still has undrained payload bytes. The wrapping error
// message carries the remaining count.
var ErrFrameInProgress = errors.New("shmpipe: frame read in progress")

// ErrBadMagic indicates an attach found the shared region in a state
// other than initializing or ready, typically the tombstone left by a
// closed owner.
var ErrBadMagic = errors.New("shmpipe: shared region has unknown magic")

// ErrAttachTimeout indicates the region creator did not publish
// readiness within the attach polling window.
var ErrAttachTimeout = errors.New("shmpipe: shared region did not complete initialization before timeout")
