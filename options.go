// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmpipe

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultAttachPolls        = 1000
	defaultAttachPollInterval = time.Millisecond
)

// Builder configures region creation and attachment with fluent
// options.
//
// Example:
//
//	// Owner side
//	region, err := shmpipe.New("/walredo-4213").
//	    WithLogger(log).
//	    Create()
//
//	// Worker side
//	region, err := shmpipe.New("/walredo-4213").Attach()
type Builder struct {
	name string
	log  *zap.Logger

	sleepOnResponse bool

	attachPolls        int
	attachPollInterval time.Duration
}

// New creates a region builder for the given shared object name. The
// name must be absolute with a single component, e.g. "/walredo-4213".
func New(name string) *Builder {
	return &Builder{
		name:               name,
		log:                zap.NewNop(),
		sleepOnResponse:    true,
		attachPolls:        defaultAttachPolls,
		attachPollInterval: defaultAttachPollInterval,
	}
}

// WithLogger installs a logger for lifecycle events and stall
// telemetry. The default is a no-op logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// SleepOnResponse controls whether a requester goroutine parks on the
// response semaphore before spinning for reply bytes. On by default.
//
// Turning it off trades busier waiting for lower latency; it only
// helps when a single goroutine issues requests.
func (b *Builder) SleepOnResponse(sleep bool) *Builder {
	b.sleepOnResponse = sleep
	return b
}

// AttachPolls sets how many times Attach polls the readiness magic
// before giving up. Default 1000.
func (b *Builder) AttachPolls(n int) *Builder {
	if n < 1 {
		panic("shmpipe: attach polls must be >= 1")
	}
	b.attachPolls = n
	return b
}

// AttachPollInterval sets the pause between readiness polls. Default
// 1ms, bounding the attach wait at about one second.
func (b *Builder) AttachPollInterval(d time.Duration) *Builder {
	if d <= 0 {
		panic("shmpipe: attach poll interval must be positive")
	}
	b.attachPollInterval = d
	return b
}

// Create maps a fresh shared region as the owner and publishes its
// readiness. The previous object under the same name, if any, is
// truncated away.
func (b *Builder) Create() (*Region, error) {
	return createRegion(b)
}

// Attach maps an existing shared region as the worker, waiting for
// the creator to publish readiness.
func (b *Builder) Attach() (*Region, error) {
	return attachRegion(b)
}

// Create is shorthand for New(name).Create().
func Create(name string) (*Region, error) {
	return New(name).Create()
}

// Attach is shorthand for New(name).Attach().
func Attach(name string) (*Region, error) {
	return New(name).Attach()
}
