// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

// Package shmem wraps the POSIX shared-memory object surface used by
// shmpipe: object creation and opening under /dev/shm, sizing, and
// MAP_SHARED mappings.
//
// Name contract:
// A shared object name is an absolute path with a single component,
// e.g. "/walredo-4213", shorter than 255 bytes. The same contract as
// shm_open(3).
package shmem

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where glibc's shm_open places objects on Linux.
const shmDir = "/dev/shm"

const nameMax = 255

// objectPath validates name and resolves it to a filesystem path.
func objectPath(name string) (string, error) {
	if len(name) < 2 || name[0] != '/' {
		return "", fmt.Errorf("shmem: object name must be absolute: %q", name)
	}
	if len(name) >= nameMax {
		return "", fmt.Errorf("shmem: object name too long: %d bytes", len(name))
	}
	if strings.ContainsRune(name[1:], '/') {
		return "", fmt.Errorf("shmem: object name must have a single component: %q", name)
	}
	return shmDir + name, nil
}

// Create creates (or truncates) the named object, sizes it to size
// bytes and returns an open read-write descriptor. The descriptor is
// close-on-exec; a worker process opens the object by name instead of
// inheriting it.
func Create(name string, size int) (int, error) {
	path, err := objectPath(name)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_TRUNC|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return -1, fmt.Errorf("shmem: create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("shmem: size %q to %d: %w", name, size, err)
	}
	return fd, nil
}

// Open opens an existing named object read-write and sets its length
// to size bytes.
func Open(name string, size int) (int, error) {
	path, err := objectPath(name)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return -1, fmt.Errorf("shmem: open %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("shmem: size %q to %d: %w", name, size, err)
	}
	return fd, nil
}

// Map maps size bytes of fd shared read-write. The descriptor may be
// closed once the mapping exists.
func Map(fd int, size int) ([]byte, error) {
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmem: mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(mem []byte) error {
	return unix.Munmap(mem)
}

// Unlink removes the named object. The mapping and descriptors of
// current users stay valid; new opens fail.
func Unlink(name string) error {
	path, err := objectPath(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(path); err != nil {
		return fmt.Errorf("shmem: unlink %q: %w", name, err)
	}
	return nil
}
