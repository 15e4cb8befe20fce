//go:build !plan9 && !windows && !js

package main

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// allocPhysMem returns size bytes of zeroed anonymous memory that stands in
// for the machine's physical memory.
func allocPhysMem(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap: failed to allocate simulated physical memory")
	}
	return mem, nil
}

// freePhysMem releases memory obtained from allocPhysMem.
func freePhysMem(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "mmap: failed to unmap simulated physical memory")
	}
	return nil
}
