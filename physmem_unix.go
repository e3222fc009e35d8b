//go:build unix

package rmm

import (
	"golang.org/x/sys/unix"
)

// allocPhys backs simulated physical memory with an anonymous mapping so it is
// page aligned and outside the Go heap.
func allocPhys(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freePhys(mem []byte) error {
	return unix.Munmap(mem)
}

// HostPageSize returns the page size of the host running the simulation.
func HostPageSize() int {
	return unix.Getpagesize()
}
