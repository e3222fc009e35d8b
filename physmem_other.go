//go:build !unix

package rmm

import "os"

func allocPhys(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func freePhys(mem []byte) error {
	return nil
}

// HostPageSize returns the page size of the host running the simulation.
func HostPageSize() int {
	return os.Getpagesize()
}
