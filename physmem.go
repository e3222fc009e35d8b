package rmm

import (
	"fmt"
	"math"
	"sync"
)

// PhysMem is the simulated physical memory covered by the granule table.
type PhysMem struct {
	base uint64
	size uint64

	// closeMu guards mem and closed. Accessors hold it shared for the whole
	// copy so Close cannot unmap memory underneath them.
	closeMu sync.RWMutex
	mem     []byte
	closed  bool
}

// NewPhysMem allocates size bytes of physical memory starting at base. Both
// must be granule aligned.
func NewPhysMem(base, size uint64) (*PhysMem, error) {
	if base&granuleMask != 0 {
		return nil, fmt.Errorf("rmm: physical base 0x%x not granule-aligned", base)
	}
	if size == 0 || size&granuleMask != 0 {
		return nil, fmt.Errorf("rmm: physical size %d not a non-zero granule multiple", size)
	}
	// Security: Prevent integer overflow vulnerabilities
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("rmm: physical size too large (max %d bytes)", math.MaxInt32)
	}
	if base > math.MaxUint64-size {
		return nil, fmt.Errorf("rmm: physical address range would overflow")
	}

	mem, err := allocPhys(int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes of physical memory: %w", size, err)
	}
	return &PhysMem{base: base, size: size, mem: mem}, nil
}

// Base returns the first physical address.
func (p *PhysMem) Base() uint64 { return p.base }

// Size returns the number of bytes covered.
func (p *PhysMem) Size() uint64 { return p.size }

// Contains reports whether [addr, addr+n) lies inside the memory.
func (p *PhysMem) Contains(addr, n uint64) bool {
	if addr < p.base || n > p.Size() {
		return false
	}
	return addr-p.base <= p.Size()-n
}

// slice returns the backing bytes for [addr, addr+n). The caller holds
// closeMu for reading until it is done with the result.
func (p *PhysMem) slice(addr, n uint64) ([]byte, error) {
	if p.closed {
		return nil, fmt.Errorf("rmm: physical memory is closed")
	}
	if !p.Contains(addr, n) {
		return nil, fmt.Errorf("rmm: physical range 0x%x+%d outside 0x%x+%d", addr, n, p.base, p.Size())
	}
	off := addr - p.base
	return p.mem[off : off+n : off+n], nil
}

// Write copies b into physical memory at addr. It is how the host side of a
// simulation fills normal-world buffers such as realm parameter blocks.
func (p *PhysMem) Write(addr uint64, b []byte) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	dst, err := p.slice(addr, uint64(len(b)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Read copies n bytes at addr out of physical memory.
func (p *PhysMem) Read(addr, n uint64) ([]byte, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	src, err := p.slice(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, src)
	return out, nil
}

// Close releases the backing memory. Idempotent.
func (p *PhysMem) Close() error {
	if p == nil {
		return nil
	}
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	if p.closed {
		return nil
	}
	if err := freePhys(p.mem); err != nil {
		return fmt.Errorf("failed to release physical memory: %w", err)
	}
	p.closed = true
	p.mem = nil
	return nil
}
