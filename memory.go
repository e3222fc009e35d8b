package rmm

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/btree"
)

// Mapper maps physical granules into the monitor's address space.
type Mapper interface {
	Map(addr uint64, writable bool) error
	Unmap(addr uint64) error
	// Read copies n bytes from a mapped granule.
	Read(addr, n uint64) ([]byte, error)
}

// mapping is one granule mapped into the monitor.
type mapping struct {
	addr     uint64
	writable bool
}

func mappingLess(a, b mapping) bool { return a.addr < b.addr }

// MM is the monitor's mapping service over PhysMem. Each CPU owns one, since
// the mapping slots of a real monitor are per core.
type MM struct {
	phys *PhysMem

	mu       sync.Mutex
	mappings *btree.BTreeG[mapping]
}

// NewMM creates an empty mapping service over phys.
func NewMM(phys *PhysMem) *MM {
	return &MM{
		phys:     phys,
		mappings: btree.NewG(2, mappingLess),
	}
}

func (mm *MM) validate(addr uint64) error {
	if mm == nil || mm.phys == nil {
		return fmt.Errorf("rmm: mapping service is nil")
	}
	// Performance: Fast alignment checks using the granule mask
	if addr&granuleMask != 0 {
		return fmt.Errorf("map 0x%x: not granule-aligned: %w", addr, ErrInvalidGranule)
	}
	// Security: Prevent integer overflow vulnerabilities
	if addr > math.MaxUint64-GranuleSize {
		return fmt.Errorf("map 0x%x: address range would overflow: %w", addr, ErrInvalidGranule)
	}
	if !mm.phys.Contains(addr, GranuleSize) {
		return fmt.Errorf("map 0x%x: outside physical memory: %w", addr, ErrInvalidGranule)
	}
	return nil
}

// Map makes the granule at addr accessible to the monitor.
func (mm *MM) Map(addr uint64, writable bool) error {
	if err := mm.validate(addr); err != nil {
		return err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.mappings.Has(mapping{addr: addr}) {
		return fmt.Errorf("map 0x%x: %w", addr, ErrAlreadyMapped)
	}
	mm.mappings.ReplaceOrInsert(mapping{addr: addr, writable: writable})

	recordMapOperation()
	return nil
}

// Unmap removes the granule at addr from the monitor's address space.
func (mm *MM) Unmap(addr uint64) error {
	if err := mm.validate(addr); err != nil {
		return err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, ok := mm.mappings.Delete(mapping{addr: addr}); !ok {
		return fmt.Errorf("unmap 0x%x: %w", addr, ErrNotMapped)
	}

	recordUnmapOperation()
	return nil
}

func (mm *MM) lookup(addr uint64) (mapping, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mappings.Get(mapping{addr: addr &^ granuleMask})
}

// Read copies n bytes starting at addr. The range must stay inside one mapped
// granule.
func (mm *MM) Read(addr, n uint64) ([]byte, error) {
	if n == 0 || n > GranuleSize || (addr&granuleMask)+n > GranuleSize {
		return nil, fmt.Errorf("read 0x%x+%d: crosses granule boundary: %w", addr, n, ErrInvalidGranule)
	}
	if _, ok := mm.lookup(addr); !ok {
		return nil, fmt.Errorf("read 0x%x: %w", addr, ErrNotMapped)
	}
	return mm.phys.Read(addr, n)
}

// Write copies b to addr, which must lie in one granule mapped writable.
func (mm *MM) Write(addr uint64, b []byte) error {
	n := uint64(len(b))
	if n == 0 || n > GranuleSize || (addr&granuleMask)+n > GranuleSize {
		return fmt.Errorf("write 0x%x+%d: crosses granule boundary: %w", addr, n, ErrInvalidGranule)
	}
	m, ok := mm.lookup(addr)
	if !ok {
		return fmt.Errorf("write 0x%x: %w", addr, ErrNotMapped)
	}
	if !m.writable {
		return fmt.Errorf("write 0x%x: mapping is read-only: %w", addr, ErrInvalidGranule)
	}
	return mm.phys.Write(addr, b)
}

// Mapped reports whether the granule containing addr is mapped.
func (mm *MM) Mapped(addr uint64) bool {
	_, ok := mm.lookup(addr)
	return ok
}

// Mappings returns the mapped granule addresses in ascending order.
func (mm *MM) Mappings() []uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	out := make([]uint64, 0, mm.mappings.Len())
	mm.mappings.Ascend(func(m mapping) bool {
		out = append(out, m.addr)
		return true
	})
	return out
}
