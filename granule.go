package rmm

import (
	"fmt"
	"sync/atomic"
)

// Granule geometry
const (
	GranuleShift = 12
	GranuleSize  = 1 << GranuleShift
	granuleMask  = GranuleSize - 1
)

// GranuleState is the ownership role of one granule.
type GranuleState uint8

const (
	GranuleUndelegated GranuleState = iota
	GranuleDelegated
	GranuleRD
)

func (s GranuleState) String() string {
	switch s {
	case GranuleUndelegated:
		return "Undelegated"
	case GranuleDelegated:
		return "Delegated"
	case GranuleRD:
		return "RD"
	default:
		return fmt.Sprintf("GranuleState(%d)", uint8(s))
	}
}

// legalTransition lists the edges of the granule state machine.
func legalTransition(from, to GranuleState) bool {
	switch {
	case from == GranuleUndelegated && to == GranuleDelegated:
		return true
	case from == GranuleDelegated && to == GranuleRD:
		return true
	case from == GranuleRD && to == GranuleDelegated:
		return true
	case from == GranuleDelegated && to == GranuleUndelegated:
		return true
	}
	return false
}

// An entry packs the state into bits [7:0] and the stamped realm id into bits
// [63:8] so both change in one compare-and-swap.
const (
	entryStateMask = 0xff
	entryIDShift   = 8
	// MaxRealmID is the largest realm id a granule entry can hold.
	MaxRealmID = 1<<(64-entryIDShift) - 1
)

func packEntry(s GranuleState, id uint64) uint64 {
	return uint64(s) | id<<entryIDShift
}

func unpackEntry(w uint64) (GranuleState, uint64) {
	return GranuleState(w & entryStateMask), w >> entryIDShift
}

// GranuleTable tracks the state of every granule in a contiguous physical
// range. It is shared by all cores; every entry is updated atomically.
type GranuleTable struct {
	base    uint64
	entries []atomic.Uint64
}

// NewGranuleTable creates a table of count granules starting at base, all
// Undelegated.
func NewGranuleTable(base uint64, count int) (*GranuleTable, error) {
	if base&granuleMask != 0 {
		return nil, fmt.Errorf("rmm: granule base 0x%x not aligned to %d bytes", base, GranuleSize)
	}
	if count <= 0 {
		return nil, fmt.Errorf("rmm: granule count must be positive, got %d", count)
	}
	// Security: Prevent the covered range from wrapping the address space
	if uint64(count) > (^uint64(0)-base)>>GranuleShift {
		return nil, fmt.Errorf("rmm: granule range at 0x%x with %d granules would overflow", base, count)
	}
	return &GranuleTable{
		base:    base,
		entries: make([]atomic.Uint64, count),
	}, nil
}

// Base returns the address of the first granule.
func (t *GranuleTable) Base() uint64 { return t.base }

// Len returns the number of granules tracked.
func (t *GranuleTable) Len() int { return len(t.entries) }

// Addr returns the address of the granule at index i.
func (t *GranuleTable) Addr(i int) uint64 {
	return t.base + uint64(i)<<GranuleShift
}

// Index returns the table index for addr.
func (t *GranuleTable) Index(addr uint64) (int, error) {
	if addr&granuleMask != 0 || addr < t.base {
		return 0, fmt.Errorf("granule 0x%x: %w", addr, ErrInvalidGranule)
	}
	idx := (addr - t.base) >> GranuleShift
	if idx >= uint64(len(t.entries)) {
		return 0, fmt.Errorf("granule 0x%x: %w", addr, ErrInvalidGranule)
	}
	return int(idx), nil
}

func (t *GranuleTable) entry(addr uint64) (*atomic.Uint64, error) {
	idx, err := t.Index(addr)
	if err != nil {
		return nil, err
	}
	return &t.entries[idx], nil
}

// State returns the current state of the granule at addr.
func (t *GranuleTable) State(addr uint64) (GranuleState, error) {
	e, err := t.entry(addr)
	if err != nil {
		return 0, err
	}
	s, _ := unpackEntry(e.Load())
	return s, nil
}

// RealmID returns the realm id stamped on an RD granule.
func (t *GranuleTable) RealmID(addr uint64) (uint64, error) {
	e, err := t.entry(addr)
	if err != nil {
		return 0, err
	}
	s, id := unpackEntry(e.Load())
	if s != GranuleRD {
		return 0, fmt.Errorf("granule 0x%x is %v: %w", addr, s, ErrWrongState)
	}
	return id, nil
}

// Transition moves the granule at addr from expected to next. It fails with
// ErrWrongState, leaving the granule untouched, unless the granule is in
// expected at the moment of the swap.
func (t *GranuleTable) Transition(addr uint64, expected, next GranuleState) error {
	return t.swap(addr, expected, next, 0)
}

// stamp performs Delegated -> RD and records the realm id in the same swap.
func (t *GranuleTable) stamp(addr, realmID uint64) error {
	if realmID > MaxRealmID {
		return fmt.Errorf("rmm: realm id %d exceeds %d", realmID, uint64(MaxRealmID))
	}
	return t.swap(addr, GranuleDelegated, GranuleRD, realmID)
}

// unstamp performs RD -> Delegated only if the granule carries realmID.
func (t *GranuleTable) unstamp(addr, realmID uint64) error {
	e, err := t.entry(addr)
	if err != nil {
		recordTransitionError()
		return err
	}
	old := packEntry(GranuleRD, realmID)
	if !e.CompareAndSwap(old, packEntry(GranuleDelegated, 0)) {
		recordTransitionError()
		cur, id := unpackEntry(e.Load())
		return fmt.Errorf("granule 0x%x is %v (realm %d), want RD (realm %d): %w", addr, cur, id, realmID, ErrWrongState)
	}
	recordTransition()
	return nil
}

func (t *GranuleTable) swap(addr uint64, expected, next GranuleState, realmID uint64) error {
	if !legalTransition(expected, next) {
		recordTransitionError()
		return fmt.Errorf("granule 0x%x %v->%v: %w", addr, expected, next, ErrIllegalTransition)
	}
	e, err := t.entry(addr)
	if err != nil {
		recordTransitionError()
		return err
	}

	// Only RD carries an id; leaving RD clears it.
	word := packEntry(next, 0)
	if next == GranuleRD {
		word = packEntry(next, realmID)
	}

	for {
		old := e.Load()
		if cur, _ := unpackEntry(old); cur != expected {
			recordTransitionError()
			return fmt.Errorf("granule 0x%x is %v, want %v: %w", addr, cur, expected, ErrWrongState)
		}
		if e.CompareAndSwap(old, word) {
			recordTransition()
			return nil
		}
	}
}

// Counts returns how many granules are in each state.
func (t *GranuleTable) Counts() map[GranuleState]int {
	counts := make(map[GranuleState]int)
	for i := range t.entries {
		s, _ := unpackEntry(t.entries[i].Load())
		counts[s]++
	}
	return counts
}
