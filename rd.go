package rmm

import "fmt"

// Rd is a handle on a realm descriptor granule. Holding a live Rd means the
// granule is in the RD state and carries the handle's realm id.
type Rd struct {
	table   *GranuleTable
	addr    uint64
	realmID uint64
}

// NewRd turns a Delegated granule into a realm descriptor stamped with
// realmID. The state change and the stamp happen in one atomic step; on error
// no handle is returned and the granule keeps its previous state.
func NewRd(t *GranuleTable, addr, realmID uint64) (*Rd, error) {
	if t == nil {
		return nil, fmt.Errorf("rmm: granule table is nil")
	}
	if err := t.stamp(addr, realmID); err != nil {
		return nil, fmt.Errorf("new rd: %w", err)
	}
	return &Rd{table: t, addr: addr, realmID: realmID}, nil
}

// RdFromGranule returns the handle for an existing realm descriptor.
func RdFromGranule(t *GranuleTable, addr uint64) (*Rd, error) {
	if t == nil {
		return nil, fmt.Errorf("rmm: granule table is nil")
	}
	id, err := t.RealmID(addr)
	if err != nil {
		return nil, fmt.Errorf("rd at 0x%x: %w", addr, err)
	}
	return &Rd{table: t, addr: addr, realmID: id}, nil
}

// Addr returns the address of the backing granule.
func (rd *Rd) Addr() (uint64, error) {
	if rd.consumed() {
		return 0, ErrRdConsumed
	}
	return rd.addr, nil
}

// RealmID returns the id of the realm this descriptor belongs to.
func (rd *Rd) RealmID() (uint64, error) {
	if rd.consumed() {
		return 0, ErrRdConsumed
	}
	return rd.realmID, nil
}

// Destroy returns the granule to Delegated and consumes the handle. The
// transition only succeeds if the granule still carries this realm's id.
func (rd *Rd) Destroy() error {
	if rd.consumed() {
		return ErrRdConsumed
	}
	if err := rd.table.unstamp(rd.addr, rd.realmID); err != nil {
		return fmt.Errorf("destroy rd: %w", err)
	}
	*rd = Rd{}
	return nil
}

func (rd *Rd) consumed() bool {
	return rd == nil || rd.table == nil
}

func (rd *Rd) String() string {
	if rd.consumed() {
		return "Rd{consumed}"
	}
	return fmt.Sprintf("Rd{addr: 0x%x, realm: %d}", rd.addr, rd.realmID)
}
