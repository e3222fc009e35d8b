package rmm

import (
	"fmt"
	"sync"
)

// Driver allocates and releases realm ids.
type Driver interface {
	CreateRealm() (uint64, error)
	Remove(id uint64) error
}

// RealmDriver hands out realm ids in [1, max], round-robin, so a removed id
// is not handed out again straight away. Safe for use from every CPU.
type RealmDriver struct {
	max uint64

	mu     sync.Mutex
	live   map[uint64]struct{}
	cursor uint64
}

// NewRealmDriver creates a driver allowing at most limit live realms.
func NewRealmDriver(limit uint64) (*RealmDriver, error) {
	if limit == 0 {
		return nil, fmt.Errorf("rmm: realm limit must be positive")
	}
	if limit > MaxRealmID {
		return nil, fmt.Errorf("rmm: realm limit %d exceeds %d", limit, uint64(MaxRealmID))
	}
	return &RealmDriver{
		max:  limit,
		live: make(map[uint64]struct{}),
	}, nil
}

// CreateRealm allocates a realm id.
func (d *RealmDriver) CreateRealm() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if uint64(len(d.live)) >= d.max {
		return 0, ErrRealmLimit
	}
	for i := uint64(0); i < d.max; i++ {
		id := (d.cursor+i)%d.max + 1
		if _, used := d.live[id]; !used {
			d.live[id] = struct{}{}
			d.cursor = id % d.max
			return id, nil
		}
	}
	return 0, ErrRealmLimit
}

// Remove releases a realm id.
func (d *RealmDriver) Remove(id uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.live[id]; !ok {
		return fmt.Errorf("remove realm %d: %w", id, ErrUnknownRealm)
	}
	delete(d.live, id)
	return nil
}

// Live returns the number of allocated realm ids.
func (d *RealmDriver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}
