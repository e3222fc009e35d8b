package rmm

import (
	"sync/atomic"
	"time"
)

// Monitor activity counters
var (
	// Trap counters
	monitorTraps  uint64
	lowerTraps    uint64
	rmiDispatches uint64
	halts         uint64

	// Command counters
	rmiCalls      uint64
	rmiInputError uint64
	rmiFailures   uint64
	totalRMITime  uint64

	// Granule counters
	transitions      uint64
	transitionErrors uint64

	// Mapping counters
	mapOperations   uint64
	unmapOperations uint64

	// Realm counters
	realmsCreated   uint64
	realmsDestroyed uint64
)

// Metrics is a snapshot of the monitor counters.
type Metrics struct {
	MonitorTraps     uint64 `json:"monitor_traps"`
	LowerTraps       uint64 `json:"lower_traps"`
	RMIDispatches    uint64 `json:"rmi_dispatches"`
	Halts            uint64 `json:"halts"`
	RMICalls         uint64 `json:"rmi_calls"`
	RMIInputErrors   uint64 `json:"rmi_input_errors"`
	RMIFailures      uint64 `json:"rmi_failures"`
	AvgRMITimeNs     uint64 `json:"avg_rmi_time_ns"`
	Transitions      uint64 `json:"transitions"`
	TransitionErrors uint64 `json:"transition_errors"`
	MapOperations    uint64 `json:"map_operations"`
	UnmapOperations  uint64 `json:"unmap_operations"`
	RealmsCreated    uint64 `json:"realms_created"`
	RealmsDestroyed  uint64 `json:"realms_destroyed"`
}

// GetMetrics returns the current counters.
func GetMetrics() Metrics {
	calls := atomic.LoadUint64(&rmiCalls)

	var avgRMI uint64
	if calls > 0 {
		avgRMI = atomic.LoadUint64(&totalRMITime) / calls
	}

	return Metrics{
		MonitorTraps:     atomic.LoadUint64(&monitorTraps),
		LowerTraps:       atomic.LoadUint64(&lowerTraps),
		RMIDispatches:    atomic.LoadUint64(&rmiDispatches),
		Halts:            atomic.LoadUint64(&halts),
		RMICalls:         calls,
		RMIInputErrors:   atomic.LoadUint64(&rmiInputError),
		RMIFailures:      atomic.LoadUint64(&rmiFailures),
		AvgRMITimeNs:     avgRMI,
		Transitions:      atomic.LoadUint64(&transitions),
		TransitionErrors: atomic.LoadUint64(&transitionErrors),
		MapOperations:    atomic.LoadUint64(&mapOperations),
		UnmapOperations:  atomic.LoadUint64(&unmapOperations),
		RealmsCreated:    atomic.LoadUint64(&realmsCreated),
		RealmsDestroyed:  atomic.LoadUint64(&realmsDestroyed),
	}
}

// ResetMetrics clears all counters.
func ResetMetrics() {
	atomic.StoreUint64(&monitorTraps, 0)
	atomic.StoreUint64(&lowerTraps, 0)
	atomic.StoreUint64(&rmiDispatches, 0)
	atomic.StoreUint64(&halts, 0)
	atomic.StoreUint64(&rmiCalls, 0)
	atomic.StoreUint64(&rmiInputError, 0)
	atomic.StoreUint64(&rmiFailures, 0)
	atomic.StoreUint64(&totalRMITime, 0)
	atomic.StoreUint64(&transitions, 0)
	atomic.StoreUint64(&transitionErrors, 0)
	atomic.StoreUint64(&mapOperations, 0)
	atomic.StoreUint64(&unmapOperations, 0)
	atomic.StoreUint64(&realmsCreated, 0)
	atomic.StoreUint64(&realmsDestroyed, 0)
}

// Internal metric recording functions
func recordMonitorTrap() {
	atomic.AddUint64(&monitorTraps, 1)
}

func recordLowerTrap(dispatched bool) {
	atomic.AddUint64(&lowerTraps, 1)
	if dispatched {
		atomic.AddUint64(&rmiDispatches, 1)
	}
}

func recordHalt() {
	atomic.AddUint64(&halts, 1)
}

func recordRMICall(status Status, duration time.Duration) {
	atomic.AddUint64(&rmiCalls, 1)
	atomic.AddUint64(&totalRMITime, uint64(duration.Nanoseconds()))
	switch status {
	case StatusSuccess:
	case StatusErrorInput:
		atomic.AddUint64(&rmiInputError, 1)
	default:
		atomic.AddUint64(&rmiFailures, 1)
	}
}

func recordTransition() {
	atomic.AddUint64(&transitions, 1)
}

func recordTransitionError() {
	atomic.AddUint64(&transitionErrors, 1)
}

func recordMapOperation() {
	atomic.AddUint64(&mapOperations, 1)
}

func recordUnmapOperation() {
	atomic.AddUint64(&unmapOperations, 1)
}

func recordRealmCreate() {
	atomic.AddUint64(&realmsCreated, 1)
}

func recordRealmDestroy() {
	atomic.AddUint64(&realmsDestroyed, 1)
}
