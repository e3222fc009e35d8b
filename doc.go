// Package rmm is the trusted core of a Realm Management Monitor: exception
// classification and the Realm Management Interface (RMI) command protocol
// that creates and destroys realms.
//
// Physical memory is simulated by an anonymous host mapping and each core is
// a CPU value driven by its own goroutine.
//
// # Basic Usage
//
// Boot a monitor and run a command on core 0:
//
//	m, err := rmm.NewMonitor(rmm.DefaultConfig(), log)
//	if err != nil {
//		log.Fatal("Failed to boot monitor:", err)
//	}
//	defer m.Close()
//
//	cpu, _ := m.CPU(0)
//	ctx := rmm.NewContext(rmm.CmdRealmCreate, rdAddr, paramsAddr)
//	cpu.HandleRMI(ctx)
//	if ctx.Status() != rmm.StatusSuccess {
//		log.Fatalf("REALM_CREATE: %v", ctx.Status())
//	}
//	realmID := ctx.Ret[1]
//
// A guest HVC arrives through the lower-EL path. The command id is taken from
// x0 and the arguments from x1..x6; results land in x0..x4:
//
//	code := cpu.EnterLower(rmm.Info{Source: rmm.LowerAArch64, Kind: rmm.Synchronous}, esr, vcpu)
//
// # Granules
//
// Every 4 KiB granule is Undelegated, Delegated or RD. The state and the
// owning realm id share one atomic word, so a granule is never observed
// half-way through a transition. The only legal moves are
//
//	Undelegated <-> Delegated <-> RD
//
// # Error Handling
//
// Protocol errors are reported as a Status in Ret[0]. Go errors returned by
// the package wrap *StatusError sentinels; StatusOf maps any error to its
// Status. Unrecoverable exceptions become a *Fault handed to the halt hook,
// which panics unless replaced with Monitor.SetHaltHandler.
//
// Error text is sanitized when RMM_ENV=production or RMM_DEBUG=false.
package rmm
