package rmm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CPUs = 4
	cfg.Memory.Base = testBase
	cfg.Memory.Granules = 32
	cfg.Realm.MaxRealms = 16
	return cfg
}

func newTestMonitor(t *testing.T) (*Monitor, *haltRecorder) {
	t.Helper()
	m, err := NewMonitor(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Failed to close monitor: %v", err)
		}
	})
	rec := &haltRecorder{}
	m.SetHaltHandler(rec.halt)
	return m, rec
}

func writeParams(t *testing.T, m *Monitor, addr uint64) {
	t.Helper()
	buf, err := Params{VMID: 1}.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, m.Phys().Write(addr, buf))
}

func hvc(cmd Command, args ...uint64) *VCPU {
	v := &VCPU{}
	v.Context.Regs[RegX0] = uint64(cmd)
	copy(v.Context.Regs[RegX1:], args)
	return v
}

func TestNewMonitorInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.Base++
	_, err := NewMonitor(cfg, nil)
	require.Error(t, err)
}

func TestMonitorCPU(t *testing.T) {
	m, _ := newTestMonitor(t)

	c0, err := m.CPU(0)
	require.NoError(t, err)
	c1, err := m.CPU(1)
	require.NoError(t, err)
	require.NotSame(t, c0.MM(), c1.MM(), "each core owns its mapping service")

	_, err = m.CPU(4)
	require.Error(t, err)
	_, err = m.CPU(-1)
	require.Error(t, err)
}

func TestEnterLowerRealmLifecycle(t *testing.T) {
	m, rec := newTestMonitor(t)
	cpu, err := m.CPU(0)
	require.NoError(t, err)

	rd := uint64(testBase)
	params := uint64(testBase + GranuleSize)
	writeParams(t, m, params)
	info := Info{LowerAArch64, Synchronous}

	v := hvc(CmdRealmCreate, rd, params)
	v.Context.Regs[RegX5] = 0x55
	require.Equal(t, DispatchRMI, cpu.EnterLower(info, esrHVC, v))
	require.Equal(t, uint64(StatusSuccess), v.Context.Regs[RegX0])
	id := v.Context.Regs[RegX1]
	require.NotZero(t, id)
	require.Zero(t, v.Context.Regs[RegX4], "unused return registers are cleared")
	require.Equal(t, uint64(0x55), v.Context.Regs[RegX5], "registers past x4 are preserved")

	state, err := m.Granules().State(rd)
	require.NoError(t, err)
	require.Equal(t, GranuleRD, state)
	require.False(t, cpu.MM().Mapped(params))

	v = hvc(CmdRealmDestroy, rd)
	require.Equal(t, DispatchRMI, cpu.EnterLower(info, esrHVC, v))
	require.Equal(t, uint64(StatusSuccess), v.Context.Regs[RegX0])

	state, err = m.Granules().State(rd)
	require.NoError(t, err)
	require.Equal(t, GranuleUndelegated, state)
	require.Empty(t, rec.faults)
}

func TestEnterLowerNonRMI(t *testing.T) {
	m, rec := newTestMonitor(t)
	cpu, err := m.CPU(1)
	require.NoError(t, err)

	v := hvc(CmdVersion)
	require.Zero(t, cpu.EnterLower(Info{LowerAArch64, Irq}, 0, v))
	require.Equal(t, uint64(CmdVersion), v.Context.Regs[RegX0], "interrupts leave guest registers alone")

	cpu.EnterLower(Info{LowerAArch64, Synchronous}, esrDataAbt, v)
	require.Len(t, rec.faults, 1)
	require.Equal(t, 1, rec.faults[0].CPU)
}

func TestExceptionEntry(t *testing.T) {
	m, rec := newTestMonitor(t)
	cpu, err := m.CPU(2)
	require.NoError(t, err)

	tf := &TrapFrame{ELR: 0x4000}
	cpu.ExceptionEntry(Info{CurrentSPELx, Synchronous}.Pack(), esrBrk|7, unsafe.Pointer(tf))
	require.Equal(t, uint64(0x4004), tf.ELR)
	require.Empty(t, rec.faults)

	v := hvc(CmdRecAuxCount)
	code := cpu.LowerExceptionEntry(Info{LowerAArch64, Synchronous}.Pack(), esrHVC, unsafe.Pointer(v))
	require.Equal(t, DispatchRMI, code)
	require.Equal(t, uint64(MaxRecAuxGranules), v.Context.Regs[RegX1])
}

func TestConcurrentRealmCreation(t *testing.T) {
	m, _ := newTestMonitor(t)
	cfg := m.Config()
	params := uint64(testBase)
	writeParams(t, m, params)

	var created atomic.Int64
	var g errgroup.Group
	for i := 0; i < cfg.CPUs; i++ {
		cpu, err := m.CPU(i)
		require.NoError(t, err)
		g.Go(func() error {
			// Every core races for the same descriptor granules.
			for j := 1; j < cfg.Memory.Granules; j++ {
				ctx := NewContext(CmdRealmCreate, m.Granules().Addr(j), params)
				cpu.HandleRMI(ctx)
				switch ctx.Status() {
				case StatusSuccess:
					created.Add(1)
				case StatusErrorInput, StatusFail:
				default:
					return errors.New("unexpected status")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Each granule becomes at most one realm, capped by the realm limit.
	n := int(created.Load())
	require.Positive(t, n)
	require.LessOrEqual(t, n, int(cfg.Realm.MaxRealms))
	require.Equal(t, n, m.Driver().Live())
	require.Equal(t, n, m.Granules().Counts()[GranuleRD])
}

func TestServe(t *testing.T) {
	m, _ := newTestMonitor(t)
	conn := NewChanConn()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, conn) }()

	ret, err := conn.Invoke(ctx, Call{Cmd: CmdVersion})
	require.NoError(t, err)
	require.Equal(t, uint64(StatusSuccess), ret[0])
	require.Equal(t, uint64(ABIVersion), ret[1])

	ret, err = conn.Invoke(ctx, Call{CPU: 9, Cmd: CmdVersion})
	require.NoError(t, err)
	require.Equal(t, uint64(StatusErrorInput), ret[0])

	ret, err = conn.Invoke(ctx, Call{CPU: 3, Cmd: CmdGranuleDelegate, Args: [ArgCount]uint64{testBase}})
	require.NoError(t, err)
	require.Equal(t, uint64(StatusSuccess), ret[0])

	require.NoError(t, conn.Close())
	require.NoError(t, <-done)
}

func TestServeStopsOnCancel(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, NewChanConn()) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
