package rmm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Monitor owns the state shared by every core: physical memory, the granule
// table, the realm driver and the command table.
type Monitor struct {
	cfg        Config
	phys       *PhysMem
	granules   *GranuleTable
	driver     *RealmDriver
	mainloop   *Mainloop
	classifier *Classifier
	log        logrus.FieldLogger
	cpus       []*CPU
}

// NewMonitor boots a monitor from cfg. Call Close to release its memory.
func NewMonitor(cfg Config, log logrus.FieldLogger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rmm: %w", err)
	}
	if log == nil {
		log = discardLogger
	}

	size := uint64(cfg.Memory.Granules) * GranuleSize
	phys, err := NewPhysMem(cfg.Memory.Base, size)
	if err != nil {
		return nil, fmt.Errorf("rmm: physical memory: %w", err)
	}
	granules, err := NewGranuleTable(cfg.Memory.Base, cfg.Memory.Granules)
	if err != nil {
		phys.Close()
		return nil, fmt.Errorf("rmm: granule table: %w", err)
	}
	driver, err := NewRealmDriver(cfg.Realm.MaxRealms)
	if err != nil {
		phys.Close()
		return nil, fmt.Errorf("rmm: realm driver: %w", err)
	}

	m := &Monitor{
		cfg:        cfg,
		phys:       phys,
		granules:   granules,
		driver:     driver,
		mainloop:   NewRMIMainloop(),
		classifier: &Classifier{Log: log},
		log:        log,
	}
	for i := 0; i < cfg.CPUs; i++ {
		m.cpus = append(m.cpus, m.newCPU(i))
	}

	log.WithFields(logrus.Fields{
		"base":     fmt.Sprintf("0x%x", cfg.Memory.Base),
		"granules": cfg.Memory.Granules,
		"cpus":     cfg.CPUs,
		"commands": m.mainloop.Commands(),
	}).Info("monitor initialized")
	return m, nil
}

// Close releases physical memory. The monitor must not be used afterwards.
func (m *Monitor) Close() error {
	return m.phys.Close()
}

// Config returns the configuration the monitor was booted with.
func (m *Monitor) Config() Config { return m.cfg }

// Phys returns the simulated physical memory.
func (m *Monitor) Phys() *PhysMem { return m.phys }

// Granules returns the granule table.
func (m *Monitor) Granules() *GranuleTable { return m.granules }

// Driver returns the realm id allocator.
func (m *Monitor) Driver() *RealmDriver { return m.driver }

// SetHaltHandler replaces the action taken on an unrecoverable exception.
// It must be called before any core runs.
func (m *Monitor) SetHaltHandler(h func(*Fault)) { m.classifier.Halt = h }

// CPU returns core id.
func (m *Monitor) CPU(id int) (*CPU, error) {
	if id < 0 || id >= len(m.cpus) {
		return nil, fmt.Errorf("rmm: cpu %d out of range [0, %d)", id, len(m.cpus))
	}
	return m.cpus[id], nil
}

func (m *Monitor) newCPU(id int) *CPU {
	mm := NewMM(m.phys)
	return &CPU{
		id:  id,
		mon: m,
		mm:  mm,
		svc: &Services{
			RMI:      m.driver,
			MM:       mm,
			Granules: m.granules,
			Log:      m.log.WithField("cpu", id),
		},
	}
}

// CPU is one core of the monitor. A CPU runs one trap or command at a time;
// different CPUs run concurrently.
type CPU struct {
	id  int
	mon *Monitor
	mm  *MM
	svc *Services
}

// ID returns the core number.
func (c *CPU) ID() int { return c.id }

// MM returns the core's mapping service.
func (c *CPU) MM() *MM { return c.mm }

// HandleRMI runs one command on this core.
func (c *CPU) HandleRMI(ctx *Context) {
	c.mon.mainloop.Dispatch(ctx, c.svc)
}

// Trap handles an exception taken from the monitor on this core.
func (c *CPU) Trap(info Info, esr uint32, tf *TrapFrame) {
	c.mon.classifier.HandleException(c.id, info, esr, tf)
}

// rmiCallRegs are the guest registers carrying an RMI call: the command id
// in x0 and its arguments in x1..x6.
var rmiCallRegs = []Reg{RegX0, RegX1, RegX2, RegX3, RegX4, RegX5, RegX6}

// EnterLower handles an exception taken from a realm. For an RMI call the
// command id is read from x0 and its arguments from x1..x6; the results are
// written back into x0..x4 before returning.
func (c *CPU) EnterLower(info Info, esr uint32, vcpu *VCPU) uint64 {
	code := c.mon.classifier.HandleLowerException(c.id, info, esr, vcpu)
	if code != DispatchRMI || vcpu == nil {
		return code
	}

	in, err := vcpu.GetRegs(rmiCallRegs)
	if err != nil {
		c.svc.logger().WithError(err).Error("rmi: read call registers")
		return 0
	}
	ctx := &Context{Cmd: Command(in[RegX0])}
	for i := range ctx.Arg {
		ctx.Arg[i] = in[RegX1+Reg(i)]
	}

	c.HandleRMI(ctx)

	out := make(RegBatch, RetCount)
	for i, v := range ctx.Ret {
		out[RegX0+Reg(i)] = v
	}
	if err := vcpu.SetRegs(out); err != nil {
		c.svc.logger().WithError(err).Error("rmi: write result registers")
		return 0
	}
	return code
}
