package rmm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// DispatchRMI is returned by HandleLowerException when the trap is an RMI call
// that the caller must run through the mainloop.
const DispatchRMI uint64 = 1

// Fault is an unrecoverable exception. Its Error text carries every field the
// diagnostic log has.
type Fault struct {
	CPU      int
	Info     Info
	ESR      uint32
	Syndrome Syndrome
	Reason   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rmm: cpu %d: %s: %v %v (esr=%#x)", f.CPU, f.Reason, f.Info, f.Syndrome, f.ESR)
}

// Classifier decides what to do with each exception delivered to a core.
type Classifier struct {
	Log logrus.FieldLogger
	// Halt is called for every unrecoverable exception. It must not return
	// control to the faulting context; the default panics with the *Fault.
	Halt func(*Fault)
}

func (c *Classifier) logger() logrus.FieldLogger {
	if c == nil || c.Log == nil {
		return discardLogger
	}
	return c.Log
}

func (c *Classifier) halt(f *Fault, fields logrus.Fields) {
	recordHalt()
	c.logger().WithFields(fields).WithError(f).Error("unrecoverable exception")
	if c != nil && c.Halt != nil {
		c.Halt(f)
		return
	}
	panic(f)
}

// HandleException handles an exception taken from the monitor itself. A BRK
// is logged and execution resumes after it; everything else halts.
func (c *Classifier) HandleException(cpu int, info Info, esr uint32, tf *TrapFrame) {
	recordMonitorTrap()
	syn := DecodeSyndrome(esr)
	fields := logrus.Fields{
		"cpu":  cpu,
		"info": info,
		"esr":  fmt.Sprintf("%#x", esr),
	}

	if info.Kind != Synchronous {
		c.halt(&Fault{CPU: cpu, Info: info, ESR: esr, Syndrome: syn, Reason: "asynchronous exception in monitor"}, fields)
		return
	}

	if syn.Class == ClassBrk {
		fields["syndrome"] = syn
		if tf != nil {
			fields["elr"] = fmt.Sprintf("%#x", tf.ELR)
			fields["spsr"] = fmt.Sprintf("%#x", tf.SPSR)
			if lr, err := tf.GetReg(RegLR); err == nil {
				fields["lr"] = fmt.Sprintf("%#x", lr)
			}
		}
		c.logger().WithFields(fields).Infof("brk #%#x", syn.Comment())
		if tf != nil {
			tf.Skip()
		}
		return
	}

	fields["syndrome"] = syn
	c.halt(&Fault{CPU: cpu, Info: info, ESR: esr, Syndrome: syn, Reason: "synchronous exception in monitor"}, fields)
}

// HandleLowerException handles an exception taken from a realm. It returns
// DispatchRMI for an HVC and 0 for interrupts; any other synchronous
// exception halts.
func (c *Classifier) HandleLowerException(cpu int, info Info, esr uint32, vcpu *VCPU) uint64 {
	syn := DecodeSyndrome(esr)

	if info.Kind == Synchronous && syn.Class == ClassHVC {
		recordLowerTrap(true)
		return DispatchRMI
	}
	recordLowerTrap(false)

	fields := logrus.Fields{
		"cpu":      cpu,
		"info":     info,
		"esr":      fmt.Sprintf("%#x", esr),
		"syndrome": syn,
	}
	if vcpu != nil {
		fields["vcpu"] = vcpu.ID
		fields["realm"] = vcpu.RealmID
		fields["regs"] = fmt.Sprintf("%#x", vcpu.Context.Regs)
		fields["sp"] = fmt.Sprintf("%#x", vcpu.Context.SP)
		fields["elr"] = fmt.Sprintf("%#x", vcpu.Context.ELR)
		fields["spsr"] = fmt.Sprintf("%#x", vcpu.Context.SPSR)
		fields["guest_esr"] = fmt.Sprintf("%#x", vcpu.Context.ESR)
		fields["far"] = fmt.Sprintf("%#x", vcpu.Context.FAR)
	}

	if info.Kind == Synchronous {
		c.halt(&Fault{CPU: cpu, Info: info, ESR: esr, Syndrome: syn, Reason: "unhandled synchronous exception from realm"}, fields)
		return 0
	}

	c.logger().WithFields(fields).Warn("lower exception not handled")
	return 0
}
