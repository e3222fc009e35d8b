package rmm

import "unsafe"

// ExceptionEntry is called by the current-EL vector stubs with the packed
// Info, ESR_EL2 and the address of the saved TrapFrame.
func (c *CPU) ExceptionEntry(info uint32, esr uint32, tf unsafe.Pointer) {
	c.Trap(UnpackInfo(info), esr, (*TrapFrame)(tf))
}

// LowerExceptionEntry is called by the lower-EL vector stubs with the packed
// Info, ESR_EL2 and the address of the running VCPU. The result is the
// dispatch code handed back to the stub.
func (c *CPU) LowerExceptionEntry(info uint32, esr uint32, vcpu unsafe.Pointer) uint64 {
	return c.EnterLower(UnpackInfo(info), esr, (*VCPU)(vcpu))
}
