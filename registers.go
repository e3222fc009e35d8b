package rmm

import "fmt"

// Reg names a general purpose register in a saved register file.
type Reg int

const (
	RegX0 Reg = iota
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15
	RegX16
	RegX17
	RegX18
	RegX19
	RegX20
	RegX21
	RegX22
	RegX23
	RegX24
	RegX25
	RegX26
	RegX27
	RegX28
	RegFP // X29
	RegLR // X30
)

// NumGPRs is the size of a saved general purpose register file.
const NumGPRs = int(RegLR) + 1

func (r Reg) String() string {
	switch r {
	case RegFP:
		return "FP"
	case RegLR:
		return "LR"
	}
	if r >= RegX0 && r < RegFP {
		return fmt.Sprintf("X%d", int(r))
	}
	return fmt.Sprintf("Reg(%d)", int(r))
}

// Valid reports whether r indexes a saved register file.
func (r Reg) Valid() bool {
	return r >= RegX0 && r <= RegLR
}

// InstructionSize is the width of an A64 instruction.
const InstructionSize = 4

// TrapFrame is the monitor state saved by the current-EL vector stubs. The
// layout matches the stub's store sequence.
type TrapFrame struct {
	ELR  uint64
	SPSR uint64
	Regs [NumGPRs]uint64
}

// GetReg returns a saved general purpose register.
func (tf *TrapFrame) GetReg(r Reg) (uint64, error) {
	if tf == nil {
		return 0, fmt.Errorf("rmm: trap frame is nil")
	}
	if !r.Valid() {
		return 0, fmt.Errorf("rmm: invalid register %d (must be %d-%d)", r, RegX0, RegLR)
	}
	return tf.Regs[r], nil
}

// Skip advances the resume address past the trapping instruction.
func (tf *TrapFrame) Skip() {
	tf.ELR += InstructionSize
}

// GuestContext is a realm VCPU's saved register state.
type GuestContext struct {
	Regs [NumGPRs]uint64
	SP   uint64
	ELR  uint64
	SPSR uint64
	ESR  uint64
	FAR  uint64
}

// VCPU is the monitor's view of one realm execution context.
type VCPU struct {
	ID      uint64
	RealmID uint64
	Context GuestContext
}

// GetReg returns a saved guest register.
func (v *VCPU) GetReg(r Reg) (uint64, error) {
	if v == nil {
		return 0, fmt.Errorf("rmm: VCPU is nil")
	}
	if !r.Valid() {
		return 0, fmt.Errorf("rmm: invalid register %d (must be %d-%d)", r, RegX0, RegLR)
	}
	return v.Context.Regs[r], nil
}

// SetReg updates a saved guest register.
func (v *VCPU) SetReg(r Reg, val uint64) error {
	if v == nil {
		return fmt.Errorf("rmm: VCPU is nil")
	}
	if !r.Valid() {
		return fmt.Errorf("rmm: invalid register %d (must be %d-%d)", r, RegX0, RegLR)
	}
	v.Context.Regs[r] = val
	return nil
}

// RegBatch is a set of register values keyed by register.
type RegBatch map[Reg]uint64

// GetRegs retrieves multiple guest registers.
func (v *VCPU) GetRegs(regs []Reg) (RegBatch, error) {
	if v == nil {
		return nil, fmt.Errorf("rmm: VCPU is nil")
	}

	batch := make(RegBatch, len(regs))
	for _, reg := range regs {
		val, err := v.GetReg(reg)
		if err != nil {
			return nil, err
		}
		batch[reg] = val
	}
	return batch, nil
}

// SetRegs sets multiple guest registers.
func (v *VCPU) SetRegs(batch RegBatch) error {
	if v == nil {
		return fmt.Errorf("rmm: VCPU is nil")
	}

	for reg, val := range batch {
		if err := v.SetReg(reg, val); err != nil {
			return err
		}
	}
	return nil
}
