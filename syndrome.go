package rmm

import "fmt"

// ESR_EL2 field layout
const (
	esrECShift = 26
	esrECMask  = 0x3f << esrECShift
	esrILBit   = 1 << 25
	esrISSMask = 0x01ff_ffff
	esrBrkMask = 0xffff
)

// ExceptionClass is the decoded ESR_EL2.EC field, reduced to the classes the
// monitor distinguishes.
type ExceptionClass uint8

const (
	// ClassUndefined covers every EC value without a dedicated class.
	ClassUndefined ExceptionClass = iota
	ClassWFx
	ClassHVC
	ClassSMC
	ClassSysRegInst
	ClassInstructionAbort
	ClassPCAlignmentFault
	ClassDataAbort
	ClassSPAlignmentFault
	ClassBrk
)

// Architectural EC encodings (AArch64 state)
const (
	ecWFx            = 0b00_0001
	ecHVC64          = 0b01_0110
	ecSMC64          = 0b01_0111
	ecSysReg         = 0b01_1000
	ecInstAbortLower = 0b10_0000
	ecInstAbortSame  = 0b10_0001
	ecPCAlignment    = 0b10_0010
	ecDataAbortLower = 0b10_0100
	ecDataAbortSame  = 0b10_0101
	ecSPAlignment    = 0b10_0110
	ecBrk64          = 0b11_1100
)

var classNames = [...]string{
	ClassUndefined:        "Undefined",
	ClassWFx:              "WFx",
	ClassHVC:              "HVC",
	ClassSMC:              "SMC",
	ClassSysRegInst:       "SysRegInst",
	ClassInstructionAbort: "InstructionAbort",
	ClassPCAlignmentFault: "PCAlignmentFault",
	ClassDataAbort:        "DataAbort",
	ClassSPAlignmentFault: "SPAlignmentFault",
	ClassBrk:              "Brk",
}

func (c ExceptionClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("ExceptionClass(%d)", uint8(c))
}

// Syndrome is a decoded exception syndrome.
type Syndrome struct {
	Class ExceptionClass
	// ISS is the instruction specific syndrome, ESR[24:0].
	ISS uint32
	// Raw is the untouched register value, kept for diagnostics.
	Raw uint32
}

// DecodeSyndrome maps an ESR_EL2 value to a Syndrome. Every input decodes;
// unknown exception classes become ClassUndefined.
func DecodeSyndrome(esr uint32) Syndrome {
	s := Syndrome{ISS: esr & esrISSMask, Raw: esr}
	switch (esr & esrECMask) >> esrECShift {
	case ecWFx:
		s.Class = ClassWFx
	case ecHVC64:
		s.Class = ClassHVC
	case ecSMC64:
		s.Class = ClassSMC
	case ecSysReg:
		s.Class = ClassSysRegInst
	case ecInstAbortLower, ecInstAbortSame:
		s.Class = ClassInstructionAbort
	case ecPCAlignment:
		s.Class = ClassPCAlignmentFault
	case ecDataAbortLower, ecDataAbortSame:
		s.Class = ClassDataAbort
	case ecSPAlignment:
		s.Class = ClassSPAlignmentFault
	case ecBrk64:
		s.Class = ClassBrk
	default:
		s.Class = ClassUndefined
	}
	return s
}

// EC returns the raw exception class field.
func (s Syndrome) EC() uint8 {
	return uint8((s.Raw & esrECMask) >> esrECShift)
}

// Comment returns the BRK immediate. Only meaningful for ClassBrk.
func (s Syndrome) Comment() uint16 {
	return uint16(s.Raw & esrBrkMask)
}

// Is32BitInstruction reports the ESR.IL bit.
func (s Syndrome) Is32BitInstruction() bool {
	return s.Raw&esrILBit != 0
}

func (s Syndrome) String() string {
	switch s.Class {
	case ClassBrk:
		return fmt.Sprintf("Brk(%#x)", s.Comment())
	case ClassUndefined:
		return fmt.Sprintf("Undefined(EC=%#x, ESR=%#x)", s.EC(), s.Raw)
	default:
		return fmt.Sprintf("%v(ISS=%#x)", s.Class, s.ISS)
	}
}
