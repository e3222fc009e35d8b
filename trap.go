package rmm

import "fmt"

// Source identifies the exception level and stack an exception was taken from.
type Source uint16

const (
	CurrentSPEL0 Source = iota
	CurrentSPELx
	LowerAArch64
	LowerAArch32
)

func (s Source) String() string {
	switch s {
	case CurrentSPEL0:
		return "CurrentSPEL0"
	case CurrentSPELx:
		return "CurrentSPELx"
	case LowerAArch64:
		return "LowerAArch64"
	case LowerAArch32:
		return "LowerAArch32"
	default:
		return fmt.Sprintf("Source(%d)", uint16(s))
	}
}

// Kind is the exception type selected by the vector table slot.
type Kind uint16

const (
	Synchronous Kind = iota
	Irq
	Fiq
	SError
)

func (k Kind) String() string {
	switch k {
	case Synchronous:
		return "Synchronous"
	case Irq:
		return "Irq"
	case Fiq:
		return "Fiq"
	case SError:
		return "SError"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// Info describes one delivered exception. The vector stubs pass it packed into
// 32 bits: source in bits [15:0], kind in bits [31:16].
type Info struct {
	Source Source
	Kind   Kind
}

// UnpackInfo splits the packed vector stub argument.
func UnpackInfo(raw uint32) Info {
	return Info{
		Source: Source(raw & 0xffff),
		Kind:   Kind(raw >> 16),
	}
}

// Pack is the inverse of UnpackInfo.
func (i Info) Pack() uint32 {
	return uint32(i.Source) | uint32(i.Kind)<<16
}

func (i Info) String() string {
	return fmt.Sprintf("Info{Source: %v, Kind: %v}", i.Source, i.Kind)
}

// IsLower reports whether the exception was taken from a lower exception level.
func (i Info) IsLower() bool {
	return i.Source == LowerAArch64 || i.Source == LowerAArch32
}
