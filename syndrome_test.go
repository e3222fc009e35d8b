package rmm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeSyndrome(t *testing.T) {
	tests := []struct {
		name  string
		esr   uint32
		class ExceptionClass
	}{
		{"brk #0", 0xF2000000, ClassBrk},
		{"brk #0x1234", 0xF2001234, ClassBrk},
		{"hvc #0", 0x5A000000, ClassHVC},
		{"smc #0", 0x5E000000, ClassSMC},
		{"msr/mrs", 0x62000000, ClassSysRegInst},
		{"wfi", 0x06000000, ClassWFx},
		{"instruction abort lower", 0x82000000, ClassInstructionAbort},
		{"instruction abort same", 0x86000000, ClassInstructionAbort},
		{"pc alignment", 0x8A000000, ClassPCAlignmentFault},
		{"data abort lower", 0x92000046, ClassDataAbort},
		{"data abort same", 0x96000046, ClassDataAbort},
		{"sp alignment", 0x9A000000, ClassSPAlignmentFault},
		{"unknown reason", 0x00000000, ClassUndefined},
		{"svc64", 0x56000000, ClassUndefined},
		{"all ones", 0xFFFFFFFF, ClassUndefined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DecodeSyndrome(tt.esr)
			if s.Class != tt.class {
				t.Errorf("DecodeSyndrome(%#x).Class = %v, want %v", tt.esr, s.Class, tt.class)
			}
			if s.Raw != tt.esr {
				t.Errorf("DecodeSyndrome(%#x).Raw = %#x, want the input", tt.esr, s.Raw)
			}
		})
	}
}

func TestDecodeSyndromeBrkComment(t *testing.T) {
	s := DecodeSyndrome(0xF200BEEF)
	require.Equal(t, ClassBrk, s.Class)
	require.Equal(t, uint16(0xBEEF), s.Comment())
	require.Equal(t, "Brk(0xbeef)", s.String())
}

func TestDecodeSyndromeUndefinedKeepsRaw(t *testing.T) {
	s := DecodeSyndrome(0x56000011)
	require.Equal(t, ClassUndefined, s.Class)
	require.Equal(t, uint8(0x15), s.EC())
	require.Equal(t, "Undefined(EC=0x15, ESR=0x56000011)", s.String())
}

func TestDecodeSyndromeTotalAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Every exception class, with random low bits.
	for ec := uint32(0); ec < 64; ec++ {
		for i := 0; i < 64; i++ {
			esr := ec<<esrECShift | rng.Uint32()&0x03ff_ffff
			first := DecodeSyndrome(esr)
			second := DecodeSyndrome(esr)
			require.Equal(t, first, second, "esr %#x", esr)
			require.Less(t, int(first.Class), len(classNames), "esr %#x", esr)
			require.Equal(t, uint8(ec), first.EC())
		}
	}
}

func TestInfoPacking(t *testing.T) {
	for _, src := range []Source{CurrentSPEL0, CurrentSPELx, LowerAArch64, LowerAArch32} {
		for _, kind := range []Kind{Synchronous, Irq, Fiq, SError} {
			info := Info{Source: src, Kind: kind}
			require.Equal(t, info, UnpackInfo(info.Pack()))
		}
	}

	info := UnpackInfo(0x0003_0002)
	require.Equal(t, LowerAArch64, info.Source)
	require.Equal(t, SError, info.Kind)
	require.True(t, info.IsLower())
	require.Equal(t, "Info{Source: LowerAArch64, Kind: SError}", info.String())
}
