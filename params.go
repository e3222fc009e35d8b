package rmm

import (
	"encoding/binary"
	"fmt"
)

// Realm parameter block layout, one granule, little endian.
const (
	paramsFeatures0Off     = 0x000
	paramsHashAlgoOff      = 0x100
	paramsRPVOff           = 0x400
	paramsVMIDOff          = 0x800
	paramsRTTBaseOff       = 0x808
	paramsRTTLevelStartOff = 0x810
	paramsRTTNumStartOff   = 0x818

	// RPVSize is the size of the realm personalization value.
	RPVSize = 64
)

// HashAlgo selects the realm measurement algorithm.
type HashAlgo uint8

const (
	HashSHA256 HashAlgo = 0
	HashSHA512 HashAlgo = 1
)

func (h HashAlgo) String() string {
	switch h {
	case HashSHA256:
		return "SHA-256"
	case HashSHA512:
		return "SHA-512"
	default:
		return fmt.Sprintf("HashAlgo(%d)", uint8(h))
	}
}

// Params is the host-supplied realm parameter block read by REALM_CREATE.
// Values are recorded as given; checking them against platform limits is
// left to the realm model.
type Params struct {
	Features0     uint64        `json:"features_0" yaml:"features_0"`
	HashAlgo      HashAlgo      `json:"hash_algo" yaml:"hash_algo"`
	RPV           [RPVSize]byte `json:"-" yaml:"-"`
	VMID          uint16        `json:"vmid" yaml:"vmid"`
	RTTBase       uint64        `json:"rtt_base" yaml:"rtt_base"`
	RTTLevelStart int64         `json:"rtt_level_start" yaml:"rtt_level_start"`
	RTTNumStart   uint32        `json:"rtt_num_start" yaml:"rtt_num_start"`
}

// ParseParams reads a parameter block from a granule mapped at addr.
func ParseParams(m Mapper, addr uint64) (Params, error) {
	var p Params
	buf, err := m.Read(addr, GranuleSize)
	if err != nil {
		return p, fmt.Errorf("read params at 0x%x: %w", addr, err)
	}
	if err := p.UnmarshalBinary(buf); err != nil {
		return p, fmt.Errorf("params at 0x%x: %w", addr, err)
	}
	return p, nil
}

// UnmarshalBinary decodes a granule-sized parameter block.
func (p *Params) UnmarshalBinary(buf []byte) error {
	if len(buf) < GranuleSize {
		return fmt.Errorf("parameter block is %d bytes, want %d: %w", len(buf), GranuleSize, ErrInvalidParams)
	}
	le := binary.LittleEndian
	p.Features0 = le.Uint64(buf[paramsFeatures0Off:])
	p.HashAlgo = HashAlgo(buf[paramsHashAlgoOff])
	copy(p.RPV[:], buf[paramsRPVOff:paramsRPVOff+RPVSize])
	p.VMID = le.Uint16(buf[paramsVMIDOff:])
	p.RTTBase = le.Uint64(buf[paramsRTTBaseOff:])
	p.RTTLevelStart = int64(le.Uint64(buf[paramsRTTLevelStartOff:]))
	p.RTTNumStart = le.Uint32(buf[paramsRTTNumStartOff:])
	return nil
}

// MarshalBinary encodes the block into one granule.
func (p Params) MarshalBinary() ([]byte, error) {
	buf := make([]byte, GranuleSize)
	le := binary.LittleEndian
	le.PutUint64(buf[paramsFeatures0Off:], p.Features0)
	buf[paramsHashAlgoOff] = byte(p.HashAlgo)
	copy(buf[paramsRPVOff:], p.RPV[:])
	le.PutUint16(buf[paramsVMIDOff:], p.VMID)
	le.PutUint64(buf[paramsRTTBaseOff:], p.RTTBase)
	le.PutUint64(buf[paramsRTTLevelStartOff:], uint64(p.RTTLevelStart))
	le.PutUint32(buf[paramsRTTNumStartOff:], p.RTTNumStart)
	return buf, nil
}
