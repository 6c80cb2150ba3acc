package hwcmd

import (
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/bitview"
)

// MMIO register offsets.
const (
	RegL3CNTLREG  = 0x7034
	RegCSChicken1 = 0x2580
)

// L3CNTLREG fields.
var (
	L3SLMEnable     = bitview.Field{Word: 0, Low: 0, High: 0}
	L3URBAllocation = bitview.Field{Word: 0, Low: 1, High: 7}
	L3ROAllocation  = bitview.Field{Word: 0, Low: 11, High: 17}
	L3DCAllocation  = bitview.Field{Word: 0, Low: 18, High: 24}
	L3AllAllocation = bitview.Field{Word: 0, Low: 25, High: 31}
)

// L3Config is the value written to L3CNTLREG. Allocations are in L3 ways.
type L3Config struct {
	SLMEnable     bool
	URBAllocation uint32
	ROAllocation  uint32
	DCAllocation  uint32
	AllAllocation uint32
}

// Value packs c into a register value.
func (c L3Config) Value() (uint32, error) {
	w := []uint32{0}
	for _, f := range []struct {
		name  string
		field bitview.Field
		v     uint32
	}{
		{"URB", L3URBAllocation, c.URBAllocation},
		{"RO", L3ROAllocation, c.ROAllocation},
		{"DC", L3DCAllocation, c.DCAllocation},
		{"all", L3AllAllocation, c.AllAllocation},
	} {
		if f.v > f.field.Max() {
			return 0, fmt.Errorf("%w: L3 %s allocation %d exceeds %d", ErrInvalidArgument, f.name, f.v, f.field.Max())
		}
		f.field.Set(w, f.v)
	}
	L3SLMEnable.Set(w, b2u(c.SLMEnable))
	return w[0], nil
}

// LRI returns the register load that programs c.
func (c L3Config) LRI() (MILoadRegisterImm, error) {
	v, err := c.Value()
	if err != nil {
		return MILoadRegisterImm{}, err
	}
	return MILoadRegisterImm{Register: RegL3CNTLREG, Data: v}, nil
}

// ParseL3Config unpacks a register value.
func ParseL3Config(v uint32) L3Config {
	w := []uint32{v}
	return L3Config{
		SLMEnable:     L3SLMEnable.Get(w) != 0,
		URBAllocation: L3URBAllocation.Get(w),
		ROAllocation:  L3ROAllocation.Get(w),
		DCAllocation:  L3DCAllocation.Get(w),
		AllAllocation: L3AllAllocation.Get(w),
	}
}

// ReplayMode selects the command streamer preemption replay mode.
type ReplayMode uint32

const (
	ReplayMidCommandBuffer ReplayMode = 0
	ReplayObjectLevel      ReplayMode = 1
)

const (
	csChicken1ReplayMode = 1 << 0
	csChicken1ReplayMask = 1 << 16
)

// CSChicken1 is the value written to CS_CHICKEN1. Only the replay mode bit
// is modeled; its write-mask bit is always set.
type CSChicken1 struct {
	ReplayMode ReplayMode
}

// Value packs c into a register value.
func (c CSChicken1) Value() uint32 {
	return uint32(c.ReplayMode)&csChicken1ReplayMode | csChicken1ReplayMask
}

// LRI returns the register load that programs c.
func (c CSChicken1) LRI() MILoadRegisterImm {
	return MILoadRegisterImm{Register: RegCSChicken1, Data: c.Value()}
}

// Shared local memory limits.
const (
	MaxSLMSize  = 64 * 1024
	maxSLMCode  = 7
	slmUnitSize = 1024
)

// SLMSizeCode returns the interface descriptor code for an SLM allocation of
// size bytes: 0 for none, otherwise the smallest power of two step from 1KiB
// that holds size.
func SLMSizeCode(size uint32) (uint32, error) {
	if size > MaxSLMSize {
		return 0, fmt.Errorf("%w: SLM size %d exceeds %d", ErrInvalidArgument, size, MaxSLMSize)
	}
	if size == 0 {
		return 0, nil
	}
	code := uint32(1)
	for s := uint32(slmUnitSize); s < size; s <<= 1 {
		code++
	}
	return code, nil
}

// SLMSizeBytes returns the SLM allocation encoded by code.
func SLMSizeBytes(code uint32) (uint32, error) {
	if code > maxSLMCode {
		return 0, fmt.Errorf("%w: SLM size code %d exceeds %d", ErrInvalidArgument, code, maxSLMCode)
	}
	if code == 0 {
		return 0, nil
	}
	return slmUnitSize << (code - 1), nil
}
