package runtime

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// Work group limits.
const (
	MaxWorkGroupSize = 1024

	maxThreadsSIMD32 = 32
	maxThreadsNarrow = 64

	// grfSize is the size of one general register file entry, the unit
	// payload lengths are counted in.
	grfSize = 32
)

// layout is how one dispatch is spread over hardware threads.
type layout struct {
	global types.NDRange
	local  types.NDRange
	groups types.NDRange

	simd     int
	simdCode hwcmd.SIMDSize

	// threadsX is the number of threads covering one row of a group;
	// threads covers the whole group.
	threadsX uint32
	threads  uint32

	crossThreadSize uint32
	localIDAxes     int
	localIDSize     uint32
	perThreadSize   uint32
	urbReadLength   uint32
	indirectSize    uint32
}

// checkSizes validates the dispatch geometry before anything is allocated.
func checkSizes(global, local types.NDRange) error {
	for i := 0; i < 3; i++ {
		if local.Axis(i) == 0 {
			return fmt.Errorf("%w: %s has a zero axis", ErrInvalidLocalSize, local)
		}
		if global.Axis(i) == 0 {
			return fmt.Errorf("%w: %s has a zero axis", ErrInvalidGlobalSize, global)
		}
	}
	if local.Total() > MaxWorkGroupSize {
		return fmt.Errorf("%w: %s is %d invocations, limit %d", ErrInvalidLocalSize, local, local.Total(), MaxWorkGroupSize)
	}
	for i := 0; i < 3; i++ {
		if global.Axis(i)%local.Axis(i) != 0 {
			return fmt.Errorf("%w: global %s, local %s", ErrSizeMismatch, global, local)
		}
	}
	return nil
}

func compiledFor(ee *progbin.ExecutionEnvironment, simd int) bool {
	switch simd {
	case 8:
		return ee.CompiledSIMD8 == 1
	case 16:
		return ee.CompiledSIMD16 == 1
	case 32:
		return ee.CompiledSIMD32 == 1
	}
	return false
}

// selectSIMD picks the widest compiled SIMD width that divides the group's
// x extent and keeps the group within maxThreads. It returns the width and
// the number of threads per group.
func selectSIMD(ee *progbin.ExecutionEnvironment, local types.NDRange, maxThreads uint32) (int, uint32, error) {
	for simd := int(ee.LargestCompiledSIMDSize); simd >= 8; simd /= 2 {
		if !compiledFor(ee, simd) || local.X%uint32(simd) != 0 {
			continue
		}
		threads := local.X / uint32(simd) * local.Y * local.Z
		if threads > maxThreads {
			continue
		}

		limit := uint32(maxThreadsNarrow)
		if simd == 32 {
			limit = maxThreadsSIMD32
		}
		if threads > limit {
			return 0, 0, fmt.Errorf("%w: %d SIMD%d threads, limit %d", ErrTooManyThreads, threads, simd, limit)
		}
		return simd, threads, nil
	}
	return 0, 0, fmt.Errorf("%w: local size %s, largest compiled width %d, %d threads available",
		ErrNoSIMDWidth, local, ee.LargestCompiledSIMDSize, maxThreads)
}

// layout computes the dispatch of k over global in groups of local.
func (k *Kernel) layout(global, local types.NDRange, maxThreads, maxIndirect uint32) (*layout, error) {
	if err := checkSizes(global, local); err != nil {
		return nil, err
	}
	simd, threads, err := selectSIMD(k.bin.Params.ExecutionEnvironment, local, maxThreads)
	if err != nil {
		return nil, err
	}
	code, err := hwcmd.SIMDSizeFor(simd)
	if err != nil {
		return nil, err
	}

	l := &layout{
		global:          global,
		local:           local,
		groups:          types.NDRange{X: global.X / local.X, Y: global.Y / local.Y, Z: global.Z / local.Z},
		simd:            simd,
		simdCode:        code,
		threadsX:        local.X / uint32(simd),
		threads:         threads,
		crossThreadSize: k.crossThreadSize,
		localIDAxes:     k.bin.Params.ThreadPayload.LocalIDCount(),
		localIDSize:     grfSize,
	}
	if simd == 32 {
		l.localIDSize = 2 * grfSize
	}

	l.perThreadSize = uint32(l.localIDAxes) * l.localIDSize
	if k.bin.Params.ThreadPayload.UnusedPerThreadConstantPresent != 0 {
		l.perThreadSize += grfSize
	}
	l.urbReadLength = (l.perThreadSize + grfSize - 1) / grfSize

	indirect := uint64(l.urbReadLength)*grfSize*uint64(threads) + uint64(l.crossThreadSize)
	if indirect >= uint64(maxIndirect) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrIndirectDataSize, indirect, maxIndirect)
	}
	l.indirectSize = uint32(indirect)
	return l, nil
}

// writePerThread fills the per-thread blocks that follow the cross-thread
// data. Each thread gets one vector of u16 local ids per axis, x varying
// fastest.
func (l *layout) writePerThread(dst []byte) {
	if l.localIDAxes == 0 {
		return
	}
	block := l.urbReadLength * grfSize
	for t := uint32(0); t < l.threads; t++ {
		base := dst[t*block : (t+1)*block]
		for lane := uint32(0); lane < uint32(l.simd); lane++ {
			i := t*uint32(l.simd) + lane
			ids := [3]uint32{
				i % l.local.X,
				i / l.local.X % l.local.Y,
				i / (l.local.X * l.local.Y),
			}
			for axis, id := range ids {
				binary.LittleEndian.PutUint16(base[uint32(axis)*l.localIDSize+2*lane:], uint16(id))
			}
		}
	}
}

// workDimensions returns the number of axes global spans.
func workDimensions(global types.NDRange) uint32 {
	switch {
	case global.Z > 1:
		return 3
	case global.Y > 1:
		return 2
	}
	return 1
}
