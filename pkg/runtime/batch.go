package runtime

import (
	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
)

// Memory object control state values, already shifted into the index
// field the hardware expects.
const (
	mocsUncached = 0 << 1
	mocsCached   = 2 << 1
)

// Front end and L3 programming used for every dispatch.
const (
	vfeURBEntries        = 1
	vfeURBAllocationSize = 1922

	l3URBAllocation = 0x10
	l3AllAllocation = 0x30

	pipelineSelectMask = 0x13

	// maxVFEThreads is the most threads MEDIA_VFE_STATE can describe; its
	// field holds the count minus one in 16 bits.
	maxVFEThreads = 1 << 16
)

// completionSentinel is written to the completion flag by the last
// command of the inner batch.
const completionSentinel = 1

// innerBatch dispatches the walker and signals completion through flag.
func innerBatch(enc *hwcmd.Encoder, l *layout, flag uint64) ([]byte, error) {
	b := enc.NewBatch().Add(
		hwcmd.MediaStateFlush{},
		hwcmd.MediaInterfaceDescriptorLoad{
			TotalLength:      hwcmd.InterfaceDescriptorSize,
			DataStartAddress: 0,
		},
		hwcmd.GPGPUWalker{
			InterfaceDescriptorOffset:  0,
			IndirectDataLength:         l.indirectSize,
			IndirectDataStartAddress:   0,
			SIMDSize:                   l.simdCode,
			ThreadWidthCounterMaximum:  uint8(l.threadsX - 1),
			ThreadHeightCounterMaximum: uint8(l.local.Y - 1),
			ThreadDepthCounterMaximum:  uint8(l.local.Z - 1),
			ThreadGroupIDXDimension:    l.groups.X,
			ThreadGroupIDYDimension:    l.groups.Y,
			ThreadGroupIDZDimension:    l.groups.Z,
			RightExecutionMask:         0xffffffff,
			BottomExecutionMask:        0xffffffff,
		},
		hwcmd.MediaStateFlush{},
		hwcmd.PipeControl{CSStall: true},
		hwcmd.PipeControl{
			CSStall:       true,
			DCFlush:       true,
			PostSyncOp:    hwcmd.PostSyncWriteImmediate,
			Address:       flag,
			ImmediateData: completionSentinel,
		},
		hwcmd.MIBatchBufferEnd{},
		hwcmd.MINoop{},
	)
	return b.Bytes()
}

// outerBatch sets up the GPGPU pipeline and chains to the inner batch.
func outerBatch(enc *hwcmd.Encoder, maxThreads uint32, o *execObjects) ([]byte, error) {
	l3, err := hwcmd.L3Config{
		SLMEnable:     true,
		URBAllocation: l3URBAllocation,
		AllAllocation: l3AllAllocation,
	}.LRI()
	if err != nil {
		return nil, err
	}

	base := func(obj device.Object, mocs uint8, sized bool) hwcmd.StateBase {
		b := hwcmd.StateBase{Address: obj.Addr, Set: true, MOCS: mocs}
		if sized {
			b.Size, b.SizeSet = uint32(types.AlignUp(obj.Size, pageBytes)/pageBytes), true
		}
		return b
	}

	b := enc.NewBatch().Add(
		hwcmd.PipeControl{CSStall: true, RenderTargetCacheFlush: true, DCFlush: true, DepthCacheFlush: true},
		hwcmd.PipeControl{
			CSStall:                    true,
			TextureCacheInvalidate:     true,
			ConstantCacheInvalidate:    true,
			StateCacheInvalidate:       true,
			InstructionCacheInvalidate: true,
		},
		hwcmd.PipelineSelect{Pipeline: hwcmd.PipelineGPGPU, MaskBits: pipelineSelectMask, DOPClockGateEnable: true},
		l3,
		hwcmd.PipeControl{CSStall: true, RenderTargetCacheFlush: true, DCFlush: true, DepthCacheFlush: true},
		hwcmd.MediaVFEState{
			MaximumNumberOfThreads: uint16(maxThreads - 1),
			NumberOfURBEntries:     vfeURBEntries,
			URBEntryAllocationSize: vfeURBAllocationSize,
		},
		hwcmd.CSChicken1{ReplayMode: hwcmd.ReplayMidCommandBuffer}.LRI(),
		hwcmd.PipeControl{TextureCacheInvalidate: true, DCFlush: true},
		hwcmd.StateBaseAddress{
			General:               base(o.general, mocsUncached, true),
			Surface:               base(o.surface, mocsUncached, false),
			Dynamic:               base(o.dynamic, mocsUncached, true),
			IndirectObject:        base(o.indirect, mocsUncached, true),
			Instruction:           base(o.instruction, mocsCached, true),
			BindlessSurface:       base(o.bindless, mocsUncached, false),
			StatelessDataPortMOCS: mocsCached,
		},
		hwcmd.PipeControl{CSStall: true},
		hwcmd.MIBatchBufferStart{AddressSpace: hwcmd.AddressSpacePPGTT, Address: o.inner.Addr},
		hwcmd.MINoop{},
	)
	return padBatch(b).Bytes()
}

// pageBytes is the unit of STATE_BASE_ADDRESS sizes.
const pageBytes = 4096

// padBatch appends no-ops until the batch is a whole number of quadwords,
// which the device requires of an executed batch.
func padBatch(b *hwcmd.Batch) *hwcmd.Batch {
	n, err := b.Size()
	if err != nil {
		return b
	}
	for ; n%8 != 0; n += 4 {
		b.Add(hwcmd.MINoop{})
	}
	return b
}
