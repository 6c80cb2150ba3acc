package hwcmd

import (
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// Gen9 word 0 templates.
const (
	gen9PipeControl           = 0x7A000004
	gen9PipelineSelect        = 0x69040000
	gen9StateBaseAddress      = 0x61010000
	gen9MediaVFEState         = 0x70000007
	gen9MediaIDLoad           = 0x70020002
	gen9MediaCurbeLoad        = 0x70010002
	gen9MediaStateFlush       = 0x70040000
	gen9GPGPUWalker           = 0x7105000D
	gen9MIBatchBufferStart    = 0x18800001
	gen9MIBatchBufferEnd      = 0x05000000
	gen9MINoop                = 0x00000000
	gen9MILoadRegisterImm     = 0x11000001
	gen9MIRSControl           = 0x03000000
	gen9CCStatePointers       = 0x780E0000
	gen9BindingTablePoolAlloc = 0x79190002

	miMask  = 0xff800000
	gfxMask = 0xffff0000
)

// Address masks.
const (
	pageAddressMask  = 0x0000_ffff_ffff_f000
	dwordAddressMask = 0x0000_ffff_ffff_fffc
	generalStateEnd  = uint64(1) << types.AddressBits
	pageShift        = 12
)

// PIPE_CONTROL dw1 bits.
const (
	pcDepthCacheFlush            = 1 << 0
	pcStateCacheInvalidate       = 1 << 2
	pcConstantCacheInvalidate    = 1 << 3
	pcVFCacheInvalidate          = 1 << 4
	pcDCFlush                    = 1 << 5
	pcTextureCacheInvalidate     = 1 << 10
	pcInstructionCacheInvalidate = 1 << 11
	pcRenderTargetCacheFlush     = 1 << 12
	pcPostSyncShift              = 14
	pcGenericMediaStateClear     = 1 << 16
	pcCSStall                    = 1 << 20
)

var gen9Commands = map[Kind]codec{
	KindPipeControl: {
		opcode:  gen9PipeControl &^ 0xff,
		mask:    gfxMask,
		size:    fixed(6),
		encode:  encodePipeControl,
		decode:  decodePipeControl,
		minSize: 6,
	},
	KindPipelineSelect: {
		opcode:  gen9PipelineSelect,
		mask:    gfxMask,
		size:    fixed(1),
		encode:  encodePipelineSelect,
		decode:  decodePipelineSelect,
		minSize: 1,
	},
	KindStateBaseAddress: {
		opcode:  gen9StateBaseAddress,
		mask:    gfxMask,
		size:    sizeStateBaseAddress,
		encode:  encodeStateBaseAddress,
		decode:  decodeStateBaseAddress,
		minSize: 18,
	},
	KindMediaVFEState: {
		opcode:  gen9MediaVFEState &^ 0xff,
		mask:    gfxMask,
		size:    fixed(9),
		encode:  encodeMediaVFEState,
		decode:  decodeMediaVFEState,
		minSize: 9,
	},
	KindMediaInterfaceDescriptorLoad: {
		opcode:  gen9MediaIDLoad &^ 0xff,
		mask:    gfxMask,
		size:    fixed(4),
		encode:  encodeMediaIDLoad,
		decode:  decodeMediaIDLoad,
		minSize: 4,
	},
	KindMediaCurbeLoad: {
		opcode:  gen9MediaCurbeLoad &^ 0xff,
		mask:    gfxMask,
		size:    fixed(4),
		encode:  encodeMediaCurbeLoad,
		decode:  decodeMediaCurbeLoad,
		minSize: 4,
	},
	KindMediaStateFlush: {
		opcode:  gen9MediaStateFlush,
		mask:    gfxMask,
		size:    fixed(2),
		encode:  encodeMediaStateFlush,
		decode:  decodeMediaStateFlush,
		minSize: 2,
	},
	KindGPGPUWalker: {
		opcode:  gen9GPGPUWalker &^ 0xff,
		mask:    gfxMask,
		size:    fixed(15),
		encode:  encodeGPGPUWalker,
		decode:  decodeGPGPUWalker,
		minSize: 15,
	},
	KindMIBatchBufferStart: {
		opcode:  gen9MIBatchBufferStart &^ 0x7fffff,
		mask:    miMask,
		size:    fixed(3),
		encode:  encodeMIBatchBufferStart,
		decode:  decodeMIBatchBufferStart,
		minSize: 3,
	},
	KindMIBatchBufferEnd: {
		opcode:  gen9MIBatchBufferEnd,
		mask:    miMask,
		size:    fixed(1),
		encode:  encodeMIBatchBufferEnd,
		decode:  decodeMIBatchBufferEnd,
		minSize: 1,
	},
	KindMINoop: {
		opcode:  gen9MINoop,
		mask:    miMask,
		size:    fixed(1),
		encode:  encodeMINoop,
		decode:  decodeMINoop,
		minSize: 1,
	},
	KindMILoadRegisterImm: {
		opcode:  gen9MILoadRegisterImm &^ 0x7fffff,
		mask:    miMask,
		size:    fixed(3),
		encode:  encodeMILoadRegisterImm,
		decode:  decodeMILoadRegisterImm,
		minSize: 3,
	},
	KindMIRSControl: {
		opcode:  gen9MIRSControl,
		mask:    miMask,
		size:    fixed(1),
		encode:  encodeMIRSControl,
		decode:  decodeMIRSControl,
		minSize: 1,
	},
	KindCCStatePointers: {
		opcode:  gen9CCStatePointers,
		mask:    gfxMask,
		size:    fixed(2),
		encode:  encodeCCStatePointers,
		decode:  decodeCCStatePointers,
		minSize: 2,
	},
	KindBindingTablePoolAlloc: {
		opcode:  gen9BindingTablePoolAlloc &^ 0xff,
		mask:    gfxMask,
		size:    fixed(4),
		encode:  encodeBindingTablePoolAlloc,
		decode:  decodeBindingTablePoolAlloc,
		minSize: 4,
	},
}

func fixed(n int) func(Command) int {
	return func(Command) int { return n }
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// canonicalPage masks addr to a page and sign-extends it from bit 47.
func canonicalPage(addr uint64) uint64 {
	return types.CanonicalAddress(addr & pageAddressMask)
}

func encodePipeControl(c Command, w []uint32) error {
	pc := c.(PipeControl)
	if pc.PostSyncOp > PostSyncWriteTimestamp {
		return fmt.Errorf("%w: post-sync op %d", ErrInvalidArgument, pc.PostSyncOp)
	}
	if pc.Address&3 != 0 {
		return fmt.Errorf("%w: post-sync address 0x%x is not dword aligned", ErrInvalidArgument, pc.Address)
	}

	flags := []struct {
		set bool
		bit uint32
	}{
		{pc.DepthCacheFlush, pcDepthCacheFlush},
		{pc.StateCacheInvalidate, pcStateCacheInvalidate},
		{pc.ConstantCacheInvalidate, pcConstantCacheInvalidate},
		{pc.VFCacheInvalidate, pcVFCacheInvalidate},
		{pc.DCFlush, pcDCFlush},
		{pc.TextureCacheInvalidate, pcTextureCacheInvalidate},
		{pc.InstructionCacheInvalidate, pcInstructionCacheInvalidate},
		{pc.RenderTargetCacheFlush, pcRenderTargetCacheFlush},
		{pc.GenericMediaStateClear, pcGenericMediaStateClear},
		{pc.CSStall, pcCSStall},
	}

	w[0] = gen9PipeControl
	for _, f := range flags {
		if f.set {
			w[1] |= f.bit
		}
	}
	w[1] |= uint32(pc.PostSyncOp) << pcPostSyncShift

	addr := pc.Address & dwordAddressMask
	w[2] = uint32(addr)
	w[3] = uint32(addr >> 32)
	w[4] = uint32(pc.ImmediateData)
	w[5] = uint32(pc.ImmediateData >> 32)
	return nil
}

func decodePipeControl(w []uint32) Command {
	dw1 := w[1]
	return PipeControl{
		DepthCacheFlush:            dw1&pcDepthCacheFlush != 0,
		StateCacheInvalidate:       dw1&pcStateCacheInvalidate != 0,
		ConstantCacheInvalidate:    dw1&pcConstantCacheInvalidate != 0,
		VFCacheInvalidate:          dw1&pcVFCacheInvalidate != 0,
		DCFlush:                    dw1&pcDCFlush != 0,
		TextureCacheInvalidate:     dw1&pcTextureCacheInvalidate != 0,
		InstructionCacheInvalidate: dw1&pcInstructionCacheInvalidate != 0,
		RenderTargetCacheFlush:     dw1&pcRenderTargetCacheFlush != 0,
		GenericMediaStateClear:     dw1&pcGenericMediaStateClear != 0,
		CSStall:                    dw1&pcCSStall != 0,
		PostSyncOp:                 PostSyncOp(dw1>>pcPostSyncShift) & 3,
		Address:                    uint64(w[2]) | uint64(w[3]&0xffff)<<32,
		ImmediateData:              uint64(w[4]) | uint64(w[5])<<32,
	}
}

func encodePipelineSelect(c Command, w []uint32) error {
	ps := c.(PipelineSelect)
	if ps.Pipeline > PipelineGPGPU {
		return fmt.Errorf("%w: pipeline %d", ErrInvalidArgument, ps.Pipeline)
	}
	w[0] = gen9PipelineSelect |
		uint32(ps.MaskBits)<<8 |
		b2u(ps.ForceMediaAwake)<<5 |
		b2u(ps.DOPClockGateEnable)<<4 |
		uint32(ps.Pipeline)
	return nil
}

func decodePipelineSelect(w []uint32) Command {
	return PipelineSelect{
		Pipeline:           Pipeline(w[0] & 3),
		MaskBits:           uint8(w[0] >> 8),
		ForceMediaAwake:    w[0]&(1<<5) != 0,
		DOPClockGateEnable: w[0]&(1<<4) != 0,
	}
}

func sizeStateBaseAddress(c Command) int {
	if c.(StateBaseAddress).BindlessSurface.SizeSet {
		return 19
	}
	return 18
}

// putBase writes a base address pair: the low word carries MOCS and the
// modify-enable bit.
func putBase(w []uint32, b StateBase) {
	w[0] = uint32(b.MOCS&0x7f) << 4
	if b.Set {
		addr := canonicalPage(b.Address)
		w[0] |= uint32(addr&0xfffff000) | 1
		w[1] = uint32(addr >> 32)
	}
}

func getBase(w []uint32) StateBase {
	return StateBase{
		MOCS:    uint8(w[0]>>4) & 0x7f,
		Set:     w[0]&1 != 0,
		Address: uint64(w[0]&0xfffff000) | uint64(w[1])<<32,
	}
}

func putSize(b StateBase) uint32 {
	if !b.SizeSet {
		return 0
	}
	return b.Size<<pageShift | 1
}

func encodeStateBaseAddress(c Command, w []uint32) error {
	sba := c.(StateBaseAddress)

	g := sba.General
	if g.Set != g.SizeSet {
		return fmt.Errorf("%w: general state base address and size must be set together", ErrInvalidArgument)
	}
	if g.Set && (g.Address&pageAddressMask)+uint64(g.Size)<<pageShift >= generalStateEnd {
		return fmt.Errorf("%w: general state buffer end out of range", ErrInvalidArgument)
	}

	w[0] = gen9StateBaseAddress | uint32(len(w)-2)
	putBase(w[1:3], sba.General)
	w[3] = uint32(sba.StatelessDataPortMOCS&0x7f) << 16
	putBase(w[4:6], sba.Surface)
	putBase(w[6:8], sba.Dynamic)
	putBase(w[8:10], sba.IndirectObject)
	putBase(w[10:12], sba.Instruction)
	w[12] = putSize(sba.General)
	w[13] = putSize(sba.Dynamic)
	w[14] = putSize(sba.IndirectObject)
	w[15] = putSize(sba.Instruction)
	putBase(w[16:18], sba.BindlessSurface)
	if sba.BindlessSurface.SizeSet {
		w[18] = sba.BindlessSurface.Size << pageShift
	}
	return nil
}

func decodeStateBaseAddress(w []uint32) Command {
	size := func(dw uint32) (uint32, bool) { return dw >> pageShift, dw&1 != 0 }

	sba := StateBaseAddress{
		General:               getBase(w[1:3]),
		StatelessDataPortMOCS: uint8(w[3]>>16) & 0x7f,
		Surface:               getBase(w[4:6]),
		Dynamic:               getBase(w[6:8]),
		IndirectObject:        getBase(w[8:10]),
		Instruction:           getBase(w[10:12]),
		BindlessSurface:       getBase(w[16:18]),
	}
	sba.General.Size, sba.General.SizeSet = size(w[12])
	sba.Dynamic.Size, sba.Dynamic.SizeSet = size(w[13])
	sba.IndirectObject.Size, sba.IndirectObject.SizeSet = size(w[14])
	sba.Instruction.Size, sba.Instruction.SizeSet = size(w[15])
	if len(w) > 18 {
		sba.BindlessSurface.Size, sba.BindlessSurface.SizeSet = w[18]>>pageShift, true
	}
	return sba
}

func encodeMediaVFEState(c Command, w []uint32) error {
	v := c.(MediaVFEState)
	if v.NumberOfURBEntries == 0 || v.NumberOfURBEntries > 128 {
		return fmt.Errorf("%w: number of URB entries %d not in [1, 128]", ErrInvalidArgument, v.NumberOfURBEntries)
	}

	w[0] = gen9MediaVFEState
	w[1] = uint32(v.ScratchSpaceBasePointer&0xfffffc00) |
		uint32(v.StackSize&0xf)<<4 |
		uint32(v.PerThreadScratchSpace&0xf)
	w[2] = uint32(v.ScratchSpaceBasePointer>>32) & 0xffff
	w[3] = uint32(v.MaximumNumberOfThreads)<<16 |
		uint32(v.NumberOfURBEntries)<<8 |
		b2u(v.ResetGatewayTimer)<<7
	w[5] = uint32(v.URBEntryAllocationSize)<<16 | uint32(v.CURBEAllocationSize)
	return nil
}

func decodeMediaVFEState(w []uint32) Command {
	return MediaVFEState{
		ScratchSpaceBasePointer: uint64(w[1]&0xfffffc00) | uint64(w[2]&0xffff)<<32,
		StackSize:               uint8(w[1]>>4) & 0xf,
		PerThreadScratchSpace:   uint8(w[1]) & 0xf,
		MaximumNumberOfThreads:  uint16(w[3] >> 16),
		NumberOfURBEntries:      uint8(w[3] >> 8),
		ResetGatewayTimer:       w[3]&(1<<7) != 0,
		URBEntryAllocationSize:  uint16(w[5] >> 16),
		CURBEAllocationSize:     uint16(w[5]),
	}
}

func encodeMediaIDLoad(c Command, w []uint32) error {
	m := c.(MediaInterfaceDescriptorLoad)
	w[0] = gen9MediaIDLoad
	w[2] = m.TotalLength & 0x1ffff
	w[3] = m.DataStartAddress
	return nil
}

func decodeMediaIDLoad(w []uint32) Command {
	return MediaInterfaceDescriptorLoad{TotalLength: w[2] & 0x1ffff, DataStartAddress: w[3]}
}

func encodeMediaCurbeLoad(c Command, w []uint32) error {
	m := c.(MediaCurbeLoad)
	w[0] = gen9MediaCurbeLoad
	w[2] = m.TotalLength & 0x1ffff
	w[3] = m.DataStartAddress
	return nil
}

func decodeMediaCurbeLoad(w []uint32) Command {
	return MediaCurbeLoad{TotalLength: w[2] & 0x1ffff, DataStartAddress: w[3]}
}

func encodeMediaStateFlush(c Command, w []uint32) error {
	m := c.(MediaStateFlush)
	w[0] = gen9MediaStateFlush
	w[1] = b2u(m.FlushToGo) << 7
	if m.WatermarkRequired {
		w[1] |= 1<<6 | uint32(m.InterfaceDescriptorOffset&0x3f)
	}
	return nil
}

func decodeMediaStateFlush(w []uint32) Command {
	return MediaStateFlush{
		FlushToGo:                 w[1]&(1<<7) != 0,
		WatermarkRequired:         w[1]&(1<<6) != 0,
		InterfaceDescriptorOffset: uint8(w[1] & 0x3f),
	}
}

func encodeGPGPUWalker(c Command, w []uint32) error {
	g := c.(GPGPUWalker)
	if g.SIMDSize > SIMD32 {
		return fmt.Errorf("%w: SIMD size code %d", ErrInvalidArgument, g.SIMDSize)
	}
	for _, m := range []uint8{g.ThreadWidthCounterMaximum, g.ThreadHeightCounterMaximum, g.ThreadDepthCounterMaximum} {
		if m > 0x3f {
			return fmt.Errorf("%w: thread counter maximum %d exceeds 63", ErrInvalidArgument, m)
		}
	}

	w[0] = gen9GPGPUWalker
	w[1] = uint32(g.InterfaceDescriptorOffset & 0x3f)
	w[2] = g.IndirectDataLength
	w[3] = g.IndirectDataStartAddress &^ 0x3f
	w[4] = uint32(g.SIMDSize)<<30 |
		uint32(g.ThreadDepthCounterMaximum)<<16 |
		uint32(g.ThreadHeightCounterMaximum)<<8 |
		uint32(g.ThreadWidthCounterMaximum)
	w[5] = g.ThreadGroupIDStartingX
	w[7] = g.ThreadGroupIDXDimension
	w[8] = g.ThreadGroupIDStartingY
	w[10] = g.ThreadGroupIDYDimension
	w[11] = g.ThreadGroupIDStartingResumeZ
	w[12] = g.ThreadGroupIDZDimension
	w[13] = g.RightExecutionMask
	w[14] = g.BottomExecutionMask
	return nil
}

func decodeGPGPUWalker(w []uint32) Command {
	return GPGPUWalker{
		InterfaceDescriptorOffset:    uint8(w[1] & 0x3f),
		IndirectDataLength:           w[2],
		IndirectDataStartAddress:     w[3],
		SIMDSize:                     SIMDSize(w[4] >> 30),
		ThreadDepthCounterMaximum:    uint8(w[4]>>16) & 0x3f,
		ThreadHeightCounterMaximum:   uint8(w[4]>>8) & 0x3f,
		ThreadWidthCounterMaximum:    uint8(w[4]) & 0x3f,
		ThreadGroupIDStartingX:       w[5],
		ThreadGroupIDXDimension:      w[7],
		ThreadGroupIDStartingY:       w[8],
		ThreadGroupIDYDimension:      w[10],
		ThreadGroupIDStartingResumeZ: w[11],
		ThreadGroupIDZDimension:      w[12],
		RightExecutionMask:           w[13],
		BottomExecutionMask:          w[14],
	}
}

func encodeMIBatchBufferStart(c Command, w []uint32) error {
	b := c.(MIBatchBufferStart)
	if b.Address&3 != 0 {
		return fmt.Errorf("%w: batch address 0x%x is not dword aligned", ErrInvalidArgument, b.Address)
	}
	addr := b.Address & dwordAddressMask
	w[0] = gen9MIBatchBufferStart | uint32(b.AddressSpace&1)<<8
	w[1] = uint32(addr)
	w[2] = uint32(addr >> 32)
	return nil
}

func decodeMIBatchBufferStart(w []uint32) Command {
	return MIBatchBufferStart{
		AddressSpace: AddressSpace(w[0]>>8) & 1,
		Address:      uint64(w[1]) | uint64(w[2]&0xffff)<<32,
	}
}

func encodeMILoadRegisterImm(c Command, w []uint32) error {
	l := c.(MILoadRegisterImm)
	if l.Register&3 != 0 || l.Register > 0x7ffffc {
		return fmt.Errorf("%w: register offset 0x%x", ErrInvalidArgument, l.Register)
	}
	w[0] = gen9MILoadRegisterImm
	w[1] = l.Register
	w[2] = l.Data
	return nil
}

func decodeMILoadRegisterImm(w []uint32) Command {
	return MILoadRegisterImm{Register: w[1] & 0x7ffffc, Data: w[2]}
}

func encodeCCStatePointers(c Command, w []uint32) error {
	p := c.(CCStatePointers)
	w[0] = gen9CCStatePointers
	w[1] = p.ColorCalcStatePointer&^0x3f | b2u(p.Valid)
	return nil
}

func decodeCCStatePointers(w []uint32) Command {
	return CCStatePointers{ColorCalcStatePointer: w[1] &^ 0x3f, Valid: w[1]&1 != 0}
}

func encodeMIBatchBufferEnd(_ Command, w []uint32) error {
	w[0] = gen9MIBatchBufferEnd
	return nil
}

func decodeMIBatchBufferEnd([]uint32) Command { return MIBatchBufferEnd{} }

func encodeMINoop(_ Command, w []uint32) error {
	w[0] = gen9MINoop
	return nil
}

func decodeMINoop([]uint32) Command { return MINoop{} }

func encodeMIRSControl(c Command, w []uint32) error {
	w[0] = gen9MIRSControl | b2u(c.(MIRSControl).Enable)
	return nil
}

func decodeMIRSControl(w []uint32) Command {
	return MIRSControl{Enable: w[0]&1 != 0}
}

func encodeBindingTablePoolAlloc(_ Command, w []uint32) error {
	w[0] = gen9BindingTablePoolAlloc
	return nil
}

func decodeBindingTablePoolAlloc([]uint32) Command { return BindingTablePoolAlloc{} }
