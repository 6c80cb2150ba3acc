// Package hwcmd encodes the command stream understood by the Gen9 render
// command streamer, plus the state records referenced from it (interface
// descriptors, binding table entries, render surface states) and the MMIO
// registers programmed through MI_LOAD_REGISTER_IMM.
//
// Commands are plain value structs. An Encoder for a hardware generation
// turns them into little-endian dwords; the struct itself carries no
// encoding logic, so adding a generation means adding a table, not a type.
package hwcmd

import "fmt"

// Kind identifies a command type.
type Kind int

// Command kinds.
const (
	KindPipeControl Kind = iota + 1
	KindPipelineSelect
	KindStateBaseAddress
	KindMediaVFEState
	KindMediaInterfaceDescriptorLoad
	KindMediaCurbeLoad
	KindMediaStateFlush
	KindGPGPUWalker
	KindMIBatchBufferStart
	KindMIBatchBufferEnd
	KindMINoop
	KindMILoadRegisterImm
	KindMIRSControl
	KindCCStatePointers
	KindBindingTablePoolAlloc
)

var kindNames = map[Kind]string{
	KindPipeControl:                  "PIPE_CONTROL",
	KindPipelineSelect:               "PIPELINE_SELECT",
	KindStateBaseAddress:             "STATE_BASE_ADDRESS",
	KindMediaVFEState:                "MEDIA_VFE_STATE",
	KindMediaInterfaceDescriptorLoad: "MEDIA_INTERFACE_DESCRIPTOR_LOAD",
	KindMediaCurbeLoad:               "MEDIA_CURBE_LOAD",
	KindMediaStateFlush:              "MEDIA_STATE_FLUSH",
	KindGPGPUWalker:                  "GPGPU_WALKER",
	KindMIBatchBufferStart:           "MI_BATCH_BUFFER_START",
	KindMIBatchBufferEnd:             "MI_BATCH_BUFFER_END",
	KindMINoop:                       "MI_NOOP",
	KindMILoadRegisterImm:            "MI_LOAD_REGISTER_IMM",
	KindMIRSControl:                  "MI_RS_CONTROL",
	KindCCStatePointers:              "3DSTATE_CC_STATE_POINTERS",
	KindBindingTablePoolAlloc:        "3DSTATE_BINDING_TABLE_POOL_ALLOC",
}

// String returns the hardware name of the command.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is implemented by every command struct in this package.
type Command interface {
	Kind() Kind
}

// PostSyncOp selects the write performed by a PIPE_CONTROL once the
// pipeline has drained.
type PostSyncOp uint8

// Post-sync operations.
const (
	PostSyncNone PostSyncOp = iota
	PostSyncWriteImmediate
	PostSyncWritePSDepthCount
	PostSyncWriteTimestamp
)

// PipeControl is a pipeline synchronization and cache control point.
type PipeControl struct {
	CSStall                    bool
	DepthCacheFlush            bool
	StateCacheInvalidate       bool
	ConstantCacheInvalidate    bool
	VFCacheInvalidate          bool
	DCFlush                    bool
	TextureCacheInvalidate     bool
	InstructionCacheInvalidate bool
	RenderTargetCacheFlush     bool
	GenericMediaStateClear     bool

	PostSyncOp PostSyncOp
	// Address is the byte address of the post-sync write; it must be
	// 4 byte aligned.
	Address       uint64
	ImmediateData uint64
}

// Pipeline selects the active pipeline.
type Pipeline uint8

// Pipelines.
const (
	Pipeline3D Pipeline = iota
	PipelineMedia
	PipelineGPGPU
)

// PipelineSelect switches the command streamer's pipeline. MaskBits
// selects which of the other fields take effect.
type PipelineSelect struct {
	Pipeline           Pipeline
	MaskBits           uint8
	DOPClockGateEnable bool
	ForceMediaAwake    bool
}

// StateBase is one base address entry of STATE_BASE_ADDRESS. Address is a
// byte address; its low 12 bits are dropped. Size is in 4 KiB pages.
type StateBase struct {
	Address uint64
	Set     bool
	MOCS    uint8

	Size    uint32
	SizeSet bool
}

// StateBaseAddress programs the base addresses all state pointers are
// relative to. The surface state base has no size.
type StateBaseAddress struct {
	General         StateBase
	Surface         StateBase
	Dynamic         StateBase
	IndirectObject  StateBase
	Instruction     StateBase
	BindlessSurface StateBase

	StatelessDataPortMOCS uint8
}

// MediaVFEState configures the media fixed function front end.
type MediaVFEState struct {
	ScratchSpaceBasePointer uint64
	StackSize               uint8
	PerThreadScratchSpace   uint8
	MaximumNumberOfThreads  uint16

	// NumberOfURBEntries must be in [1, 128].
	NumberOfURBEntries uint8
	ResetGatewayTimer  bool

	URBEntryAllocationSize uint16
	CURBEAllocationSize    uint16
}

// MediaInterfaceDescriptorLoad loads interface descriptors from the
// dynamic state heap.
type MediaInterfaceDescriptorLoad struct {
	TotalLength      uint32
	DataStartAddress uint32
}

// MediaCurbeLoad loads constant URB entry data.
type MediaCurbeLoad struct {
	TotalLength      uint32
	DataStartAddress uint32
}

// MediaStateFlush waits for media state to be consumed.
type MediaStateFlush struct {
	FlushToGo bool

	WatermarkRequired         bool
	InterfaceDescriptorOffset uint8
}

// SIMDSize is the walker's SIMD width code.
type SIMDSize uint8

// SIMD width codes.
const (
	SIMD8 SIMDSize = iota
	SIMD16
	SIMD32
)

// SIMDSizeFor returns the code for a SIMD width of 8, 16 or 32 lanes.
func SIMDSizeFor(lanes int) (SIMDSize, error) {
	switch lanes {
	case 8:
		return SIMD8, nil
	case 16:
		return SIMD16, nil
	case 32:
		return SIMD32, nil
	}
	return 0, fmt.Errorf("%w: SIMD width %d", ErrInvalidArgument, lanes)
}

// Lanes returns the number of lanes for s.
func (s SIMDSize) Lanes() int {
	return 8 << s
}

// GPGPUWalker dispatches thread groups over a 3D grid.
type GPGPUWalker struct {
	InterfaceDescriptorOffset uint8
	IndirectDataLength        uint32
	IndirectDataStartAddress  uint32

	SIMDSize                   SIMDSize
	ThreadWidthCounterMaximum  uint8
	ThreadHeightCounterMaximum uint8
	ThreadDepthCounterMaximum  uint8

	ThreadGroupIDStartingX       uint32
	ThreadGroupIDXDimension      uint32
	ThreadGroupIDStartingY       uint32
	ThreadGroupIDYDimension      uint32
	ThreadGroupIDStartingResumeZ uint32
	ThreadGroupIDZDimension      uint32

	RightExecutionMask  uint32
	BottomExecutionMask uint32
}

// AddressSpace selects the address space of a batch buffer.
type AddressSpace uint8

// Address spaces.
const (
	AddressSpaceGGTT AddressSpace = iota
	AddressSpacePPGTT
)

// MIBatchBufferStart chains execution to another batch buffer.
type MIBatchBufferStart struct {
	AddressSpace AddressSpace
	// Address is the byte address of the batch; it must be 4 byte aligned.
	Address uint64
}

// MIBatchBufferEnd terminates a batch buffer.
type MIBatchBufferEnd struct{}

// MINoop does nothing. It pads batches to an even dword count.
type MINoop struct{}

// MILoadRegisterImm writes an immediate value to an MMIO register.
type MILoadRegisterImm struct {
	Register uint32
	Data     uint32
}

// MIRSControl toggles resource streamer execution.
type MIRSControl struct {
	Enable bool
}

// CCStatePointers points at the color calculator state.
type CCStatePointers struct {
	ColorCalcStatePointer uint32
	Valid                 bool
}

// BindingTablePoolAlloc disables the binding table pool.
type BindingTablePoolAlloc struct{}

func (PipeControl) Kind() Kind                  { return KindPipeControl }
func (PipelineSelect) Kind() Kind               { return KindPipelineSelect }
func (StateBaseAddress) Kind() Kind             { return KindStateBaseAddress }
func (MediaVFEState) Kind() Kind                { return KindMediaVFEState }
func (MediaInterfaceDescriptorLoad) Kind() Kind { return KindMediaInterfaceDescriptorLoad }
func (MediaCurbeLoad) Kind() Kind               { return KindMediaCurbeLoad }
func (MediaStateFlush) Kind() Kind              { return KindMediaStateFlush }
func (GPGPUWalker) Kind() Kind                  { return KindGPGPUWalker }
func (MIBatchBufferStart) Kind() Kind           { return KindMIBatchBufferStart }
func (MIBatchBufferEnd) Kind() Kind             { return KindMIBatchBufferEnd }
func (MINoop) Kind() Kind                       { return KindMINoop }
func (MILoadRegisterImm) Kind() Kind            { return KindMILoadRegisterImm }
func (MIRSControl) Kind() Kind                  { return KindMIRSControl }
func (CCStatePointers) Kind() Kind              { return KindCCStatePointers }
func (BindingTablePoolAlloc) Kind() Kind        { return KindBindingTablePoolAlloc }
