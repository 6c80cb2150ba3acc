package progbin

// MediaInterfaceDescriptorLoad locates the interface descriptor inside the
// dynamic state heap.
type MediaInterfaceDescriptorLoad struct {
	DataOffset uint32
}

// InterfaceDescriptorData repeats the pointers stored in the interface
// descriptor so they can be cross-checked against the heap contents.
type InterfaceDescriptorData struct {
	Offset             uint32
	SamplerStateOffset uint32
	KernelOffset       uint32
	BindingTableOffset uint32
}

// BindingTableState locates the binding table inside the surface state heap.
type BindingTableState struct {
	Offset             uint32
	Count              uint32
	SurfaceStateOffset uint32
}

// DataParameterBuffer describes one value the host writes into the
// cross-thread constant data.
type DataParameterBuffer struct {
	Type                uint32
	ArgumentNumber      uint32
	Offset              uint32
	DataSize            uint32
	SourceOffset        uint32
	LocationIndex       uint32
	LocationIndex2      uint32
	IsEmulationArgument uint32
}

// StatelessGlobalMemoryObjectKernelArgument describes a buffer argument that
// is accessed through a raw address in the cross-thread data.
type StatelessGlobalMemoryObjectKernelArgument struct {
	ArgumentNumber         uint32
	SurfaceStateHeapOffset uint32
	DataParamOffset        uint32
	DataParamSize          uint32
	LocationIndex          uint32
	LocationIndex2         uint32
	IsEmulationArgument    uint32
}

// DataParameterStream gives the size of the cross-thread constant data.
type DataParameterStream struct {
	DataParameterStreamSize uint32
}

// ThreadPayload describes the per-thread payload the kernel expects.
type ThreadPayload struct {
	HeaderPresent                  uint32
	LocalIDXPresent                uint32
	LocalIDYPresent                uint32
	LocalIDZPresent                uint32
	LocalIDFlattenedPresent        uint32
	IndirectPayloadStorage         uint32
	UnusedPerThreadConstantPresent uint32
	GetLocalIDPresent              uint32
	GetGroupIDPresent              uint32
	GetGlobalOffsetPresent         uint32
	StageInGridOriginPresent       uint32
	StageInGridSizePresent         uint32
	OffsetToSkipPerThreadDataLoad  uint32
	OffsetToSkipSetFFIDGP          uint32
	PassInlineData                 uint32
	RTStackIDPresent               uint32
	GenerateLocalID                uint32
	EmitLocalMask                  uint32
	WalkOrder                      uint32
	TileY                          uint32
}

// LocalIDCount returns how many of the x/y/z local id vectors are requested.
func (tp *ThreadPayload) LocalIDCount() int {
	n := 0
	for _, v := range []uint32{tp.LocalIDXPresent, tp.LocalIDYPresent, tp.LocalIDZPresent} {
		if v != 0 {
			n++
		}
	}
	return n
}

// ExecutionEnvironment carries the compiler's capability flags for a kernel.
type ExecutionEnvironment struct {
	RequiredWorkGroupSizeX                     uint32
	RequiredWorkGroupSizeY                     uint32
	RequiredWorkGroupSizeZ                     uint32
	LargestCompiledSIMDSize                    uint32
	CompiledSubGroupsNumber                    uint32
	HasBarriers                                uint32
	DisableMidThreadPreemption                 uint32
	CompiledSIMD8                              uint32
	CompiledSIMD16                             uint32
	CompiledSIMD32                             uint32
	HasDeviceEnqueue                           uint32
	MayAccessUndeclaredResource                uint32
	UsesFencesForReadWriteImages               uint32
	UsesStatelessSpillFill                     uint32
	UsesMultiScratchSpaces                     uint32
	IsCoherent                                 uint32
	IsInitializer                              uint32
	IsFinalizer                                uint32
	SubgroupIndependentForwardProgressRequired uint32
	CompiledForGreaterThan4GBBuffers           uint32
	NumGRFRequired                             uint32
	WorkgroupWalkOrderDims                     uint32
	HasGlobalAtomics                           uint32
	HasDPAS                                    uint32
	HasRTCalls                                 uint32
	NumThreadsRequired                         uint32
	StatelessWritesCount                       uint32
	IndirectStatelessCount                     uint32
	UseBindlessMode                            uint32
	HasStackCalls                              uint32
	SIMDInfo                                   uint64
	RequireDisableEUFusion                     uint32
}

// KernelAttributesInfo holds the kernel attribute string.
type KernelAttributesInfo struct {
	Attributes string
}

// KernelArgumentInfo describes one declared kernel argument.
type KernelArgumentInfo struct {
	ArgumentNumber   uint32
	AddressQualifier string
	AccessQualifier  string
	ArgumentName     string
	TypeName         string
	TypeQualifier    string
}

// AllocateLocalSurface is a request for shared local memory.
type AllocateLocalSurface struct {
	Offset                     uint32
	TotalInlineLocalMemorySize uint32
}

// KernelParameters is the information carried by a kernel's patch tokens
// plus the header facts the runtime needs.
//
// Pointer fields are present at most once in a patch list; nil means the
// token was absent.
type KernelParameters struct {
	Device                uint32
	GPUPointerSizeInBytes uint32
	SteppingID            uint32
	CheckSum              uint32
	ShaderHashCode        uint64

	MediaInterfaceDescriptorLoad *MediaInterfaceDescriptorLoad
	InterfaceDescriptorData      *InterfaceDescriptorData
	BindingTableState            *BindingTableState
	DataParameterStream          *DataParameterStream
	ThreadPayload                *ThreadPayload
	ExecutionEnvironment         *ExecutionEnvironment
	KernelAttributesInfo         *KernelAttributesInfo
	AllocateLocalSurface         *AllocateLocalSurface

	DataParameterBuffers                       []DataParameterBuffer
	StatelessGlobalMemoryObjectKernelArguments []StatelessGlobalMemoryObjectKernelArgument

	// KernelArgumentInfos is sorted by ArgumentNumber, which runs 0..n-1.
	KernelArgumentInfos []KernelArgumentInfo
}

// ArgumentInfo returns the info for argument index i.
func (p *KernelParameters) ArgumentInfo(i int) (*KernelArgumentInfo, bool) {
	if i < 0 || i >= len(p.KernelArgumentInfos) {
		return nil, false
	}
	return &p.KernelArgumentInfos[i], true
}
