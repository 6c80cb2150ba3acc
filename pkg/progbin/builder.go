package progbin

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnalignedImage is returned by Builder.Build for kernel images whose
// checksummed range is not a whole number of words.
var ErrUnalignedImage = errors.New("kernel image is not word aligned")

// KernelImage is the raw material of one kernel record.
type KernelImage struct {
	Name           string
	ShaderHashCode uint64

	// KernelUnpaddedSize defaults to len(KernelHeap) when zero.
	KernelHeap         []byte
	KernelUnpaddedSize uint32

	GeneralStateHeap []byte
	DynamicStateHeap []byte
	SurfaceStateHeap []byte

	// PatchList is an encoded patch token stream, usually from
	// EncodePatchList or a PatchList.
	PatchList []byte
}

// ImageOf returns an image that re-encodes k.
func ImageOf(k *Kernel) KernelImage {
	return KernelImage{
		Name:               k.Name,
		ShaderHashCode:     k.Header.ShaderHashCode,
		KernelHeap:         k.KernelHeap.Bytes(),
		KernelUnpaddedSize: uint32(k.KernelHeap.Size()),
		DynamicStateHeap:   k.DynamicStateHeap.Bytes(),
		SurfaceStateHeap:   k.SurfaceStateHeap.Bytes(),
		PatchList:          EncodePatchList(k.Params),
	}
}

// Builder serializes program binaries. It is used to produce fixtures and
// by tools that repackage decoded kernels.
type Builder struct {
	header  ProgramHeader
	kernels []KernelImage
}

// NewBuilder returns a builder for a Gen9 program with 8 byte pointers.
func NewBuilder() *Builder {
	return &Builder{
		header: ProgramHeader{
			Magic:                 Magic,
			Version:               Version,
			Device:                DeviceGen9,
			GPUPointerSizeInBytes: 8,
		},
	}
}

// Device sets the device family tag.
func (b *Builder) Device(device uint32) *Builder {
	b.header.Device = device
	return b
}

// SteppingID sets the stepping id.
func (b *Builder) SteppingID(id uint32) *Builder {
	b.header.SteppingID = id
	return b
}

// AddKernel appends a kernel record.
func (b *Builder) AddKernel(k KernelImage) *Builder {
	b.kernels = append(b.kernels, k)
	return b
}

// Build returns the encoded program binary.
func (b *Builder) Build() ([]byte, error) {
	out := make([]byte, ProgramHeaderSize, 4096)
	h := b.header
	h.NumberOfKernels = uint32(len(b.kernels))
	putWords(out,
		h.Magic, h.Version, h.Device, h.GPUPointerSizeInBytes,
		h.NumberOfKernels, h.SteppingID, h.PatchListSize)

	for i := range b.kernels {
		rec, err := encodeKernel(&b.kernels[i])
		if err != nil {
			return nil, fmt.Errorf("kernel %q: %w", b.kernels[i].Name, err)
		}
		out = append(out, rec...)
	}
	return out, nil
}

// encodeKernel lays out header, name, heaps and patch list and fills in
// the checksum.
func encodeKernel(k *KernelImage) ([]byte, error) {
	name := padString(k.Name)
	unpadded := k.KernelUnpaddedSize
	if unpadded == 0 {
		unpadded = uint32(len(k.KernelHeap))
	}

	var body []byte
	body = append(body, name...)
	body = append(body, k.KernelHeap...)
	body = append(body, k.GeneralStateHeap...)
	body = append(body, k.DynamicStateHeap...)
	body = append(body, k.SurfaceStateHeap...)
	body = append(body, k.PatchList...)

	if len(body)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnalignedImage, len(body))
	}
	sum, err := Checksum(body)
	if err != nil {
		return nil, err
	}

	rec := make([]byte, KernelHeaderSize, KernelHeaderSize+len(body))
	binary.LittleEndian.PutUint32(rec[0:], sum)
	binary.LittleEndian.PutUint64(rec[4:], k.ShaderHashCode)
	putWords(rec[12:],
		uint32(len(name)),
		uint32(len(k.PatchList)),
		uint32(len(k.KernelHeap)),
		uint32(len(k.GeneralStateHeap)),
		uint32(len(k.DynamicStateHeap)),
		uint32(len(k.SurfaceStateHeap)),
		unpadded)
	return append(rec, body...), nil
}

// PatchList accumulates encoded patch items.
type PatchList struct {
	buf []byte
}

// Bytes returns the encoded items.
func (l *PatchList) Bytes() []byte { return l.buf }

// Add appends an item whose payload is the given words.
func (l *PatchList) Add(token uint32, words ...uint32) *PatchList {
	payload := make([]byte, 4*len(words))
	putWords(payload, words...)
	return l.AddRaw(token, payload)
}

// AddRaw appends an item with an arbitrary payload. The item size written
// to the header covers the header and the payload.
func (l *PatchList) AddRaw(token uint32, payload []byte) *PatchList {
	var hdr [PatchItemHeader]byte
	binary.LittleEndian.PutUint32(hdr[0:], token)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(PatchItemHeader+len(payload)))
	l.buf = append(l.buf, hdr[:]...)
	l.buf = append(l.buf, payload...)
	return l
}

// ArgumentInfo appends a KERNEL_ARGUMENT_INFO item.
func (l *PatchList) ArgumentInfo(a KernelArgumentInfo) *PatchList {
	strs := [][]byte{
		padString(a.AddressQualifier),
		padString(a.AccessQualifier),
		padString(a.ArgumentName),
		padString(a.TypeName),
		padString(a.TypeQualifier),
	}
	payload := make([]byte, 6*4)
	binary.LittleEndian.PutUint32(payload, a.ArgumentNumber)
	for i, s := range strs {
		binary.LittleEndian.PutUint32(payload[4+4*i:], uint32(len(s)))
	}
	for _, s := range strs {
		payload = append(payload, s...)
	}
	return l.AddRaw(TokenKernelArgumentInfo, payload)
}

// Attributes appends a KERNEL_ATTRIBUTES_INFO item.
func (l *PatchList) Attributes(attrs string) *PatchList {
	s := padString(attrs)
	payload := make([]byte, 4, 4+len(s))
	binary.LittleEndian.PutUint32(payload, uint32(len(s)))
	return l.AddRaw(TokenKernelAttributesInfo, append(payload, s...))
}

// ExecutionEnvironment appends an EXECUTION_ENVIRONMENT item.
func (l *PatchList) ExecutionEnvironment(e *ExecutionEnvironment) *PatchList {
	words := []uint32{
		e.RequiredWorkGroupSizeX, e.RequiredWorkGroupSizeY, e.RequiredWorkGroupSizeZ,
		e.LargestCompiledSIMDSize, e.CompiledSubGroupsNumber, e.HasBarriers,
		e.DisableMidThreadPreemption, e.CompiledSIMD8, e.CompiledSIMD16, e.CompiledSIMD32,
		e.HasDeviceEnqueue, e.MayAccessUndeclaredResource, e.UsesFencesForReadWriteImages,
		e.UsesStatelessSpillFill, e.UsesMultiScratchSpaces, e.IsCoherent, e.IsInitializer,
		e.IsFinalizer, e.SubgroupIndependentForwardProgressRequired,
		e.CompiledForGreaterThan4GBBuffers, e.NumGRFRequired, e.WorkgroupWalkOrderDims,
		e.HasGlobalAtomics, e.HasDPAS, e.HasRTCalls, e.NumThreadsRequired,
		e.StatelessWritesCount, e.IndirectStatelessCount, e.UseBindlessMode, e.HasStackCalls,
	}
	payload := make([]byte, 4*len(words)+8+4)
	putWords(payload, words...)
	binary.LittleEndian.PutUint64(payload[4*len(words):], e.SIMDInfo)
	binary.LittleEndian.PutUint32(payload[4*len(words)+8:], e.RequireDisableEUFusion)
	return l.AddRaw(TokenExecutionEnvironment, payload)
}

// ThreadPayload appends a THREAD_PAYLOAD item.
func (l *PatchList) ThreadPayload(t *ThreadPayload) *PatchList {
	return l.Add(TokenThreadPayload,
		t.HeaderPresent, t.LocalIDXPresent, t.LocalIDYPresent, t.LocalIDZPresent,
		t.LocalIDFlattenedPresent, t.IndirectPayloadStorage, t.UnusedPerThreadConstantPresent,
		t.GetLocalIDPresent, t.GetGroupIDPresent, t.GetGlobalOffsetPresent,
		t.StageInGridOriginPresent, t.StageInGridSizePresent, t.OffsetToSkipPerThreadDataLoad,
		t.OffsetToSkipSetFFIDGP, t.PassInlineData, t.RTStackIDPresent, t.GenerateLocalID,
		t.EmitLocalMask, t.WalkOrder, t.TileY)
}

// DataParameter appends a DATA_PARAMETER_BUFFER item.
func (l *PatchList) DataParameter(d DataParameterBuffer) *PatchList {
	return l.Add(TokenDataParameterBuffer,
		d.Type, d.ArgumentNumber, d.Offset, d.DataSize,
		d.SourceOffset, d.LocationIndex, d.LocationIndex2, d.IsEmulationArgument)
}

// StatelessGlobal appends a STATELESS_GLOBAL_MEMORY_OBJECT_KERNEL_ARGUMENT item.
func (l *PatchList) StatelessGlobal(s StatelessGlobalMemoryObjectKernelArgument) *PatchList {
	return l.Add(TokenStatelessGlobalMemoryObjectKernelArgument,
		s.ArgumentNumber, s.SurfaceStateHeapOffset, s.DataParamOffset, s.DataParamSize,
		s.LocationIndex, s.LocationIndex2, s.IsEmulationArgument)
}

// EncodePatchList serializes the token-derived fields of p.
func EncodePatchList(p *KernelParameters) []byte {
	var l PatchList
	if v := p.MediaInterfaceDescriptorLoad; v != nil {
		l.Add(TokenMediaInterfaceDescriptorLoad, v.DataOffset)
	}
	if v := p.InterfaceDescriptorData; v != nil {
		l.Add(TokenInterfaceDescriptorData, v.Offset, v.SamplerStateOffset, v.KernelOffset, v.BindingTableOffset)
	}
	if v := p.BindingTableState; v != nil {
		l.Add(TokenBindingTableState, v.Offset, v.Count, v.SurfaceStateOffset)
	}
	if v := p.ExecutionEnvironment; v != nil {
		l.ExecutionEnvironment(v)
	}
	if v := p.ThreadPayload; v != nil {
		l.ThreadPayload(v)
	}
	if v := p.DataParameterStream; v != nil {
		l.Add(TokenDataParameterStream, v.DataParameterStreamSize)
	}
	if v := p.AllocateLocalSurface; v != nil {
		l.Add(TokenAllocateLocalSurface, v.Offset, v.TotalInlineLocalMemorySize)
	}
	if v := p.KernelAttributesInfo; v != nil {
		l.Attributes(v.Attributes)
	}
	for _, a := range p.KernelArgumentInfos {
		l.ArgumentInfo(a)
	}
	for _, d := range p.DataParameterBuffers {
		l.DataParameter(d)
	}
	for _, s := range p.StatelessGlobalMemoryObjectKernelArguments {
		l.StatelessGlobal(s)
	}
	return l.Bytes()
}

// padString returns s NUL-terminated and zero-padded to a word boundary.
func padString(s string) []byte {
	b := make([]byte, (len(s)+4)&^3)
	copy(b, s)
	return b
}

func putWords(dst []byte, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[4*i:], w)
	}
}
