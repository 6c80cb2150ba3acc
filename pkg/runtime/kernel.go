package runtime

import (
	"fmt"
	"strings"

	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// argKind is the kind of value a declared kernel argument accepts.
type argKind uint8

const (
	argUnsupported argKind = iota
	argScalar
	argBuffer
)

// argSpec is a declared argument reduced to what binding needs.
// A scalar argument accepts only its scalar kind.
type argSpec struct {
	kind   argKind
	width  int
	scalar ArgumentKind
	info   *progbin.KernelArgumentInfo
}

func (s argSpec) String() string {
	return fmt.Sprintf("%d %s %s %s", s.info.ArgumentNumber, s.info.AddressQualifier, s.info.TypeName, s.info.ArgumentName)
}

// scalarKinds maps the scalar types a kernel argument may have to the
// kind that binds them.
var scalarKinds = map[string]ArgumentKind{
	"int;4":   ArgInt32,
	"uint;4":  ArgUint32,
	"long;8":  ArgInt64,
	"ulong;8": ArgUint64,
}

func classifyArg(info *progbin.KernelArgumentInfo) (argSpec, error) {
	spec := argSpec{info: info}
	switch {
	case info.AddressQualifier == "__local":
		return spec, progbin.Unsupported("local memory arguments", "argument %d", info.ArgumentNumber)
	case strings.HasPrefix(info.TypeName, "image"):
		return spec, progbin.Unsupported("images", "argument %d has type %s", info.ArgumentNumber, info.TypeName)
	case strings.HasPrefix(info.TypeName, "sampler_t"):
		return spec, progbin.Unsupported("samplers", "argument %d", info.ArgumentNumber)
	}
	if info.AccessQualifier != "NONE" || info.TypeQualifier != "NONE" {
		return spec, nil
	}
	switch info.AddressQualifier {
	case "__private":
		if k, ok := scalarKinds[info.TypeName]; ok {
			spec.kind, spec.width, spec.scalar = argScalar, k.Width(), k
		}
	case "__global":
		if strings.HasSuffix(info.TypeName, "*;8") {
			spec.kind, spec.width = argBuffer, 8
		}
	}
	return spec, nil
}

// Kernel is a decoded kernel that passed every load time check. It is
// immutable and may back any number of PreparedExecutions.
type Kernel struct {
	rt  *Runtime
	bin *progbin.Kernel

	// desc is the interface descriptor found in the dynamic state heap.
	desc hwcmd.InterfaceDescriptor

	args    []argSpec
	buffers int

	// crossThreadSize is the cross-thread data block in bytes.
	crossThreadSize uint32
}

// Name returns the kernel name.
func (k *Kernel) Name() string { return k.bin.Name }

// Binary returns the decoded kernel.
func (k *Kernel) Binary() *progbin.Kernel { return k.bin }

// NumArgs returns the number of declared arguments.
func (k *Kernel) NumArgs() int { return len(k.args) }

// BufferArgs returns the number of buffer arguments.
func (k *Kernel) BufferArgs() int { return k.buffers }

// Prepare starts a new execution of k.
func (k *Kernel) Prepare() *PreparedExecution {
	return &PreparedExecution{kernel: k, state: StateUnvalidated}
}

// newKernel checks that bin only uses features the runtime can drive and
// that its patch tokens agree with its heaps.
func newKernel(rt *Runtime, bin *progbin.Kernel) (*Kernel, error) {
	p := bin.Params
	k := &Kernel{rt: rt, bin: bin}

	for _, req := range []struct {
		name    string
		present bool
	}{
		{"MEDIA_INTERFACE_DESCRIPTOR_LOAD", p.MediaInterfaceDescriptorLoad != nil},
		{"INTERFACE_DESCRIPTOR_DATA", p.InterfaceDescriptorData != nil},
		{"THREAD_PAYLOAD", p.ThreadPayload != nil},
		{"EXECUTION_ENVIRONMENT", p.ExecutionEnvironment != nil},
	} {
		if !req.present {
			return nil, fmt.Errorf("%w: kernel %q has no %s token", ErrValidation, bin.Name, req.name)
		}
	}

	if err := checkFeatures(p); err != nil {
		return nil, err
	}
	if err := checkThreadPayload(p.ThreadPayload); err != nil {
		return nil, err
	}
	if err := k.loadDescriptor(); err != nil {
		return nil, err
	}

	for i := range p.KernelArgumentInfos {
		spec, err := classifyArg(&p.KernelArgumentInfos[i])
		if err != nil {
			return nil, err
		}
		if spec.kind == argBuffer {
			k.buffers++
		}
		k.args = append(k.args, spec)
	}

	if err := k.checkBindingTable(); err != nil {
		return nil, err
	}
	if err := k.checkDataParameters(); err != nil {
		return nil, err
	}
	return k, nil
}

func checkFeatures(p *progbin.KernelParameters) error {
	if p.KernelAttributesInfo != nil && p.KernelAttributesInfo.Attributes != "" {
		return progbin.Unsupported("kernel attributes", "%q", p.KernelAttributesInfo.Attributes)
	}
	if p.AllocateLocalSurface != nil {
		return progbin.Unsupported("shared local memory", "%d bytes requested", p.AllocateLocalSurface.TotalInlineLocalMemorySize)
	}

	ee := p.ExecutionEnvironment
	for _, f := range []struct {
		feature string
		value   uint32
	}{
		{"undeclared resource access", ee.MayAccessUndeclaredResource},
		{"read-write image fences", ee.UsesFencesForReadWriteImages},
		{"stateless spill fill", ee.UsesStatelessSpillFill},
		{"multiple scratch spaces", ee.UsesMultiScratchSpaces},
		{"coherent execution", ee.IsCoherent},
		{"initializer kernel", ee.IsInitializer},
		{"finalizer kernel", ee.IsFinalizer},
		{"global atomics", ee.HasGlobalAtomics},
		{"device enqueue", ee.HasDeviceEnqueue},
		{"stateless writes", ee.StatelessWritesCount},
		{"bindless mode", ee.UseBindlessMode},
	} {
		if f.value != 0 {
			return progbin.Unsupported(f.feature, "execution environment value %d", f.value)
		}
	}

	switch ee.LargestCompiledSIMDSize {
	case 8, 16, 32:
	default:
		return progbin.Unsupported("SIMD width", "largest compiled SIMD size %d", ee.LargestCompiledSIMDSize)
	}
	return nil
}

func checkThreadPayload(tp *progbin.ThreadPayload) error {
	if tp.IndirectPayloadStorage != 1 {
		return progbin.Unsupported("direct thread payload", "indirect payload storage %d", tp.IndirectPayloadStorage)
	}
	if tp.OffsetToSkipPerThreadDataLoad != 0 || tp.OffsetToSkipSetFFIDGP != 0 {
		return progbin.Unsupported("thread payload skip offsets", "per-thread %d, FFID %d",
			tp.OffsetToSkipPerThreadDataLoad, tp.OffsetToSkipSetFFIDGP)
	}
	if tp.PassInlineData != 0 {
		return progbin.Unsupported("inline data", "")
	}
	if tp.LocalIDFlattenedPresent != 0 {
		return progbin.Unsupported("flattened local id", "")
	}
	if n := tp.LocalIDCount(); n != 0 && n != 3 {
		return progbin.Unsupported("partial local ids", "%d of 3 local id axes requested", n)
	}
	return nil
}

// loadDescriptor reads the interface descriptor from the dynamic state heap
// and cross-checks it against INTERFACE_DESCRIPTOR_DATA.
func (k *Kernel) loadDescriptor() error {
	p := k.bin.Params
	heap := k.bin.DynamicStateHeap
	if heap.Size() != hwcmd.InterfaceDescriptorSize {
		return fmt.Errorf("%w: dynamic state heap is %d bytes, want exactly one %d byte interface descriptor",
			ErrValidation, heap.Size(), hwcmd.InterfaceDescriptorSize)
	}
	offset := p.MediaInterfaceDescriptorLoad.DataOffset
	if offset != 0 {
		return fmt.Errorf("%w: interface descriptor at offset %d of a %d byte heap",
			ErrValidation, offset, heap.Size())
	}

	desc, err := hwcmd.ParseInterfaceDescriptor(heap.Bytes()[offset:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}

	idd := p.InterfaceDescriptorData
	for _, m := range []error{
		mismatch("interface descriptor offset", uint64(idd.Offset), uint64(offset)),
		mismatch("kernel start pointer", uint64(idd.KernelOffset), desc.KernelStartPointer()),
		mismatch("sampler state pointer", uint64(idd.SamplerStateOffset), desc.SamplerStatePointer()),
		mismatch("binding table pointer", uint64(idd.BindingTableOffset), desc.BindingTablePointer()),
	} {
		if m != nil {
			return m
		}
	}

	if desc.KernelStartPointer() != 0 {
		return progbin.Unsupported("kernel start offset", "0x%x", desc.KernelStartPointer())
	}
	if n := desc.Get(hwcmd.IDSamplerCount); n != 0 {
		return progbin.Unsupported("samplers", "%d sampler states", n)
	}
	if desc.Get(hwcmd.IDGlobalBarrierEnable) != 0 {
		return progbin.Unsupported("global barrier", "")
	}
	if code := desc.Get(hwcmd.IDSharedLocalMemorySize); code != 0 {
		return progbin.Unsupported("shared local memory", "size code %d", code)
	}
	if desc.Get(hwcmd.IDConstantURBEntryReadLength) != 0 || desc.Get(hwcmd.IDConstantURBEntryReadOffset) != 0 {
		return fmt.Errorf("%w: kernel declares constant URB read length %d offset %d",
			ErrValidation, desc.Get(hwcmd.IDConstantURBEntryReadLength), desc.Get(hwcmd.IDConstantURBEntryReadOffset))
	}
	if k.bin.KernelHeap.Size() == 0 {
		return fmt.Errorf("%w: empty kernel heap", ErrValidation)
	}

	k.desc = desc
	k.crossThreadSize = 32 * desc.Get(hwcmd.IDCrossThreadConstantDataReadLength)
	if dps := p.DataParameterStream; dps != nil && dps.DataParameterStreamSize > k.crossThreadSize {
		return fmt.Errorf("%w: data parameter stream of %d bytes exceeds the %d byte cross-thread read",
			ErrValidation, dps.DataParameterStreamSize, k.crossThreadSize)
	}
	return nil
}

func (k *Kernel) checkBindingTable() error {
	bts := k.bin.Params.BindingTableState
	count := k.desc.Get(hwcmd.IDBindingTableEntryCount)
	if bts == nil {
		if count != 0 || k.buffers != 0 {
			return fmt.Errorf("%w: no BINDING_TABLE_STATE token for %d entries and %d buffer arguments",
				ErrBindingTable, count, k.buffers)
		}
		return nil
	}

	for _, m := range []error{
		mismatch("binding table offset", uint64(bts.Offset), k.desc.BindingTablePointer()),
		mismatch("binding table entry count", uint64(bts.Count), uint64(count)),
		mismatch("binding table surface state offset", 0, uint64(bts.SurfaceStateOffset)),
	} {
		if m != nil {
			return m
		}
	}

	heap := uint64(k.bin.SurfaceStateHeap.Size())
	if uint64(bts.Offset)+uint64(bts.Count)*hwcmd.BindingTableStateSize > heap {
		return fmt.Errorf("%w: %d entries at offset %d overrun the %d byte surface state heap",
			ErrBindingTable, bts.Count, bts.Offset, heap)
	}
	if int(bts.Count) != k.buffers {
		return fmt.Errorf("%w: %d entries for %d buffer arguments", ErrBindingTable, bts.Count, k.buffers)
	}
	return nil
}

// checkDataParameters validates every cross-thread write the kernel asks
// for, so execution only fails on argument values.
func (k *Kernel) checkDataParameters() error {
	p := k.bin.Params
	for _, d := range p.DataParameterBuffers {
		if err := k.checkSlot(d.Offset, d.DataSize); err != nil {
			return fmt.Errorf("data parameter type %d: %w", d.Type, err)
		}
		switch d.Type {
		case progbin.DataParamKernelArgument:
			arg, err := k.arg(d.ArgumentNumber, argScalar)
			if err != nil {
				return err
			}
			if int(d.DataSize) < arg.width {
				return fmt.Errorf("%w: argument %s written with %d bytes", ErrCrossThreadData, arg, d.DataSize)
			}
		case progbin.DataParamBufferStateful:
			if _, err := k.arg(d.ArgumentNumber, argBuffer); err != nil {
				return err
			}
		case progbin.DataParamLocalWorkSize, progbin.DataParamEnqueuedLocalWorkSize,
			progbin.DataParamGlobalWorkOffset, progbin.DataParamGlobalWorkSize,
			progbin.DataParamNumWorkGroups:
			if _, err := axisFor(d.SourceOffset); err != nil {
				return err
			}
		case progbin.DataParamWorkDimensions:
		default:
			return progbin.Unsupported("data parameter", "type %d", d.Type)
		}
	}

	for _, s := range p.StatelessGlobalMemoryObjectKernelArguments {
		if s.DataParamSize != 8 {
			return fmt.Errorf("%w: stateless argument %d has a %d byte address", ErrCrossThreadData, s.ArgumentNumber, s.DataParamSize)
		}
		if err := k.checkSlot(s.DataParamOffset, s.DataParamSize); err != nil {
			return fmt.Errorf("stateless argument %d: %w", s.ArgumentNumber, err)
		}
		if _, err := k.arg(s.ArgumentNumber, argBuffer); err != nil {
			return err
		}
		if uint64(s.SurfaceStateHeapOffset)+hwcmd.RenderSurfaceStateSize > uint64(k.bin.SurfaceStateHeap.Size()) {
			return fmt.Errorf("%w: surface state at %d for argument %d is outside the heap",
				ErrBindingTable, s.SurfaceStateHeapOffset, s.ArgumentNumber)
		}
	}
	return nil
}

func (k *Kernel) checkSlot(offset, size uint32) error {
	if size == 0 || size > 8 || uint64(offset)+uint64(size) > uint64(k.crossThreadSize) {
		return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrCrossThreadData, size, offset, k.crossThreadSize)
	}
	return nil
}

func (k *Kernel) arg(n uint32, want argKind) (argSpec, error) {
	if int(n) >= len(k.args) {
		return argSpec{}, fmt.Errorf("%w: argument %d is not declared", ErrCrossThreadData, n)
	}
	if a := k.args[n]; a.kind != want {
		return a, fmt.Errorf("%w: argument %s has the wrong kind for its data parameter", ErrCrossThreadData, a)
	}
	return k.args[n], nil
}

func axisFor(sourceOffset uint32) (int, error) {
	switch sourceOffset {
	case 0, 4, 8:
		return int(sourceOffset / 4), nil
	}
	return 0, fmt.Errorf("%w: source offset %d does not select an axis", ErrCrossThreadData, sourceOffset)
}
