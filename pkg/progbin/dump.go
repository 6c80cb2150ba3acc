package progbin

import (
	"fmt"
	"strings"
)

// String renders the header for diagnostics.
func (h *ProgramHeader) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ProgramHeader:\n")
	fmt.Fprintf(&b, "    Magic: 0x%08x\n", h.Magic)
	fmt.Fprintf(&b, "    Version: %d\n", h.Version)
	fmt.Fprintf(&b, "    Device: 0x%04x\n", h.Device)
	fmt.Fprintf(&b, "    GPUPointerSizeInBytes: %d\n", h.GPUPointerSizeInBytes)
	fmt.Fprintf(&b, "    NumberOfKernels: %d\n", h.NumberOfKernels)
	fmt.Fprintf(&b, "    SteppingID: 0x%04x\n", h.SteppingID)
	fmt.Fprintf(&b, "    PatchListSize: %d\n", h.PatchListSize)
	return b.String()
}

// String renders the header for diagnostics.
func (h *KernelHeader) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "KernelHeader:\n")
	fmt.Fprintf(&b, "    CheckSum: 0x%08x\n", h.CheckSum)
	fmt.Fprintf(&b, "    ShaderHashCode: 0x%016x\n", h.ShaderHashCode)
	fmt.Fprintf(&b, "    KernelNameSize: %d\n", h.KernelNameSize)
	fmt.Fprintf(&b, "    PatchListSize: %d\n", h.PatchListSize)
	fmt.Fprintf(&b, "    KernelHeapSize: %d\n", h.KernelHeapSize)
	fmt.Fprintf(&b, "    GeneralStateHeapSize: %d\n", h.GeneralStateHeapSize)
	fmt.Fprintf(&b, "    DynamicStateHeapSize: %d\n", h.DynamicStateHeapSize)
	fmt.Fprintf(&b, "    SurfaceStateHeapSize: %d\n", h.SurfaceStateHeapSize)
	fmt.Fprintf(&b, "    KernelUnpaddedSize: %d\n", h.KernelUnpaddedSize)
	return b.String()
}

// String renders every present parameter, one token per paragraph.
func (p *KernelParameters) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "KernelParameters:\n")
	fmt.Fprintf(&b, "    Device: 0x%04x\n", p.Device)
	fmt.Fprintf(&b, "    GPUPointerSizeInBytes: %d\n", p.GPUPointerSizeInBytes)
	fmt.Fprintf(&b, "    SteppingID: 0x%04x\n", p.SteppingID)
	fmt.Fprintf(&b, "    CheckSum: 0x%08x\n", p.CheckSum)
	fmt.Fprintf(&b, "    ShaderHashCode: 0x%016x\n", p.ShaderHashCode)

	if v := p.MediaInterfaceDescriptorLoad; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenMediaInterfaceDescriptorLoad), *v)
	}
	if v := p.InterfaceDescriptorData; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenInterfaceDescriptorData), *v)
	}
	if v := p.BindingTableState; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenBindingTableState), *v)
	}
	if v := p.DataParameterStream; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenDataParameterStream), *v)
	}
	if v := p.ThreadPayload; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenThreadPayload), *v)
	}
	if v := p.ExecutionEnvironment; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenExecutionEnvironment), *v)
	}
	if v := p.KernelAttributesInfo; v != nil {
		fmt.Fprintf(&b, "  %s: %q\n", TokenName(TokenKernelAttributesInfo), v.Attributes)
	}
	if v := p.AllocateLocalSurface; v != nil {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenAllocateLocalSurface), *v)
	}
	for _, d := range p.DataParameterBuffers {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenDataParameterBuffer), d)
	}
	for _, s := range p.StatelessGlobalMemoryObjectKernelArguments {
		fmt.Fprintf(&b, "  %s: %+v\n", TokenName(TokenStatelessGlobalMemoryObjectKernelArgument), s)
	}
	for _, a := range p.KernelArgumentInfos {
		fmt.Fprintf(&b, "  %s: #%d %s %s %s %s %s\n", TokenName(TokenKernelArgumentInfo),
			a.ArgumentNumber, a.AddressQualifier, a.AccessQualifier,
			a.TypeName, a.ArgumentName, a.TypeQualifier)
	}
	return b.String()
}

// Dump renders the kernel's header, heap sizes and parameters.
func (k *Kernel) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Kernel %q\n", k.Name)
	b.WriteString(k.Header.String())
	fmt.Fprintf(&b, "Heaps: kernel %d/%d, dynamic state %d, surface state %d\n",
		k.KernelHeap.Size(), k.KernelHeap.PaddedSize(),
		k.DynamicStateHeap.Size(), k.SurfaceStateHeap.Size())
	b.WriteString(k.Params.String())
	return b.String()
}
