// Package fixture builds program binaries the runtime accepts, for tests
// that need a kernel without running the compiler.
package fixture

import (
	"fmt"

	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// MemsetName is the kernel name used by the memset fixture.
const MemsetName = "cl_memset"

// Cross-thread data offsets of the memset kernel.
const (
	OffsetDst          = 0
	OffsetValue        = 8
	OffsetCount        = 12
	OffsetLocalSize    = 16
	OffsetGlobalOffset = 28
	OffsetBTIndex      = 40
	OffsetGlobalSize   = 44
	OffsetWorkDim      = 56

	CrossThreadSize = 64
)

// BindingTableOffset is where the binding table sits in the surface state heap.
const BindingTableOffset = 64

// MemsetParams describes
//
//	kernel void cl_memset(global uint *dst, uint val, uint n)
//
// compiled for SIMD8 and SIMD16 with local ids and indirect payload storage.
func MemsetParams() *progbin.KernelParameters {
	p := &progbin.KernelParameters{
		MediaInterfaceDescriptorLoad: &progbin.MediaInterfaceDescriptorLoad{DataOffset: 0},
		InterfaceDescriptorData:      &progbin.InterfaceDescriptorData{BindingTableOffset: BindingTableOffset},
		BindingTableState:            &progbin.BindingTableState{Offset: BindingTableOffset, Count: 1},
		DataParameterStream:          &progbin.DataParameterStream{DataParameterStreamSize: CrossThreadSize},
		ThreadPayload: &progbin.ThreadPayload{
			LocalIDXPresent:        1,
			LocalIDYPresent:        1,
			LocalIDZPresent:        1,
			IndirectPayloadStorage: 1,
		},
		ExecutionEnvironment: &progbin.ExecutionEnvironment{
			LargestCompiledSIMDSize: 16,
			CompiledSIMD8:           1,
			CompiledSIMD16:          1,
			NumGRFRequired:          128,
		},
		StatelessGlobalMemoryObjectKernelArguments: []progbin.StatelessGlobalMemoryObjectKernelArgument{
			{ArgumentNumber: 0, SurfaceStateHeapOffset: 0, DataParamOffset: OffsetDst, DataParamSize: 8},
		},
		KernelArgumentInfos: []progbin.KernelArgumentInfo{
			{ArgumentNumber: 0, AddressQualifier: "__global", AccessQualifier: "NONE", ArgumentName: "dst", TypeName: "uint*;8", TypeQualifier: "NONE"},
			{ArgumentNumber: 1, AddressQualifier: "__private", AccessQualifier: "NONE", ArgumentName: "val", TypeName: "uint;4", TypeQualifier: "NONE"},
			{ArgumentNumber: 2, AddressQualifier: "__private", AccessQualifier: "NONE", ArgumentName: "n", TypeName: "uint;4", TypeQualifier: "NONE"},
		},
	}

	dpb := func(typ, arg, off, size, src uint32) progbin.DataParameterBuffer {
		return progbin.DataParameterBuffer{Type: typ, ArgumentNumber: arg, Offset: off, DataSize: size, SourceOffset: src}
	}
	p.DataParameterBuffers = []progbin.DataParameterBuffer{
		dpb(progbin.DataParamKernelArgument, 1, OffsetValue, 4, 0),
		dpb(progbin.DataParamKernelArgument, 2, OffsetCount, 4, 0),
		dpb(progbin.DataParamLocalWorkSize, 0, OffsetLocalSize, 4, 0),
		dpb(progbin.DataParamLocalWorkSize, 0, OffsetLocalSize+4, 4, 4),
		dpb(progbin.DataParamLocalWorkSize, 0, OffsetLocalSize+8, 4, 8),
		dpb(progbin.DataParamGlobalWorkOffset, 0, OffsetGlobalOffset, 4, 0),
		dpb(progbin.DataParamGlobalWorkOffset, 0, OffsetGlobalOffset+4, 4, 4),
		dpb(progbin.DataParamGlobalWorkOffset, 0, OffsetGlobalOffset+8, 4, 8),
		dpb(progbin.DataParamBufferStateful, 0, OffsetBTIndex, 4, 0),
		dpb(progbin.DataParamGlobalWorkSize, 0, OffsetGlobalSize, 4, 0),
		dpb(progbin.DataParamGlobalWorkSize, 0, OffsetGlobalSize+4, 4, 4),
		dpb(progbin.DataParamGlobalWorkSize, 0, OffsetGlobalSize+8, 4, 8),
		dpb(progbin.DataParamWorkDimensions, 0, OffsetWorkDim, 4, 0),
	}
	return p
}

// Image returns a kernel image whose heaps agree with p: the dynamic state
// heap holds one interface descriptor built from p's declared pointers,
// and the surface state heap holds one buffer surface state per binding
// table entry followed by the binding table.
func Image(name string, p *progbin.KernelParameters) progbin.KernelImage {
	var desc hwcmd.InterfaceDescriptor
	var btOffset, btCount uint32
	if idd := p.InterfaceDescriptorData; idd != nil {
		desc.SetKernelStartPointer(uint64(idd.KernelOffset))
		desc.Set(hwcmd.IDSamplerStatePointer, idd.SamplerStateOffset>>5)
		btOffset = idd.BindingTableOffset
	}
	if bts := p.BindingTableState; bts != nil {
		btOffset, btCount = bts.Offset, bts.Count
	}
	desc.SetBindingTablePointer(uint64(btOffset))
	desc.Set(hwcmd.IDBindingTableEntryCount, btCount)
	if dps := p.DataParameterStream; dps != nil {
		desc.Set(hwcmd.IDCrossThreadConstantDataReadLength, (dps.DataParameterStreamSize+31)/32)
	}

	surfaceSize := int(btOffset + 4*btCount)
	if min := int(btCount) * hwcmd.RenderSurfaceStateSize; surfaceSize < min {
		surfaceSize = min
	}
	surfaceSize = (surfaceSize + 63) &^ 63
	surface := make([]byte, surfaceSize)
	for i := uint32(0); i < btCount; i++ {
		off := i * hwcmd.RenderSurfaceStateSize
		rss := hwcmd.NewBufferSurfaceState(0)
		rss.Put(surface[off:])
		putWord(surface[btOffset+4*i:], off)
	}

	heap := make([]byte, 128)
	for i := range heap {
		heap[i] = byte(i)
	}

	return progbin.KernelImage{
		Name:               name,
		ShaderHashCode:     0x6d656d736574,
		KernelHeap:         heap,
		KernelUnpaddedSize: 112,
		DynamicStateHeap:   desc.Bytes(),
		SurfaceStateHeap:   surface,
		PatchList:          progbin.EncodePatchList(p),
	}
}

// Program encodes a single-kernel program.
func Program(name string, p *progbin.KernelParameters) ([]byte, error) {
	bin, err := progbin.NewBuilder().AddKernel(Image(name, p)).Build()
	if err != nil {
		return nil, fmt.Errorf("build fixture %q: %w", name, err)
	}
	return bin, nil
}

// Memset returns the memset program binary.
func Memset() ([]byte, error) {
	return Program(MemsetName, MemsetParams())
}

func putWord(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
