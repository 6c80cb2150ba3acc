// Package progbin decodes the binary program container produced by the
// Intel graphics compiler for Gen9 devices.
//
// A program binary is laid out as:
//   - a 28 byte program header
//   - NumberOfKernels kernel records, each made of a 40 byte kernel header,
//     the kernel name, the instruction heap, the dynamic state heap, the
//     surface state heap and a patch token list
//
// Patch tokens describe argument layout, thread payload shape and
// capability flags. Only the subset of tokens needed by the runtime is
// understood; any other token is rejected.
package progbin

import (
	"encoding/binary"
	"fmt"
)

// Program header constants.
const (
	// Magic is "INTC" read as a little-endian word.
	Magic = 0x494E5443

	// Version is the only supported container version.
	Version = 1081

	// DeviceGen9 is the device family tag for Gen9 core devices.
	DeviceGen9 = 12
)

// Fixed record sizes.
const (
	ProgramHeaderSize = 7 * 4
	KernelHeaderSize  = 8*4 + 8
	PatchItemHeader   = 8
)

// Patch token ids.
const (
	TokenBindingTableState                         = 8
	TokenAllocateLocalSurface                      = 15
	TokenDataParameterBuffer                       = 17
	TokenMediaInterfaceDescriptorLoad              = 19
	TokenInterfaceDescriptorData                   = 21
	TokenThreadPayload                             = 22
	TokenExecutionEnvironment                      = 23
	TokenDataParameterStream                       = 25
	TokenKernelArgumentInfo                        = 26
	TokenKernelAttributesInfo                      = 27
	TokenStatelessGlobalMemoryObjectKernelArgument = 30
)

// Data parameter types carried by DATA_PARAMETER_BUFFER tokens.
const (
	DataParamKernelArgument        = 1
	DataParamLocalWorkSize         = 2
	DataParamGlobalWorkSize        = 3
	DataParamNumWorkGroups         = 4
	DataParamWorkDimensions        = 5
	DataParamGlobalWorkOffset      = 16
	DataParamBufferStateful        = 31
	DataParamEnqueuedLocalWorkSize = 42
)

// Payload sizes of the fixed-layout patch items, header included.
const (
	sizeBindingTableState           = PatchItemHeader + 3*4
	sizeAllocateLocalSurface        = PatchItemHeader + 2*4
	sizeDataParameterBuffer         = PatchItemHeader + 8*4
	sizeMediaInterfaceDescLoad      = PatchItemHeader + 4
	sizeInterfaceDescriptorData     = PatchItemHeader + 4*4
	sizeThreadPayload               = PatchItemHeader + 20*4
	sizeExecutionEnvironment        = PatchItemHeader + 31*4 + 8
	sizeDataParameterStream         = PatchItemHeader + 4
	sizeKernelArgumentInfoFixed     = PatchItemHeader + 6*4
	sizeKernelAttributesInfoFixed   = PatchItemHeader + 4
	sizeStatelessGlobalMemoryObject = PatchItemHeader + 7*4
)

// tokenNames maps token ids to their names for diagnostics.
var tokenNames = map[uint32]string{
	TokenBindingTableState:                         "BINDING_TABLE_STATE",
	TokenAllocateLocalSurface:                      "ALLOCATE_LOCAL_SURFACE",
	TokenDataParameterBuffer:                       "DATA_PARAMETER_BUFFER",
	TokenMediaInterfaceDescriptorLoad:              "MEDIA_INTERFACE_DESCRIPTOR_LOAD",
	TokenInterfaceDescriptorData:                   "INTERFACE_DESCRIPTOR_DATA",
	TokenThreadPayload:                             "THREAD_PAYLOAD",
	TokenExecutionEnvironment:                      "EXECUTION_ENVIRONMENT",
	TokenDataParameterStream:                       "DATA_PARAMETER_STREAM",
	TokenKernelArgumentInfo:                        "KERNEL_ARGUMENT_INFO",
	TokenKernelAttributesInfo:                      "KERNEL_ATTRIBUTES_INFO",
	TokenStatelessGlobalMemoryObjectKernelArgument: "STATELESS_GLOBAL_MEMORY_OBJECT_KERNEL_ARGUMENT",
}

// TokenName returns a printable name for a patch token id.
func TokenName(token uint32) string {
	if name, ok := tokenNames[token]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN_%d", token)
}

// ProgramHeader is the fixed header at the start of a program binary.
type ProgramHeader struct {
	Magic                 uint32
	Version               uint32
	Device                uint32
	GPUPointerSizeInBytes uint32
	NumberOfKernels       uint32
	SteppingID            uint32
	PatchListSize         uint32
}

// KernelHeader is the fixed header in front of each kernel record.
type KernelHeader struct {
	CheckSum             uint32
	ShaderHashCode       uint64
	KernelNameSize       uint32
	PatchListSize        uint32
	KernelHeapSize       uint32
	GeneralStateHeapSize uint32
	DynamicStateHeapSize uint32
	SurfaceStateHeapSize uint32
	KernelUnpaddedSize   uint32
}

// BodySize returns the number of bytes that follow the kernel header.
func (h *KernelHeader) BodySize() uint64 {
	return uint64(h.KernelNameSize) +
		uint64(h.KernelHeapSize) +
		uint64(h.GeneralStateHeapSize) +
		uint64(h.DynamicStateHeapSize) +
		uint64(h.SurfaceStateHeapSize) +
		uint64(h.PatchListSize)
}

// ReadProgramHeader parses and validates the program header at the start of data.
func ReadProgramHeader(data []byte) (*ProgramHeader, error) {
	if len(data) < ProgramHeaderSize {
		return nil, fmt.Errorf("%w: program header needs %d bytes, have %d",
			ErrTruncated, ProgramHeaderSize, len(data))
	}

	h := &ProgramHeader{
		Magic:                 binary.LittleEndian.Uint32(data[0:4]),
		Version:               binary.LittleEndian.Uint32(data[4:8]),
		Device:                binary.LittleEndian.Uint32(data[8:12]),
		GPUPointerSizeInBytes: binary.LittleEndian.Uint32(data[12:16]),
		NumberOfKernels:       binary.LittleEndian.Uint32(data[16:20]),
		SteppingID:            binary.LittleEndian.Uint32(data[20:24]),
		PatchListSize:         binary.LittleEndian.Uint32(data[24:28]),
	}

	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// validate checks the header against the single supported format.
func (h *ProgramHeader) validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: 0x%08x, want 0x%08x", ErrBadMagic, h.Magic, Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d, want %d", ErrBadVersion, h.Version, Version)
	}
	if h.Device != DeviceGen9 {
		return Unsupported("device family", "device tag %d, only %d is supported", h.Device, DeviceGen9)
	}
	if h.PatchListSize != 0 {
		return Unsupported("program-level patch tokens", "program patch list size %d", h.PatchListSize)
	}
	return nil
}

// ReadKernelHeader parses the Gen9 kernel header at the start of data.
func ReadKernelHeader(data []byte) (*KernelHeader, error) {
	if len(data) < KernelHeaderSize {
		return nil, fmt.Errorf("%w: kernel header needs %d bytes, have %d",
			ErrTruncated, KernelHeaderSize, len(data))
	}

	h := &KernelHeader{
		CheckSum:             binary.LittleEndian.Uint32(data[0:4]),
		ShaderHashCode:       binary.LittleEndian.Uint64(data[4:12]),
		KernelNameSize:       binary.LittleEndian.Uint32(data[12:16]),
		PatchListSize:        binary.LittleEndian.Uint32(data[16:20]),
		KernelHeapSize:       binary.LittleEndian.Uint32(data[20:24]),
		GeneralStateHeapSize: binary.LittleEndian.Uint32(data[24:28]),
		DynamicStateHeapSize: binary.LittleEndian.Uint32(data[28:32]),
		SurfaceStateHeapSize: binary.LittleEndian.Uint32(data[32:36]),
		KernelUnpaddedSize:   binary.LittleEndian.Uint32(data[36:40]),
	}

	if h.KernelNameSize == 0 {
		return nil, fmt.Errorf("%w: kernel name size is 0", ErrFormat)
	}
	if h.KernelUnpaddedSize > h.KernelHeapSize {
		return nil, fmt.Errorf("%w: unpadded kernel size %d exceeds heap size %d",
			ErrFormat, h.KernelUnpaddedSize, h.KernelHeapSize)
	}
	return h, nil
}

// ReadKernelName reads the NUL-terminated kernel name stored in the first
// h.KernelNameSize bytes of data. The name never extends past that field.
func ReadKernelName(data []byte, h *KernelHeader) (string, error) {
	if uint64(len(data)) < uint64(h.KernelNameSize) {
		return "", fmt.Errorf("%w: kernel name needs %d bytes, have %d",
			ErrTruncated, h.KernelNameSize, len(data))
	}
	return cString(data[:h.KernelNameSize]), nil
}

// cString returns the bytes of b up to the first NUL.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
