package progbin

import (
	"fmt"
	"log/slog"

	"github.com/fortiblox/gpgpu-rt/internal/logging"
)

// Decoding limits.
const (
	// DefaultMaxProgramSize bounds the size of an accepted program binary.
	DefaultMaxProgramSize = 64 << 20

	// DefaultMaxKernels bounds NumberOfKernels.
	DefaultMaxKernels = 1024

	// DefaultMaxPatchItems bounds the number of patch items per kernel.
	DefaultMaxPatchItems = 1 << 16
)

// Limits caps the resources a single decode may consume. Zero fields are
// unlimited.
type Limits struct {
	MaxProgramSize int
	MaxKernels     uint32
	MaxPatchItems  int
}

// DefaultLimits returns the limits used by DecodeKernel and DecodeProgram.
func DefaultLimits() Limits {
	return Limits{
		MaxProgramSize: DefaultMaxProgramSize,
		MaxKernels:     DefaultMaxKernels,
		MaxPatchItems:  DefaultMaxPatchItems,
	}
}

// Heap is an owned, immutable byte buffer with a logical and a physical size.
type Heap struct {
	data []byte
	size int
}

func newHeap(src []byte, unpadded, padded uint32) Heap {
	if padded == 0 {
		return Heap{}
	}
	data := make([]byte, padded)
	copy(data, src[:padded])
	return Heap{data: data, size: int(unpadded)}
}

// Size returns the logical size in bytes.
func (h Heap) Size() int { return h.size }

// PaddedSize returns the physical size in bytes.
func (h Heap) PaddedSize() int { return len(h.data) }

// Bytes returns the physical contents. The slice must not be modified.
func (h Heap) Bytes() []byte { return h.data }

// Kernel is a decoded kernel: its name, patch-token parameters and heaps.
// A Kernel is never modified after decoding and may be shared freely.
type Kernel struct {
	Name   string
	Header KernelHeader
	Params *KernelParameters

	KernelHeap       Heap
	DynamicStateHeap Heap
	SurfaceStateHeap Heap
}

// Program is the result of decoding every kernel in a binary.
type Program struct {
	Header  ProgramHeader
	Kernels []*Kernel
}

// Kernel returns the kernel called name.
func (p *Program) Kernel(name string) (*Kernel, bool) {
	for _, k := range p.Kernels {
		if k.Name == name {
			return k, true
		}
	}
	return nil, false
}

// Decoder decodes program binaries under a set of limits.
type Decoder struct {
	limits Limits
	logger *slog.Logger
}

// NewDecoder creates a decoder. A nil logger uses the shared logger.
func NewDecoder(limits Limits, logger *slog.Logger) *Decoder {
	return &Decoder{limits: limits, logger: logging.Or(logger)}
}

// DecodeKernel decodes data with the default limits and returns the kernel
// called name.
func DecodeKernel(data []byte, name string) (*Kernel, error) {
	return NewDecoder(DefaultLimits(), nil).DecodeKernel(data, name)
}

// DecodeProgram decodes data with the default limits and returns every kernel.
func DecodeProgram(data []byte) (*Program, error) {
	return NewDecoder(DefaultLimits(), nil).DecodeProgram(data)
}

// DecodeKernel validates the whole binary and materializes only the kernel
// called name. Every kernel is checksummed. It is an error for name to
// match no kernel or more than one.
func (d *Decoder) DecodeKernel(data []byte, name string) (*Kernel, error) {
	_, kernels, err := d.decode(data, func(n string) bool { return n == name })
	if err != nil {
		return nil, err
	}

	switch len(kernels) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	case 1:
		return kernels[0], nil
	default:
		return nil, fmt.Errorf("%w: %q appears %d times", ErrDuplicateKernel, name, len(kernels))
	}
}

// DecodeProgram validates the whole binary and materializes every kernel.
func (d *Decoder) DecodeProgram(data []byte) (*Program, error) {
	ph, kernels, err := d.decode(data, func(string) bool { return true })
	if err != nil {
		return nil, err
	}
	return &Program{Header: *ph, Kernels: kernels}, nil
}

// decode walks every kernel record in data and returns the kernels for
// which want reports true.
func (d *Decoder) decode(data []byte, want func(string) bool) (*ProgramHeader, []*Kernel, error) {
	if d.limits.MaxProgramSize > 0 && len(data) > d.limits.MaxProgramSize {
		return nil, nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), d.limits.MaxProgramSize)
	}

	ph, err := ReadProgramHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if d.limits.MaxKernels > 0 && ph.NumberOfKernels > d.limits.MaxKernels {
		return nil, nil, fmt.Errorf("%w: %d kernels, limit %d", ErrTooLarge, ph.NumberOfKernels, d.limits.MaxKernels)
	}

	rest := data[ProgramHeaderSize:]
	var kernels []*Kernel
	for i := uint32(0); i < ph.NumberOfKernels; i++ {
		k, n, err := d.readKernel(rest, ph, want)
		if err != nil {
			return nil, nil, fmt.Errorf("kernel %d: %w", i, err)
		}
		if k != nil {
			kernels = append(kernels, k)
		}
		rest = rest[n:]
	}

	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(rest))
	}
	return ph, kernels, nil
}

// readKernel decodes the kernel record at the start of data and reports how
// many bytes it occupies. The returned kernel is nil when want rejects it.
func (d *Decoder) readKernel(data []byte, ph *ProgramHeader, want func(string) bool) (*Kernel, int, error) {
	kh, err := ReadKernelHeader(data)
	if err != nil {
		return nil, 0, err
	}

	body := data[KernelHeaderSize:]
	if uint64(len(body)) < kh.BodySize() {
		return nil, 0, fmt.Errorf("%w: kernel record needs %d bytes, have %d",
			ErrTruncated, kh.BodySize(), len(body))
	}
	body = body[:kh.BodySize()]

	name, err := ReadKernelName(body, kh)
	if err != nil {
		return nil, 0, err
	}
	if kh.GeneralStateHeapSize != 0 {
		return nil, 0, Unsupported("general state heap", "kernel %q has a %d byte general state heap",
			name, kh.GeneralStateHeapSize)
	}

	off := int(kh.KernelNameSize)
	kernelHeap := body[off : off+int(kh.KernelHeapSize)]
	off += int(kh.KernelHeapSize)
	dynamicHeap := body[off : off+int(kh.DynamicStateHeapSize)]
	off += int(kh.DynamicStateHeapSize)
	surfaceHeap := body[off : off+int(kh.SurfaceStateHeapSize)]
	off += int(kh.SurfaceStateHeapSize)

	params, err := readPatchList(body[off:], kh, d.limits.MaxPatchItems)
	if err != nil {
		return nil, 0, fmt.Errorf("kernel %q: %w", name, err)
	}

	sum, err := Checksum(body)
	if err != nil {
		return nil, 0, fmt.Errorf("kernel %q: %w", name, err)
	}
	if sum != kh.CheckSum {
		return nil, 0, fmt.Errorf("%w: kernel %q has 0x%08x, computed 0x%08x",
			ErrChecksumMismatch, name, kh.CheckSum, sum)
	}

	n := KernelHeaderSize + len(body)
	if !want(name) {
		return nil, n, nil
	}

	params.Device = ph.Device
	params.GPUPointerSizeInBytes = ph.GPUPointerSizeInBytes
	params.SteppingID = ph.SteppingID
	params.CheckSum = kh.CheckSum
	params.ShaderHashCode = kh.ShaderHashCode

	k := &Kernel{
		Name:             name,
		Header:           *kh,
		Params:           params,
		KernelHeap:       newHeap(kernelHeap, kh.KernelUnpaddedSize, kh.KernelHeapSize),
		DynamicStateHeap: newHeap(dynamicHeap, kh.DynamicStateHeapSize, kh.DynamicStateHeapSize),
		SurfaceStateHeap: newHeap(surfaceHeap, kh.SurfaceStateHeapSize, kh.SurfaceStateHeapSize),
	}

	d.logger.Debug("decoded kernel",
		"name", name,
		"kernel_heap", kh.KernelHeapSize,
		"dynamic_state_heap", kh.DynamicStateHeapSize,
		"surface_state_heap", kh.SurfaceStateHeapSize,
		"patch_list", kh.PatchListSize,
		"args", len(params.KernelArgumentInfos))
	return k, n, nil
}
