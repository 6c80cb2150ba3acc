package hwcmd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/bitview"
	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// ErrSurfaceState is returned by RenderSurfaceState.ValidateBuffer for
// surface states that are not a plain linear buffer.
var ErrSurfaceState = errors.New("unsupported surface state")

// Record sizes in bytes.
const (
	InterfaceDescriptorSize = 32
	BindingTableStateSize   = 4
	RenderSurfaceStateSize  = 64
)

// Interface descriptor fields.
var (
	IDKernelStartPointer     = bitview.Field{Word: 0, Low: 6, High: 31}
	IDKernelStartPointerHigh = bitview.Field{Word: 1, Low: 0, High: 15}

	IDDenormMode                   = bitview.Field{Word: 2, Low: 19, High: 19}
	IDSingleProgramFlow            = bitview.Field{Word: 2, Low: 18, High: 18}
	IDThreadPriority               = bitview.Field{Word: 2, Low: 17, High: 17}
	IDFloatingPointMode            = bitview.Field{Word: 2, Low: 16, High: 16}
	IDIllegalOpcodeExceptionEnable = bitview.Field{Word: 2, Low: 13, High: 13}
	IDMaskStackExceptionEnable     = bitview.Field{Word: 2, Low: 11, High: 11}
	IDSoftwareExceptionEnable      = bitview.Field{Word: 2, Low: 7, High: 7}

	IDSamplerStatePointer = bitview.Field{Word: 3, Low: 5, High: 31}
	IDSamplerCount        = bitview.Field{Word: 3, Low: 2, High: 4}

	IDBindingTablePointer    = bitview.Field{Word: 4, Low: 5, High: 15}
	IDBindingTableEntryCount = bitview.Field{Word: 4, Low: 0, High: 4}

	IDConstantURBEntryReadLength = bitview.Field{Word: 5, Low: 16, High: 31}
	IDConstantURBEntryReadOffset = bitview.Field{Word: 5, Low: 0, High: 15}

	IDRoundingMode          = bitview.Field{Word: 6, Low: 22, High: 23}
	IDBarrierEnable         = bitview.Field{Word: 6, Low: 21, High: 21}
	IDSharedLocalMemorySize = bitview.Field{Word: 6, Low: 16, High: 20}
	IDGlobalBarrierEnable   = bitview.Field{Word: 6, Low: 15, High: 15}
	IDNumberOfThreads       = bitview.Field{Word: 6, Low: 0, High: 9}

	IDCrossThreadConstantDataReadLength = bitview.Field{Word: 7, Low: 0, High: 7}
)

// InterfaceDescriptor is the 32 byte INTERFACE_DESCRIPTOR_DATA record.
type InterfaceDescriptor [InterfaceDescriptorSize / 4]uint32

// ParseInterfaceDescriptor reads a descriptor from the first 32 bytes of b.
func ParseInterfaceDescriptor(b []byte) (InterfaceDescriptor, error) {
	var d InterfaceDescriptor
	if len(b) < InterfaceDescriptorSize {
		return d, fmt.Errorf("%w: interface descriptor needs %d bytes, have %d",
			ErrInvalidArgument, InterfaceDescriptorSize, len(b))
	}
	for i := range d {
		d[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return d, nil
}

// Bytes returns the little-endian encoding of d.
func (d *InterfaceDescriptor) Bytes() []byte {
	b := make([]byte, InterfaceDescriptorSize)
	for i, w := range d {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

// Get returns field f.
func (d *InterfaceDescriptor) Get(f bitview.Field) uint32 { return f.Get(d[:]) }

// Set stores v in field f.
func (d *InterfaceDescriptor) Set(f bitview.Field, v uint32) { f.Set(d[:], v) }

// KernelStartPointer returns the kernel start as a byte offset from the
// instruction base.
func (d *InterfaceDescriptor) KernelStartPointer() uint64 {
	return uint64(d.Get(IDKernelStartPointer))<<6 | uint64(d.Get(IDKernelStartPointerHigh))<<32
}

// SetKernelStartPointer stores a 64 byte aligned kernel start offset.
func (d *InterfaceDescriptor) SetKernelStartPointer(p uint64) {
	d.Set(IDKernelStartPointer, uint32(p&0xffffffff)>>6)
	d.Set(IDKernelStartPointerHigh, uint32(p>>32)&0xffff)
}

// SamplerStatePointer returns the sampler state byte offset.
func (d *InterfaceDescriptor) SamplerStatePointer() uint64 {
	return uint64(d.Get(IDSamplerStatePointer)) << 5
}

// BindingTablePointer returns the binding table byte offset.
func (d *InterfaceDescriptor) BindingTablePointer() uint64 {
	return uint64(d.Get(IDBindingTablePointer)) << 5
}

// SetBindingTablePointer stores a 32 byte aligned binding table offset.
func (d *InterfaceDescriptor) SetBindingTablePointer(p uint64) {
	d.Set(IDBindingTablePointer, uint32(p>>5))
}

// BindingTableState is one binding table entry.
type BindingTableState uint32

// ParseBindingTableState reads the entry at the start of b.
func ParseBindingTableState(b []byte) (BindingTableState, error) {
	if len(b) < BindingTableStateSize {
		return 0, fmt.Errorf("%w: binding table entry needs %d bytes, have %d",
			ErrInvalidArgument, BindingTableStateSize, len(b))
	}
	return BindingTableState(binary.LittleEndian.Uint32(b)), nil
}

// SurfaceStatePointer returns the byte offset of the entry's surface state
// relative to the surface state base.
func (s BindingTableState) SurfaceStatePointer() uint32 {
	return uint32(s) &^ 0x3f
}

// Render surface state fields.
var (
	RSSSurfaceType                = bitview.Field{Word: 0, Low: 29, High: 31}
	RSSSurfaceArray               = bitview.Field{Word: 0, Low: 28, High: 28}
	RSSSurfaceFormat              = bitview.Field{Word: 0, Low: 18, High: 26}
	RSSVerticalAlignment          = bitview.Field{Word: 0, Low: 16, High: 17}
	RSSHorizontalAlignment        = bitview.Field{Word: 0, Low: 14, High: 15}
	RSSTileMode                   = bitview.Field{Word: 0, Low: 12, High: 13}
	RSSVerticalLineStride         = bitview.Field{Word: 0, Low: 11, High: 11}
	RSSVerticalLineStrideOffset   = bitview.Field{Word: 0, Low: 10, High: 10}
	RSSSamplerL2BypassModeDisable = bitview.Field{Word: 0, Low: 9, High: 9}
	RSSRenderCacheReadWriteMode   = bitview.Field{Word: 0, Low: 8, High: 8}
	RSSMediaBoundaryPixelMode     = bitview.Field{Word: 0, Low: 6, High: 7}

	RSSMOCS = bitview.Field{Word: 1, Low: 24, High: 30}

	RSSHeight = bitview.Field{Word: 2, Low: 16, High: 29}
	RSSWidth  = bitview.Field{Word: 2, Low: 0, High: 13}

	RSSDepth        = bitview.Field{Word: 3, Low: 21, High: 31}
	RSSSurfacePitch = bitview.Field{Word: 3, Low: 0, High: 17}

	RSSAuxiliarySurfaceMode    = bitview.Field{Word: 6, Low: 0, High: 2}
	RSSMemoryCompressionEnable = bitview.Field{Word: 7, Low: 30, High: 30}
	RSSMemoryCompressionMode   = bitview.Field{Word: 7, Low: 31, High: 31}

	RSSSurfaceBaseAddress = bitview.Field64{
		Lo: bitview.Field{Word: 8, Low: 0, High: 31},
		Hi: bitview.Field{Word: 9, Low: 0, High: 31},
	}
)

// Surface state values.
const (
	SurfaceTypeBuffer          = 4
	SurfaceFormatRaw           = 0xff
	MediaBoundaryPixelNormal   = 0
	AuxiliarySurfaceModeNone   = 0
	RenderCacheReadWriteEnable = 1
)

// Buffer surfaces encode size-1 split over width, height and depth.
const (
	bufferWidthBits  = 7
	bufferHeightBits = 14
	bufferDepthBits  = 11

	// MaxBufferSize is the largest size a buffer surface can describe.
	MaxBufferSize = uint64(1) << (bufferWidthBits + bufferHeightBits + bufferDepthBits)
)

// RenderSurfaceState is the 64 byte RENDER_SURFACE_STATE record.
type RenderSurfaceState [RenderSurfaceStateSize / 4]uint32

// ParseRenderSurfaceState reads a surface state from the first 64 bytes of b.
func ParseRenderSurfaceState(b []byte) (RenderSurfaceState, error) {
	var s RenderSurfaceState
	if len(b) < RenderSurfaceStateSize {
		return s, fmt.Errorf("%w: surface state needs %d bytes, have %d",
			ErrInvalidArgument, RenderSurfaceStateSize, len(b))
	}
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return s, nil
}

// Put writes the little-endian encoding of s to the first 64 bytes of b.
func (s *RenderSurfaceState) Put(b []byte) {
	for i, w := range s {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
}

// Get returns field f.
func (s *RenderSurfaceState) Get(f bitview.Field) uint32 { return f.Get(s[:]) }

// Set stores v in field f.
func (s *RenderSurfaceState) Set(f bitview.Field, v uint32) { f.Set(s[:], v) }

// BaseAddress returns the surface base address.
func (s *RenderSurfaceState) BaseAddress() uint64 {
	return RSSSurfaceBaseAddress.Get(s[:])
}

// SetBaseAddress stores addr in canonical form.
func (s *RenderSurfaceState) SetBaseAddress(addr uint64) {
	RSSSurfaceBaseAddress.Set(s[:], types.CanonicalAddress(addr))
}

// SetBufferSize stores the size of a buffer surface in bytes.
func (s *RenderSurfaceState) SetBufferSize(size uint64) error {
	if size < 1 || size > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d not in [1, %d]", ErrInvalidArgument, size, MaxBufferSize)
	}
	v := uint32(size - 1)
	s.Set(RSSWidth, v&(1<<bufferWidthBits-1))
	s.Set(RSSHeight, (v>>bufferWidthBits)&(1<<bufferHeightBits-1))
	s.Set(RSSDepth, (v>>(bufferWidthBits+bufferHeightBits))&(1<<bufferDepthBits-1))
	return nil
}

// BufferSize returns the size of a buffer surface in bytes.
func (s *RenderSurfaceState) BufferSize() uint64 {
	v := uint64(s.Get(RSSWidth)&(1<<bufferWidthBits-1)) |
		uint64(s.Get(RSSHeight))<<bufferWidthBits |
		uint64(s.Get(RSSDepth))<<(bufferWidthBits+bufferHeightBits)
	return v + 1
}

// ValidateBuffer checks that s describes an untiled, uncompressed linear
// buffer with raw format.
func (s *RenderSurfaceState) ValidateBuffer() error {
	checks := []struct {
		field string
		bad   bool
		value uint32
	}{
		{"surface type", s.Get(RSSSurfaceType) != SurfaceTypeBuffer, s.Get(RSSSurfaceType)},
		{"surface array", s.Get(RSSSurfaceArray) != 0, s.Get(RSSSurfaceArray)},
		{"surface format", s.Get(RSSSurfaceFormat) != SurfaceFormatRaw, s.Get(RSSSurfaceFormat)},
		{"tile mode", s.Get(RSSTileMode) != 0, s.Get(RSSTileMode)},
		{"vertical line stride", s.Get(RSSVerticalLineStride) != 0, s.Get(RSSVerticalLineStride)},
		{"vertical line stride offset", s.Get(RSSVerticalLineStrideOffset) != 0, s.Get(RSSVerticalLineStrideOffset)},
		{"sampler L2 bypass mode disable", s.Get(RSSSamplerL2BypassModeDisable) != 0, s.Get(RSSSamplerL2BypassModeDisable)},
		{"render cache read/write mode", s.Get(RSSRenderCacheReadWriteMode) == RenderCacheReadWriteEnable, s.Get(RSSRenderCacheReadWriteMode)},
		{"media boundary pixel mode", s.Get(RSSMediaBoundaryPixelMode) != MediaBoundaryPixelNormal, s.Get(RSSMediaBoundaryPixelMode)},
		{"memory compression", s.Get(RSSMemoryCompressionEnable) != 0, s.Get(RSSMemoryCompressionEnable)},
		{"auxiliary surface mode", s.Get(RSSAuxiliarySurfaceMode) != AuxiliarySurfaceModeNone, s.Get(RSSAuxiliarySurfaceMode)},
	}
	for _, c := range checks {
		if c.bad {
			return fmt.Errorf("%w: %s is %d", ErrSurfaceState, c.field, c.value)
		}
	}
	return nil
}

// NewBufferSurfaceState returns a surface state that passes ValidateBuffer.
func NewBufferSurfaceState(mocs uint8) RenderSurfaceState {
	var s RenderSurfaceState
	s.Set(RSSSurfaceType, SurfaceTypeBuffer)
	s.Set(RSSSurfaceFormat, SurfaceFormatRaw)
	s.Set(RSSMOCS, uint32(mocs))
	return s
}
