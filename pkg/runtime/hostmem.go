package runtime

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// HostBuffer is anonymous host memory aligned to the device page size,
// suitable for AddPointer.
type HostBuffer struct {
	mem     []byte
	mapping []byte
}

// NewHostBuffer maps at least size bytes of zeroed memory aligned to the
// device's page size.
func (r *Runtime) NewHostBuffer(size uint64) (*HostBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: empty host buffer", ErrValidation)
	}
	page := r.caps.PageSize
	size = types.AlignUp(size, page)

	// Over-map by one device page when it is larger than the host page so
	// the aligned window always fits.
	length := size
	host := uint64(unix.Getpagesize())
	if page > host {
		length += page
	}
	mapping, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, resourceError("map host buffer", err)
	}

	addr := uint64(uintptr(addrOf(mapping)))
	skip := types.AlignUp(addr, page) - addr
	return &HostBuffer{mem: mapping[skip : skip+size : skip+size], mapping: mapping}, nil
}

// Bytes returns the aligned memory. It is invalid after Free.
func (b *HostBuffer) Bytes() []byte { return b.mem }

// Free unmaps the buffer.
func (b *HostBuffer) Free() error {
	if b.mapping == nil {
		return nil
	}
	err := unix.Munmap(b.mapping)
	b.mem, b.mapping = nil, nil
	if err != nil {
		return resourceError("unmap host buffer", err)
	}
	return nil
}

// addrOf returns the address of b's first byte.
func addrOf(b []byte) unsafe.Pointer { return unsafe.Pointer(unsafe.SliceData(b)) }
