// Package device defines the collaborator the runtime submits work to: a
// GPU (or a stand-in for one) that owns memory objects and executes
// command buffers.
//
// Objects are GPU-visible memory. Every object has a GPU virtual address and,
// when the memory is mapped into the process, a host view in Mem. The
// runtime never interprets handles; it passes them back to the device.
package device

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every method once Close has been called.
	ErrClosed = errors.New("device closed")

	// ErrUnknownObject is returned for handles the device did not issue or
	// has already released.
	ErrUnknownObject = errors.New("unknown device object")

	// ErrNameNotFound is returned by Open for names no object was exported under.
	ErrNameNotFound = errors.New("object name not found")

	// ErrUnaligned is returned by Register for memory that does not start
	// and end on a page boundary.
	ErrUnaligned = errors.New("memory not page aligned")

	// ErrOutOfMemory is returned when the device cannot back an allocation.
	ErrOutOfMemory = errors.New("device out of memory")

	// ErrSubmit is returned when the device rejects a submission.
	ErrSubmit = errors.New("submission rejected")
)

// Handle identifies an object on one device.
type Handle uint32

// Object is a GPU-visible memory object.
type Object struct {
	Handle Handle

	// Addr is the object's GPU virtual address.
	Addr uint64

	// Size is the object's size in bytes, a multiple of the page size.
	Size uint64

	// Mem is the host mapping of the object, or nil if it is not mapped.
	Mem []byte
}

// String implements fmt.Stringer.
func (o Object) String() string {
	return fmt.Sprintf("object %d at 0x%x (%d bytes)", o.Handle, o.Addr, o.Size)
}

// Capabilities describes a device.
type Capabilities struct {
	// Name is a human readable device name.
	Name string

	// Gen is the hardware generation, e.g. 9.
	Gen int

	// MaxComputeThreads is the number of hardware threads the device can
	// run concurrently. It bounds the threads of one work group.
	MaxComputeThreads uint32

	// PageSize is the allocation granularity in bytes.
	PageSize uint64
}

// Submission is one command buffer execution request.
type Submission struct {
	// Objects lists every object the commands reference. The last entry
	// holds the batch buffer to execute.
	Objects []Object

	// BatchLength is the length in bytes of the batch at the start of the
	// last object.
	BatchLength int
}

// Batch returns the object holding the batch buffer.
func (s *Submission) Batch() (Object, error) {
	if len(s.Objects) == 0 {
		return Object{}, fmt.Errorf("%w: no objects", ErrSubmit)
	}
	b := s.Objects[len(s.Objects)-1]
	if s.BatchLength <= 0 || s.BatchLength%8 != 0 || uint64(s.BatchLength) > b.Size {
		return Object{}, fmt.Errorf("%w: batch length %d for %s", ErrSubmit, s.BatchLength, b)
	}
	return b, nil
}

// Device is a GPU that can hold memory objects and execute command buffers.
// Implementations must be safe for concurrent use.
type Device interface {
	// Capabilities returns the device's fixed properties.
	Capabilities() Capabilities

	// Create allocates a zeroed, host-mapped object of at least size bytes.
	Create(size uint64) (Object, error)

	// Register makes existing page-aligned host memory visible to the
	// device. The memory must stay valid until the object is released.
	Register(mem []byte) (Object, error)

	// Open returns the object exported under a global name.
	Open(name uint32) (Object, error)

	// Release drops the device's reference to an object.
	Release(obj Object) error

	// Submit queues a command buffer for execution. It may return before
	// the commands have run; completion is signaled by the commands
	// themselves.
	Submit(s Submission) error

	// Close releases the device context. Objects must not be used
	// afterwards.
	Close() error
}
