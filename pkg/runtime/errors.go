package runtime

import (
	"errors"
	"fmt"

	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// Error classes. ErrFormat and ErrUnsupported are shared with the decoder
// so callers classify load and execute failures the same way.
var (
	ErrFormat      = progbin.ErrFormat
	ErrUnsupported = progbin.ErrUnsupported

	// ErrValidation marks arguments, sizes or kernel contents that do not
	// agree with each other.
	ErrValidation = errors.New("validation failed")

	// ErrResource marks allocation, submission and completion failures
	// reported by the device.
	ErrResource = errors.New("device resource failure")

	// ErrClosed is returned once the runtime has been closed.
	ErrClosed = errors.New("runtime closed")
)

// Specific errors.
var (
	ErrArgumentMismatch   = fmt.Errorf("%w: argument does not match its declaration", ErrValidation)
	ErrTooManyArguments   = fmt.Errorf("%w: more arguments than the kernel declares", ErrValidation)
	ErrMissingArguments   = fmt.Errorf("%w: not every argument is bound", ErrValidation)
	ErrUnalignedBuffer    = fmt.Errorf("%w: buffer is not page aligned", ErrValidation)
	ErrInvalidLocalSize   = fmt.Errorf("%w: invalid local work size", ErrValidation)
	ErrInvalidGlobalSize  = fmt.Errorf("%w: invalid global work size", ErrValidation)
	ErrSizeMismatch       = fmt.Errorf("%w: global size is not a multiple of local size", ErrValidation)
	ErrNoSIMDWidth        = fmt.Errorf("%w: no compiled SIMD width fits the work group", ErrValidation)
	ErrTooManyThreads     = fmt.Errorf("%w: too many threads per work group", ErrValidation)
	ErrIndirectDataSize   = fmt.Errorf("%w: indirect data too large", ErrValidation)
	ErrBindingTable       = fmt.Errorf("%w: binding table does not match the buffer arguments", ErrValidation)
	ErrCrossThreadData    = fmt.Errorf("%w: cross-thread data parameter out of range", ErrValidation)
	ErrAlreadyExecuted    = fmt.Errorf("%w: execution already ran", ErrValidation)
	ErrCompletionTimeout  = fmt.Errorf("%w: completion flag not written in time", ErrResource)
	ErrUnexpectedSentinel = fmt.Errorf("%w: completion flag holds an unexpected value", ErrResource)
)

// MismatchError reports a value declared twice in a kernel binary that
// disagrees with itself, such as a patch token and the heap it describes.
type MismatchError struct {
	Field string
	Want  uint64
	Got   uint64
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("validation failed: %s is 0x%x, declared 0x%x", e.Field, e.Got, e.Want)
}

// Is reports whether target is ErrValidation.
func (e *MismatchError) Is(target error) bool {
	return target == ErrValidation
}

func mismatch(field string, want, got uint64) error {
	if want == got {
		return nil
	}
	return &MismatchError{Field: field, Want: want, Got: got}
}

// resourceError wraps a device failure as ErrResource while keeping the
// device's own error reachable through errors.Is.
func resourceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrResource, op, err)
}
