package progbin

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package wraps exactly one of
// them, so callers can classify failures with errors.Is.
var (
	// ErrFormat marks a malformed, truncated or oversized binary.
	ErrFormat = errors.New("malformed program binary")

	// ErrUnsupported marks a recognized but unsupported program shape.
	ErrUnsupported = errors.New("unsupported feature")
)

// Specific decode errors.
var (
	ErrTruncated        = fmt.Errorf("%w: truncated", ErrFormat)
	ErrBadMagic         = fmt.Errorf("%w: bad magic", ErrFormat)
	ErrBadVersion       = fmt.Errorf("%w: unsupported format version", ErrFormat)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrFormat)
	ErrPatchListSize    = fmt.Errorf("%w: patch list size mismatch", ErrFormat)
	ErrDuplicateToken   = fmt.Errorf("%w: duplicate patch token", ErrFormat)
	ErrTrailingData     = fmt.Errorf("%w: trailing data after last kernel", ErrFormat)
	ErrTooLarge         = fmt.Errorf("%w: binary too large", ErrFormat)
	ErrKernelNotFound   = errors.New("kernel not found in program")
	ErrDuplicateKernel  = fmt.Errorf("%w: kernel name occurs more than once", ErrFormat)

	// ErrUnknownToken is returned for patch tokens this package does not
	// understand. Such kernels are refused rather than partially decoded.
	ErrUnknownToken = fmt.Errorf("%w: unknown patch token", ErrUnsupported)
)

// UnsupportedFeatureError names a recognized feature that the runtime
// deliberately does not handle.
type UnsupportedFeatureError struct {
	Feature string
	Detail  string
}

// Error implements the error interface.
func (e *UnsupportedFeatureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsupported feature: %s", e.Feature)
	}
	return fmt.Sprintf("unsupported feature: %s (%s)", e.Feature, e.Detail)
}

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unsupported returns an *UnsupportedFeatureError for feature.
func Unsupported(feature string, format string, args ...any) error {
	return &UnsupportedFeatureError{Feature: feature, Detail: fmt.Sprintf(format, args...)}
}

// IsUnsupported reports whether err names an unsupported feature and returns it.
func IsUnsupported(err error) (string, bool) {
	var uf *UnsupportedFeatureError
	if errors.As(err, &uf) {
		return uf.Feature, true
	}
	return "", errors.Is(err, ErrUnsupported)
}
