// Package compiler turns OpenCL C source into program binaries.
//
// A Bridge is the only thing the runtime needs from a compiler. Two are
// provided:
//   - OclocBridge runs the offline compiler shipped with the Intel compute
//     runtime
//   - CachingBridge wraps another Bridge and keeps its outputs in a
//     persistent store keyed by the content of the request
package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBuildFailed is matched by every *BuildError.
var ErrBuildFailed = errors.New("build failed")

// Options are the inputs of a build besides the source.
type Options struct {
	// Flags are passed to the compiler as the OpenCL build options string,
	// e.g. "-cl-std=CL2.0 -cl-fast-relaxed-math".
	Flags string

	// Device names the target, e.g. "skl". Empty uses the bridge's default.
	Device string
}

// String implements fmt.Stringer.
func (o Options) String() string {
	return fmt.Sprintf("device=%q flags=%q", o.Device, o.Flags)
}

// Result is a successful build.
type Result struct {
	// Binary is the program binary, opaque to the compiler package.
	Binary []byte

	// Log holds compiler warnings, if any.
	Log string
}

// BuildError is returned when the compiler rejects the source.
type BuildError struct {
	Log string
	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	msg := "build failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if log := strings.TrimSpace(e.Log); log != "" {
		msg += "\n" + log
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBuildFailed.
func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// Bridge compiles OpenCL C source.
type Bridge interface {
	Build(ctx context.Context, src string, opts Options) (*Result, error)
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, src string, opts Options) (*Result, error)

// Build calls f.
func (f BridgeFunc) Build(ctx context.Context, src string, opts Options) (*Result, error) {
	return f(ctx, src, opts)
}
