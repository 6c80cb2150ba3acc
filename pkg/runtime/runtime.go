// Package runtime runs OpenCL kernels compiled for Gen9 GPUs on a device.
//
// The runtime is responsible for:
//   - Decoding a compiled program and checking that its kernel only uses
//     features the runtime can drive
//   - Binding arguments into the kernel's surface states and cross-thread data
//   - Choosing a SIMD width and laying out per-thread payloads
//   - Building the batch buffers that dispatch the kernel
//   - Submitting them and waiting for the completion flag
//
// One execution is in flight per Runtime at a time.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fortiblox/gpgpu-rt/internal/logging"
	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/compiler"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// SetLogger installs l as the logger shared by every package of the
// runtime. A nil l silences logging.
func SetLogger(l *slog.Logger) { logging.Set(l) }

// Logger returns the shared logger.
func Logger() *slog.Logger { return logging.Get() }

// Runtime drives one device.
type Runtime struct {
	dev     device.Device
	caps    device.Capabilities
	cfg     Config
	logger  *slog.Logger
	enc     *hwcmd.Encoder
	decoder *progbin.Decoder

	// mu serializes executions.
	mu     sync.Mutex
	closed atomic.Bool
}

// New creates a runtime on dev. The runtime owns dev and closes it in Close.
func New(dev device.Device, cfg Config) (*Runtime, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	caps := dev.Capabilities()
	if caps.Gen != int(hwcmd.Gen9) {
		return nil, progbin.Unsupported("device generation", "%s is Gen%d", caps.Name, caps.Gen)
	}
	if caps.MaxComputeThreads == 0 {
		return nil, fmt.Errorf("%w: %s reports no compute threads", ErrResource, caps.Name)
	}
	if caps.MaxComputeThreads > maxVFEThreads {
		return nil, fmt.Errorf("%w: %s reports %d compute threads, at most %d can be dispatched",
			ErrResource, caps.Name, caps.MaxComputeThreads, maxVFEThreads)
	}
	if err := types.ValidatePageSize(caps.PageSize); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResource, caps.Name, err)
	}

	enc, err := hwcmd.NewEncoder(hwcmd.Gen9)
	if err != nil {
		return nil, err
	}

	logger := logging.Or(cfg.Logger)
	logger.Debug("runtime created", "device", caps.Name, "threads", caps.MaxComputeThreads, "page", caps.PageSize)

	return &Runtime{
		dev:     dev,
		caps:    caps,
		cfg:     cfg,
		logger:  logger,
		enc:     enc,
		decoder: progbin.NewDecoder(cfg.Limits, cfg.Logger),
	}, nil
}

// Capabilities returns the device's capabilities.
func (r *Runtime) Capabilities() device.Capabilities { return r.caps }

// Close waits for the execution in flight, if any, and closes the device.
// Kernels and executions of a closed runtime fail with ErrClosed.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dev.Close(); err != nil {
		return resourceError("close device", err)
	}
	return nil
}

// LoadKernel decodes the kernel called name from a program binary.
func (r *Runtime) LoadKernel(bin []byte, name string) (*Kernel, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	decoded, err := r.decoder.DecodeKernel(bin, name)
	if err != nil {
		return nil, err
	}
	k, err := newKernel(r, decoded)
	if err != nil {
		return nil, fmt.Errorf("kernel %q: %w", name, err)
	}

	r.logger.Debug("kernel loaded",
		"name", name,
		"args", len(k.args),
		"buffers", k.buffers,
		"instructions", decoded.KernelHeap.Size(),
		"cross_thread", k.crossThreadSize)
	return k, nil
}

// BuildKernel compiles src with bridge and loads the kernel called name.
func (r *Runtime) BuildKernel(ctx context.Context, bridge compiler.Bridge, src string, opts compiler.Options, name string) (*Kernel, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	res, err := bridge.Build(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("build kernel %q: %w", name, err)
	}
	if res.Log != "" {
		r.logger.Debug("build log", "kernel", name, "log", res.Log)
	}
	return r.LoadKernel(res.Binary, name)
}
