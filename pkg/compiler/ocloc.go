package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fortiblox/gpgpu-rt/internal/logging"
)

// Default ocloc settings.
const (
	DefaultOclocBinary = "ocloc"
	DefaultDevice      = "skl"

	sourceName = "kernel.cl"
	outputName = "kernel"
)

// OclocConfig configures an OclocBridge.
type OclocConfig struct {
	// Binary is the ocloc executable, looked up in PATH when it has no
	// directory part.
	Binary string

	// Device is the target used when Options.Device is empty.
	Device string

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string

	// WorkDir holds the per-build scratch directories. Empty uses the
	// system temporary directory.
	WorkDir string

	// Logger overrides the shared logger.
	Logger *slog.Logger
}

// DefaultOclocConfig returns a configuration targeting Skylake.
func DefaultOclocConfig() OclocConfig {
	return OclocConfig{
		Binary: DefaultOclocBinary,
		Device: DefaultDevice,
	}
}

// OclocBridge builds programs with the ocloc offline compiler.
type OclocBridge struct {
	cfg    OclocConfig
	logger *slog.Logger
}

// NewOclocBridge creates a bridge. The binary is resolved on each build, so
// a missing compiler is reported by Build.
func NewOclocBridge(cfg OclocConfig) *OclocBridge {
	if cfg.Binary == "" {
		cfg.Binary = DefaultOclocBinary
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	return &OclocBridge{cfg: cfg, logger: logging.Or(cfg.Logger)}
}

// Build implements Bridge.
func (b *OclocBridge) Build(ctx context.Context, src string, opts Options) (*Result, error) {
	dir, err := os.MkdirTemp(b.cfg.WorkDir, "ocloc-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, sourceName)
	if err := os.WriteFile(srcPath, []byte(src), 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	device := opts.Device
	if device == "" {
		device = b.cfg.Device
	}
	args := []string{
		"compile",
		"-file", srcPath,
		"-device", device,
		"-out_dir", dir,
		"-output", outputName,
		"-output_no_suffix",
	}
	if opts.Flags != "" {
		args = append(args, "-options", opts.Flags)
	}
	args = append(args, b.cfg.ExtraArgs...)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, b.cfg.Binary, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out

	b.logger.Debug("running ocloc", "binary", b.cfg.Binary, "device", device, "flags", opts.Flags)
	if err := cmd.Run(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			b.logger.Warn("ocloc rejected source", "device", device, "exit", exit.ExitCode())
			return nil, &BuildError{Log: out.String(), Err: fmt.Errorf("ocloc exited with status %d", exit.ExitCode())}
		}
		return nil, fmt.Errorf("run %s: %w", b.cfg.Binary, err)
	}

	bin, err := os.ReadFile(filepath.Join(dir, outputName+".bin"))
	if err != nil {
		return nil, &BuildError{Log: out.String(), Err: fmt.Errorf("read output: %w", err)}
	}
	return &Result{Binary: bin, Log: out.String()}, nil
}
