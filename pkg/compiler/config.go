package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Cache backends.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// ErrInvalidCacheConfig is returned by CacheConfig.Validate.
var ErrInvalidCacheConfig = errors.New("invalid cache configuration")

// CacheConfig configures the build cache.
type CacheConfig struct {
	// Backend is one of BackendBolt, BackendBadger or BackendMemory.
	Backend string

	// Path is the bolt database file or the badger directory.
	// Environment variables in ${VAR} form are expanded.
	Path string

	// NoSync skips fsync after writes. A crash may lose recent entries,
	// which only costs a rebuild.
	NoSync bool

	// InMemory keeps a badger cache in memory only.
	InMemory bool

	// CompressionLevel is the zstd encoder level for stored entries.
	CompressionLevel zstd.EncoderLevel

	// Logger overrides the shared logger.
	Logger *slog.Logger
}

// DefaultCacheConfig returns a bolt cache at path.
func DefaultCacheConfig(path string) CacheConfig {
	return CacheConfig{
		Backend:          BackendBolt,
		Path:             path,
		CompressionLevel: zstd.SpeedDefault,
	}
}

// Validate checks if the configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case BackendBolt:
		if c.Path == "" {
			return fmt.Errorf("%w: bolt cache needs a path", ErrInvalidCacheConfig)
		}
	case BackendBadger:
		if c.Path == "" && !c.InMemory {
			return fmt.Errorf("%w: badger cache needs a path or in-memory mode", ErrInvalidCacheConfig)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidCacheConfig, c.Backend)
	}
	if c.CompressionLevel < zstd.SpeedFastest {
		return fmt.Errorf("%w: compression level %d", ErrInvalidCacheConfig, c.CompressionLevel)
	}
	return nil
}

// ExpandedPath returns Path with ${VAR} references replaced.
func (c *CacheConfig) ExpandedPath() string {
	return expandEnvVars(c.Path)
}

// expandEnvVars expands ${VAR} references in a string. Unset variables
// expand to the empty string. Substituted values are not expanded again.
func expandEnvVars(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			break
		}
		end += start

		b.WriteString(s[:start])
		b.WriteString(os.Getenv(s[start+2 : end]))
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// OpenStore opens the store the configuration describes.
func OpenStore(cfg CacheConfig) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendBolt:
		return OpenBoltStore(cfg.ExpandedPath(), cfg.NoSync)
	case BackendBadger:
		return OpenBadgerStore(cfg.ExpandedPath(), cfg.InMemory, !cfg.NoSync)
	}
	return NewMemoryStore(), nil
}
