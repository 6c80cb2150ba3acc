package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// Default configuration values.
const (
	// DefaultPollInterval is the sleep between reads of the completion flag.
	DefaultPollInterval = 500 * time.Microsecond

	// DefaultMaxIndirectData is the largest indirect payload the walker can
	// address on Gen9.
	DefaultMaxIndirectData = 63488
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid runtime configuration")

// Config holds runtime configuration.
type Config struct {
	// PollInterval is the sleep between reads of the completion flag.
	PollInterval time.Duration

	// CompletionTimeout bounds the wait for a submitted batch. Zero waits
	// until the flag is written or the context is done.
	CompletionTimeout time.Duration

	// MaxIndirectData caps the indirect payload of one dispatch in bytes.
	// It may not exceed DefaultMaxIndirectData.
	MaxIndirectData uint32

	// Limits bound program decoding.
	Limits progbin.Limits

	// Logger overrides the shared logger for this runtime.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with the hardware defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		MaxIndirectData: DefaultMaxIndirectData,
		Limits:          progbin.DefaultLimits(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.CompletionTimeout < 0 {
		return fmt.Errorf("%w: completion timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxIndirectData == 0 || c.MaxIndirectData > DefaultMaxIndirectData {
		return fmt.Errorf("%w: max indirect data %d not in [1, %d]",
			ErrInvalidConfig, c.MaxIndirectData, DefaultMaxIndirectData)
	}
	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MaxIndirectData == 0 {
		c.MaxIndirectData = defaults.MaxIndirectData
	}
	if c.Limits == (progbin.Limits{}) {
		c.Limits = defaults.Limits
	}
	return c
}

// ConfigBuilder provides a fluent interface for building Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder creates a new ConfigBuilder with default values.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

// PollInterval sets the completion poll interval.
func (b *ConfigBuilder) PollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

// CompletionTimeout sets the completion timeout.
func (b *ConfigBuilder) CompletionTimeout(d time.Duration) *ConfigBuilder {
	b.config.CompletionTimeout = d
	return b
}

// MaxIndirectData sets the indirect payload cap.
func (b *ConfigBuilder) MaxIndirectData(n uint32) *ConfigBuilder {
	b.config.MaxIndirectData = n
	return b
}

// Limits sets the decode limits.
func (b *ConfigBuilder) Limits(l progbin.Limits) *ConfigBuilder {
	b.config.Limits = l
	return b
}

// Logger sets the runtime's logger.
func (b *ConfigBuilder) Logger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates and returns the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.Validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}

// MustBuild is like Build but panics on an invalid configuration.
func (b *ConfigBuilder) MustBuild() Config {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
