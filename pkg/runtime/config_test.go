package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"timeout", func(c *Config) { c.CompletionTimeout = time.Second }, false},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"negative timeout", func(c *Config) { c.CompletionTimeout = -time.Second }, true},
		{"zero indirect cap", func(c *Config) { c.MaxIndirectData = 0 }, true},
		{"indirect cap above hardware", func(c *Config) { c.MaxIndirectData = DefaultMaxIndirectData + 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{CompletionTimeout: time.Second}.WithDefaults()
	if c.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %s, want %s", c.PollInterval, DefaultPollInterval)
	}
	if c.MaxIndirectData != DefaultMaxIndirectData {
		t.Errorf("MaxIndirectData = %d, want %d", c.MaxIndirectData, DefaultMaxIndirectData)
	}
	if c.Limits != progbin.DefaultLimits() {
		t.Errorf("Limits = %+v, want the defaults", c.Limits)
	}
	if c.CompletionTimeout != time.Second {
		t.Errorf("CompletionTimeout = %s, want 1s", c.CompletionTimeout)
	}
}

func TestConfigBuilder(t *testing.T) {
	c, err := NewConfigBuilder().
		PollInterval(time.Millisecond).
		CompletionTimeout(2 * time.Second).
		MaxIndirectData(4096).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.PollInterval != time.Millisecond || c.CompletionTimeout != 2*time.Second || c.MaxIndirectData != 4096 {
		t.Errorf("Build = %+v", c)
	}

	if _, err := NewConfigBuilder().PollInterval(-1).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Build with a negative interval = %v, want ErrInvalidConfig", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustBuild did not panic on an invalid config")
		}
	}()
	NewConfigBuilder().MaxIndirectData(0).MustBuild()
}
