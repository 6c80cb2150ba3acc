package compiler

import (
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestCacheConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CacheConfig
		wantErr bool
	}{
		{"default bolt", DefaultCacheConfig("/tmp/cache.db"), false},
		{"bolt without path", CacheConfig{Backend: BackendBolt, CompressionLevel: zstd.SpeedDefault}, true},
		{"badger in memory", CacheConfig{Backend: BackendBadger, InMemory: true, CompressionLevel: zstd.SpeedFastest}, false},
		{"badger without path", CacheConfig{Backend: BackendBadger, CompressionLevel: zstd.SpeedDefault}, true},
		{"memory", CacheConfig{Backend: BackendMemory, CompressionLevel: zstd.SpeedDefault}, false},
		{"unknown backend", CacheConfig{Backend: "redis", CompressionLevel: zstd.SpeedDefault}, true},
		{"no compression level", CacheConfig{Backend: BackendMemory}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCacheConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidCacheConfig", err)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GPGPU_CACHE_HOME", "/var/cache")
	t.Setenv("GPGPU_CACHE_SELF", "${GPGPU_CACHE_SELF}")
	t.Setenv("GPGPU_CACHE_NAME", "builds")
	tests := []struct {
		in, want string
	}{
		{"${GPGPU_CACHE_SELF}/x", "${GPGPU_CACHE_SELF}/x"},
		{"${GPGPU_CACHE_HOME}/${GPGPU_CACHE_NAME}.db", "/var/cache/builds.db"},
		{"${GPGPU_CACHE_HOME}/builds.db", "/var/cache/builds.db"},
		{"plain/path", "plain/path"},
		{"${GPGPU_UNSET_VARIABLE}x", "x"},
		{"${unterminated", "${unterminated"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenStoreMemory(t *testing.T) {
	s, err := OpenStore(CacheConfig{Backend: BackendMemory, CompressionLevel: zstd.SpeedDefault})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("OpenStore returned %T, want *MemoryStore", s)
	}
}
