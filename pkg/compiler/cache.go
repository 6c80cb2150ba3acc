package compiler

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/gpgpu-rt/internal/logging"
	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// ErrCorruptEntry is returned for cache entries that do not decode.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// entryMagic starts every decompressed cache entry.
var entryMagic = []byte("GPRC")

// CacheKey returns the key a build request is cached under.
func CacheKey(src string, opts Options) types.ContentID {
	return types.ComputeContentID(storeFormat, []byte(src), []byte(opts.Flags), []byte(opts.Device))
}

// CacheStats counts cache lookups.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// CachingBridge serves builds from a Store and falls back to another Bridge.
// Failed builds are not cached.
type CachingBridge struct {
	next   Bridge
	store  Store
	logger *slog.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachingBridge wraps next with store. The bridge owns store and closes
// it in Close.
func NewCachingBridge(next Bridge, store Store, cfg CacheConfig) (*CachingBridge, error) {
	level := cfg.CompressionLevel
	if level == 0 {
		level = zstd.SpeedDefault
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &CachingBridge{
		next:    next,
		store:   store,
		logger:  logging.Or(cfg.Logger),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// OpenCachingBridge opens the store cfg describes and wraps next with it.
func OpenCachingBridge(next Bridge, cfg CacheConfig) (*CachingBridge, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	b, err := NewCachingBridge(next, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return b, nil
}

// Build implements Bridge.
func (b *CachingBridge) Build(ctx context.Context, src string, opts Options) (*Result, error) {
	key := CacheKey(src, opts)

	raw, ok, err := b.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", key, err)
	}
	if ok {
		res, err := b.decodeEntry(raw)
		if err == nil {
			b.hits.Add(1)
			b.logger.Debug("build cache hit", "key", key.String(), "bytes", len(res.Binary))
			return res, nil
		}
		b.logger.Warn("dropping unreadable cache entry", "key", key.String(), "error", err)
		if err := b.store.Delete(key); err != nil {
			return nil, fmt.Errorf("cache delete %s: %w", key, err)
		}
	}

	b.misses.Add(1)
	b.logger.Debug("build cache miss", "key", key.String(), "options", opts.String())
	res, err := b.next.Build(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if err := b.store.Put(key, b.encodeEntry(res)); err != nil {
		return nil, fmt.Errorf("cache store %s: %w", key, err)
	}
	return res, nil
}

// Stats returns the lookup counters.
func (b *CachingBridge) Stats() CacheStats {
	return CacheStats{Hits: b.hits.Load(), Misses: b.misses.Load()}
}

// Close releases the compressor and closes the store.
func (b *CachingBridge) Close() error {
	b.encoder.Close()
	b.decoder.Close()
	return b.store.Close()
}

// encodeEntry serializes a result as magic, binary length, log length,
// binary and log, compressed as one zstd frame.
func (b *CachingBridge) encodeEntry(res *Result) []byte {
	var buf bytes.Buffer
	buf.Write(entryMagic)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(res.Binary)))
	buf.Write(n[:])
	binary.LittleEndian.PutUint32(n[:], uint32(len(res.Log)))
	buf.Write(n[:])
	buf.Write(res.Binary)
	buf.WriteString(res.Log)
	return b.encoder.EncodeAll(buf.Bytes(), nil)
}

func (b *CachingBridge) decodeEntry(raw []byte) (*Result, error) {
	data, err := b.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	const header = 12
	if len(data) < header || !bytes.Equal(data[:4], entryMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptEntry)
	}
	binLen := uint64(binary.LittleEndian.Uint32(data[4:8]))
	logLen := uint64(binary.LittleEndian.Uint32(data[8:12]))
	if uint64(len(data)-header) != binLen+logLen {
		return nil, fmt.Errorf("%w: %d payload bytes for %d+%d", ErrCorruptEntry, len(data)-header, binLen, logLen)
	}
	body := data[header:]
	return &Result{
		Binary: append([]byte(nil), body[:binLen]...),
		Log:    string(body[binLen:]),
	}, nil
}
