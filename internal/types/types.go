// Package types defines small value types shared by the runtime packages:
// dispatch geometry, GPU virtual addresses, and content identifiers.
//
// Content identifiers are blake3 digests and render in base58, the same
// textual form used for keys in logs and in the build cache.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	ContentIDSize = 32

	// AddressBits is the width of a GPU virtual address on the modeled
	// hardware. Bit 47 is replicated into bits 48..63 ("canonical" form).
	AddressBits = 48
)

var (
	// ErrInvalidContentID is returned when a content id has invalid length.
	ErrInvalidContentID = errors.New("invalid content id: must be 32 bytes")

	// ErrInvalidPageSize is returned for page sizes that are not a power of two.
	ErrInvalidPageSize = errors.New("invalid page size")
)

// NDRange is a three dimensional work size.
type NDRange struct {
	X uint32
	Y uint32
	Z uint32
}

// NewNDRange returns an NDRange; missing trailing dimensions default to 1.
func NewNDRange(dims ...uint32) NDRange {
	r := NDRange{X: 1, Y: 1, Z: 1}
	if len(dims) > 0 {
		r.X = dims[0]
	}
	if len(dims) > 1 {
		r.Y = dims[1]
	}
	if len(dims) > 2 {
		r.Z = dims[2]
	}
	return r
}

// Total returns X*Y*Z.
func (r NDRange) Total() uint64 {
	return uint64(r.X) * uint64(r.Y) * uint64(r.Z)
}

// Axis returns the extent along axis 0, 1 or 2.
func (r NDRange) Axis(i int) uint32 {
	switch i {
	case 0:
		return r.X
	case 1:
		return r.Y
	default:
		return r.Z
	}
}

// String implements fmt.Stringer.
func (r NDRange) String() string {
	return fmt.Sprintf("%dx%dx%d", r.X, r.Y, r.Z)
}

// CanonicalAddress sign-extends a 48-bit GPU address from bit 47.
func CanonicalAddress(addr uint64) uint64 {
	return uint64(int64(addr<<(64-AddressBits)) >> (64 - AddressBits))
}

// AlignUp rounds size up to a multiple of pageSize, which must be a power of two.
func AlignUp(size, pageSize uint64) uint64 {
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// IsAligned reports whether v is a multiple of pageSize.
func IsAligned(v, pageSize uint64) bool {
	return v&(pageSize-1) == 0
}

// ValidatePageSize checks that pageSize is a non-zero power of two.
func ValidatePageSize(pageSize uint64) error {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	return nil
}

// ContentID identifies a piece of content by its blake3 digest.
type ContentID [ContentIDSize]byte

// ComputeContentID hashes the given parts. Each part is length-prefixed so
// that ("ab", "c") and ("a", "bc") produce different ids.
func ComputeContentID(parts ...[]byte) ContentID {
	h := blake3.New()
	var n [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	var id ContentID
	copy(id[:], h.Sum(nil))
	return id
}

// ContentIDFromBase58 parses a base58-encoded content id.
func ContentIDFromBase58(s string) (ContentID, error) {
	var id ContentID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ContentIDSize {
		return id, ErrInvalidContentID
	}
	copy(id[:], data)
	return id, nil
}

// ContentIDFromBytes creates a ContentID from a byte slice.
func ContentIDFromBytes(b []byte) (ContentID, error) {
	var id ContentID
	if len(b) != ContentIDSize {
		return id, ErrInvalidContentID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ContentID) String() string {
	return base58.Encode(id[:])
}

// IsZero returns true if the id is all zeros.
func (id ContentID) IsZero() bool {
	return id == ContentID{}
}

// Bytes returns the id as a byte slice.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ContentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ContentID) UnmarshalText(text []byte) error {
	parsed, err := ContentIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
