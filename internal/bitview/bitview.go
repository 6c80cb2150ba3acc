// Package bitview reads and writes fixed-width bit fields packed into arrays
// of unsigned integers.
//
// Hardware state records (interface descriptors, surface states, register
// values) are described as a list of named fields, each living in one
// element of a word array at an inclusive bit range [Low, High]. A Field
// value describes such a location once; Get and Set are the runtime
// helpers for ad-hoc access.
//
// No range checking is performed beyond masking: a value wider than its
// field is silently truncated. Callers validate ranges before writing.
package bitview

import "math/bits"

// Unsigned is the set of element types a bit view can address.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// mask returns the unshifted mask for a field of bits [low, high].
func mask[T Unsigned](low, high int) T {
	width := high - low + 1
	if width >= bits.Len64(uint64(^T(0))) {
		return ^T(0)
	}
	return T(1)<<uint(width) - 1
}

// Get returns bits [low, high] of words[index], shifted down to bit 0.
func Get[T Unsigned](words []T, index, low, high int) T {
	return (words[index] >> uint(low)) & mask[T](low, high)
}

// Set writes v into bits [low, high] of words[index], leaving all other bits
// of the element untouched.
func Set[T Unsigned](words []T, index, low, high int, v T) {
	m := mask[T](low, high)
	words[index] = words[index]&^(m<<uint(low)) | (v&m)<<uint(low)
}

// Field is a named location inside a []uint32 record.
type Field struct {
	Word int
	Low  int
	High int
}

// Width returns the number of bits in the field.
func (f Field) Width() int {
	return f.High - f.Low + 1
}

// Max returns the largest value the field can hold.
func (f Field) Max() uint32 {
	return mask[uint32](f.Low, f.High)
}

// Get reads the field.
func (f Field) Get(words []uint32) uint32 {
	return Get(words, f.Word, f.Low, f.High)
}

// Set writes the field.
func (f Field) Set(words []uint32, v uint32) {
	Set(words, f.Word, f.Low, f.High, v)
}

// Field64 is a value split across two fields: Lo holds the least significant
// bits, Hi the remaining ones. It is used for addresses that straddle a word
// boundary (kernel start pointers, surface base addresses).
type Field64 struct {
	Lo Field
	Hi Field
}

// Get reads the combined value.
func (f Field64) Get(words []uint32) uint64 {
	return uint64(f.Lo.Get(words)) | uint64(f.Hi.Get(words))<<uint(f.Lo.Width())
}

// Set writes the combined value.
func (f Field64) Set(words []uint32, v uint64) {
	f.Lo.Set(words, uint32(v))
	f.Hi.Set(words, uint32(v>>uint(f.Lo.Width())))
}
