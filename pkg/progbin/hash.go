package progbin

import (
	"encoding/binary"
	"fmt"
)

// Hash seeds.
const (
	hashSeedA = 0x428a2f98
	hashSeedB = 0x71374491
	hashSeedC = 0xb5c0fbcf
)

// Hash computes the 64-bit kernel hash over data, which must be a whole
// number of little-endian 32-bit words. The low 32 bits are what a kernel
// header stores as its checksum.
func Hash(data []byte) (uint64, error) {
	if len(data)%4 != 0 {
		return 0, fmt.Errorf("%w: hashed range of %d bytes is not word aligned", ErrFormat, len(data))
	}

	a, b, c := uint32(hashSeedA), uint32(hashSeedB), uint32(hashSeedC)
	for off := 0; off < len(data); off += 4 {
		a ^= binary.LittleEndian.Uint32(data[off:])
		a, b, c = mix(a, b, c)
	}
	return uint64(b)<<32 | uint64(c), nil
}

// Checksum returns the low 32 bits of Hash(data).
func Checksum(data []byte) (uint32, error) {
	h, err := Hash(data)
	if err != nil {
		return 0, err
	}
	return uint32(h), nil
}

// mix is Bob Jenkins' 96-bit mixing step.
func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= b
	a -= c
	a ^= c >> 13
	b -= c
	b -= a
	b ^= a << 8
	c -= a
	c -= b
	c ^= b >> 13
	a -= b
	a -= c
	a ^= c >> 12
	b -= c
	b -= a
	b ^= a << 16
	c -= a
	c -= b
	c ^= b >> 5
	a -= b
	a -= c
	a ^= c >> 3
	b -= c
	b -= a
	b ^= a << 10
	c -= a
	c -= b
	c ^= b >> 15
	return a, b, c
}
