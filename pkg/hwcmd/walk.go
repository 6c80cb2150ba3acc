package hwcmd

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrStreamTruncated is returned when a command runs past the end of a stream.
var ErrStreamTruncated = errors.New("command stream truncated")

// StopWalk may be returned by a Walk callback to end the walk early
// without an error.
var StopWalk = errors.New("stop walk")

const (
	cmdTypeShift    = 29
	miOpcodeShift   = 23
	miOpcodeMask    = 0x3f
	miShortOpcodes  = 0x10
	miLengthMask    = 0x3f
	gfxLengthMask   = 0xff
	pipelineSelect0 = gen9PipelineSelect >> 16
)

// CommandLength returns the length in dwords of the command whose first
// dword is w0.
func CommandLength(w0 uint32) (int, error) {
	switch w0 >> cmdTypeShift {
	case 0:
		if (w0>>miOpcodeShift)&miOpcodeMask < miShortOpcodes {
			return 1, nil
		}
		return int(w0&miLengthMask) + 2, nil
	case 3:
		if w0>>16 == pipelineSelect0 {
			return 1, nil
		}
		return int(w0&gfxLengthMask) + 2, nil
	default:
		return 0, fmt.Errorf("%w: command type %d in dword 0x%08x", ErrUnknownCommand, w0>>cmdTypeShift, w0)
	}
}

// Walk calls fn for each command in stream, in order, with the command's
// byte offset and its dwords. The words slice is only valid during the call.
func Walk(stream []byte, fn func(off int, words []uint32) error) error {
	if len(stream)%4 != 0 {
		return fmt.Errorf("%w: stream length %d is not a multiple of 4", ErrInvalidArgument, len(stream))
	}
	var words []uint32
	for off := 0; off < len(stream); {
		n, err := CommandLength(binary.LittleEndian.Uint32(stream[off:]))
		if err != nil {
			return fmt.Errorf("offset %d: %w", off, err)
		}
		if off+4*n > len(stream) {
			return fmt.Errorf("%w: %d dword command at offset %d, %d bytes left",
				ErrStreamTruncated, n, off, len(stream)-off)
		}
		words = words[:0]
		for i := 0; i < n; i++ {
			words = append(words, binary.LittleEndian.Uint32(stream[off+4*i:]))
		}
		if err := fn(off, words); err != nil {
			if errors.Is(err, StopWalk) {
				return nil
			}
			return err
		}
		off += 4 * n
	}
	return nil
}
