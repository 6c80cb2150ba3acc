package hwcmd

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for command fields outside their
	// encodable range.
	ErrInvalidArgument = errors.New("invalid command argument")

	// ErrUnknownCommand is returned for command kinds or opcodes a
	// generation has no encoding for.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnsupportedGen is returned by NewEncoder for generations without a
	// command table.
	ErrUnsupportedGen = errors.New("unsupported hardware generation")
)

// Gen is a hardware generation.
type Gen int

// Supported generations.
const (
	Gen9 Gen = 9
)

// String implements fmt.Stringer.
func (g Gen) String() string {
	return fmt.Sprintf("Gen%d", int(g))
}

// codec describes how one command kind is laid out on a generation.
type codec struct {
	// opcode is word 0 with every variable field zero; mask selects the
	// bits of word 0 that identify the command.
	opcode uint32
	mask   uint32

	// size returns the length of c in dwords.
	size func(c Command) int

	// encode fills w, which has size(c) entries and starts zeroed.
	encode func(c Command, w []uint32) error

	// decode parses a command previously identified by opcode/mask. It
	// is never called with fewer than minSize words.
	decode  func(w []uint32) Command
	minSize int
}

// generations maps each supported generation to its command table.
var generations = map[Gen]map[Kind]codec{
	Gen9: gen9Commands,
}

// Encoder serializes commands for one hardware generation.
type Encoder struct {
	gen   Gen
	table map[Kind]codec
}

// NewEncoder returns an encoder for gen.
func NewEncoder(gen Gen) (*Encoder, error) {
	table, ok := generations[gen]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGen, gen)
	}
	return &Encoder{gen: gen, table: table}, nil
}

// Gen returns the encoder's generation.
func (e *Encoder) Gen() Gen { return e.gen }

func (e *Encoder) codec(c Command) (codec, error) {
	if c == nil {
		return codec{}, fmt.Errorf("%w: nil command", ErrUnknownCommand)
	}
	cd, ok := e.table[c.Kind()]
	if !ok {
		return codec{}, fmt.Errorf("%w: %s on %s", ErrUnknownCommand, c.Kind(), e.gen)
	}
	return cd, nil
}

// Size returns the encoded length of c in bytes.
func (e *Encoder) Size(c Command) (int, error) {
	cd, err := e.codec(c)
	if err != nil {
		return 0, err
	}
	return 4 * cd.size(c), nil
}

// Write encodes c into dst and returns the number of bytes written. dst
// must hold at least Size(c) bytes.
func (e *Encoder) Write(dst []byte, c Command) (int, error) {
	cd, err := e.codec(c)
	if err != nil {
		return 0, err
	}

	w := make([]uint32, cd.size(c))
	if err := cd.encode(c, w); err != nil {
		return 0, fmt.Errorf("%s: %w", c.Kind(), err)
	}
	if len(dst) < 4*len(w) {
		return 0, fmt.Errorf("%w: %s needs %d bytes, buffer has %d",
			ErrInvalidArgument, c.Kind(), 4*len(w), len(dst))
	}
	for i, v := range w {
		binary.LittleEndian.PutUint32(dst[4*i:], v)
	}
	return 4 * len(w), nil
}

// Append encodes c and appends it to dst.
func (e *Encoder) Append(dst []byte, c Command) ([]byte, error) {
	n, err := e.Size(c)
	if err != nil {
		return dst, err
	}
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	if _, err := e.Write(dst[start:], c); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// Identify returns the kind of the command whose first dword is w0.
func (e *Encoder) Identify(w0 uint32) (Kind, bool) {
	for k, cd := range e.table {
		if w0&cd.mask == cd.opcode {
			return k, true
		}
	}
	return 0, false
}

// Decode parses one encoded command. words must hold exactly the command.
func (e *Encoder) Decode(words []uint32) (Command, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}
	k, ok := e.Identify(words[0])
	if !ok {
		return nil, fmt.Errorf("%w: header 0x%08x", ErrUnknownCommand, words[0])
	}
	n, err := CommandLength(words[0])
	if err != nil {
		return nil, err
	}
	if n != len(words) {
		return nil, fmt.Errorf("%w: %s declares %d dwords, have %d", ErrInvalidArgument, k, n, len(words))
	}
	if want := e.table[k].minSize; n < want {
		return nil, fmt.Errorf("%w: %s needs at least %d dwords, have %d", ErrInvalidArgument, k, want, n)
	}
	return e.table[k].decode(words), nil
}

// DecodeStream parses a whole command stream.
func (e *Encoder) DecodeStream(stream []byte) ([]Command, error) {
	var cmds []Command
	err := Walk(stream, func(off int, words []uint32) error {
		c, err := e.Decode(words)
		if err != nil {
			return fmt.Errorf("offset %d: %w", off, err)
		}
		cmds = append(cmds, c)
		return nil
	})
	return cmds, err
}

// Batch is an ordered list of commands encoded as one buffer.
type Batch struct {
	enc  *Encoder
	cmds []Command
}

// NewBatch returns an empty batch.
func (e *Encoder) NewBatch() *Batch {
	return &Batch{enc: e}
}

// Add appends commands to the batch.
func (b *Batch) Add(cmds ...Command) *Batch {
	b.cmds = append(b.cmds, cmds...)
	return b
}

// Commands returns the commands in order.
func (b *Batch) Commands() []Command { return b.cmds }

// Size returns the encoded size of the batch in bytes.
func (b *Batch) Size() (int, error) {
	total := 0
	for _, c := range b.cmds {
		n, err := b.enc.Size(c)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Bytes encodes the batch.
func (b *Batch) Bytes() ([]byte, error) {
	n, err := b.Size()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for _, c := range b.cmds {
		if out, err = b.enc.Append(out, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}
