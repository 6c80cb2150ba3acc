package hwcmd

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func newGen9(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder(Gen9)
	if err != nil {
		t.Fatalf("NewEncoder(Gen9) failed: %v", err)
	}
	return enc
}

func encodeWords(t *testing.T, enc *Encoder, c Command) []uint32 {
	t.Helper()
	b, err := enc.Append(nil, c)
	if err != nil {
		t.Fatalf("Append(%s) failed: %v", c.Kind(), err)
	}
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return w
}

func TestNewEncoderUnsupportedGen(t *testing.T) {
	if _, err := NewEncoder(Gen(11)); !errors.Is(err, ErrUnsupportedGen) {
		t.Errorf("NewEncoder(11) = %v, want ErrUnsupportedGen", err)
	}
}

func TestCommandHeaders(t *testing.T) {
	enc := newGen9(t)

	tests := []struct {
		cmd   Command
		word0 uint32
		words int
	}{
		{PipeControl{}, 0x7A000004, 6},
		{PipelineSelect{Pipeline: PipelineGPGPU, MaskBits: 0x13, DOPClockGateEnable: true}, 0x69041312, 1},
		{StateBaseAddress{}, 0x61010010, 18},
		{StateBaseAddress{BindlessSurface: StateBase{SizeSet: true}}, 0x61010011, 19},
		{MediaVFEState{NumberOfURBEntries: 1}, 0x70000007, 9},
		{MediaInterfaceDescriptorLoad{}, 0x70020002, 4},
		{MediaCurbeLoad{}, 0x70010002, 4},
		{MediaStateFlush{}, 0x70040000, 2},
		{GPGPUWalker{}, 0x7105000D, 15},
		{MIBatchBufferStart{AddressSpace: AddressSpacePPGTT}, 0x18800101, 3},
		{MIBatchBufferEnd{}, 0x05000000, 1},
		{MINoop{}, 0, 1},
		{MILoadRegisterImm{Register: RegL3CNTLREG}, 0x11000001, 3},
		{MIRSControl{}, 0x03000000, 1},
		{CCStatePointers{}, 0x780E0000, 2},
		{BindingTablePoolAlloc{}, 0x79190002, 4},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Kind().String(), func(t *testing.T) {
			w := encodeWords(t, enc, tt.cmd)
			if len(w) != tt.words {
				t.Fatalf("len = %d, want %d", len(w), tt.words)
			}
			if w[0] != tt.word0 {
				t.Errorf("word 0 = 0x%08x, want 0x%08x", w[0], tt.word0)
			}
			n, err := CommandLength(w[0])
			if err != nil {
				t.Fatalf("CommandLength failed: %v", err)
			}
			if n != tt.words {
				t.Errorf("CommandLength = %d, want %d", n, tt.words)
			}
			k, ok := enc.Identify(w[0])
			if !ok || k != tt.cmd.Kind() {
				t.Errorf("Identify = %s, %v, want %s", k, ok, tt.cmd.Kind())
			}
		})
	}
}

func TestPipeControlPostSyncWrite(t *testing.T) {
	enc := newGen9(t)
	pc := PipeControl{
		CSStall:       true,
		DCFlush:       true,
		PostSyncOp:    PostSyncWriteImmediate,
		Address:       0x0000_8000_1234_5678,
		ImmediateData: 0xdead_beef_0000_0001,
	}
	w := encodeWords(t, enc, pc)

	if want := uint32(pcCSStall | pcDCFlush | 1<<pcPostSyncShift); w[1] != want {
		t.Errorf("dw1 = 0x%08x, want 0x%08x", w[1], want)
	}
	if w[2] != 0x1234_5678 || w[3] != 0x8000 {
		t.Errorf("address words = 0x%08x 0x%08x", w[2], w[3])
	}
	if w[4] != 1 || w[5] != 0xdead_beef {
		t.Errorf("immediate words = 0x%08x 0x%08x", w[4], w[5])
	}

	got, err := enc.Decode(w)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, pc) {
		t.Errorf("Decode = %+v, want %+v", got, pc)
	}
}

func TestPipeControlRejectsUnalignedAddress(t *testing.T) {
	enc := newGen9(t)
	_, err := enc.Append(nil, PipeControl{PostSyncOp: PostSyncWriteImmediate, Address: 0x1002})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Append = %v, want ErrInvalidArgument", err)
	}
}

func TestStateBaseAddressCanonical(t *testing.T) {
	enc := newGen9(t)
	sba := StateBaseAddress{
		General:     StateBase{Address: 0x1000, Set: true, Size: 4, SizeSet: true},
		Surface:     StateBase{Address: 0x0000_8000_0000_2fff, Set: true, MOCS: 2 << 1},
		Instruction: StateBase{Address: 0x4000, Set: true, MOCS: 2 << 1, Size: 1, SizeSet: true},
	}
	w := encodeWords(t, enc, sba)

	if w[1] != 0x1001 || w[2] != 0 {
		t.Errorf("general base = 0x%08x 0x%08x, want 0x00001001 0", w[1], w[2])
	}
	// Surface: page masked, modify enable, MOCS in bits 4-10, sign-extended high word.
	if w[4] != 0x2000|4<<4|1 {
		t.Errorf("surface base low = 0x%08x", w[4])
	}
	if w[5] != 0xffff8000 {
		t.Errorf("surface base high = 0x%08x, want 0xffff8000", w[5])
	}
	if w[12] != 4<<12|1 {
		t.Errorf("general size = 0x%08x", w[12])
	}
	if w[13] != 0 {
		t.Errorf("dynamic size = 0x%08x, want 0", w[13])
	}
	if w[15] != 1<<12|1 {
		t.Errorf("instruction size = 0x%08x", w[15])
	}
}

func TestStateBaseAddressGeneralChecks(t *testing.T) {
	enc := newGen9(t)
	tests := []struct {
		name string
		base StateBase
	}{
		{"address without size", StateBase{Address: 0x1000, Set: true}},
		{"size without address", StateBase{Size: 1, SizeSet: true}},
		{"end out of range", StateBase{Address: 0x0000_ffff_ffff_f000, Set: true, Size: 1, SizeSet: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Append(nil, StateBaseAddress{General: tt.base})
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Append = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestMediaVFEStateURBEntries(t *testing.T) {
	enc := newGen9(t)
	for _, n := range []uint8{0, 129} {
		if _, err := enc.Append(nil, MediaVFEState{NumberOfURBEntries: n}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("URB entries %d: err = %v, want ErrInvalidArgument", n, err)
		}
	}

	w := encodeWords(t, enc, MediaVFEState{
		MaximumNumberOfThreads: 223,
		NumberOfURBEntries:     1,
		URBEntryAllocationSize: 1922,
	})
	if w[3] != 223<<16|1<<8 {
		t.Errorf("dw3 = 0x%08x", w[3])
	}
	if w[5] != 1922<<16 {
		t.Errorf("dw5 = 0x%08x", w[5])
	}
}

func TestGPGPUWalkerFields(t *testing.T) {
	enc := newGen9(t)
	g := GPGPUWalker{
		IndirectDataLength:        96,
		SIMDSize:                  SIMD16,
		ThreadWidthCounterMaximum: 2,
		ThreadGroupIDXDimension:   4,
		ThreadGroupIDYDimension:   1,
		ThreadGroupIDZDimension:   1,
		RightExecutionMask:        0xffff,
		BottomExecutionMask:       0xffffffff,
	}
	w := encodeWords(t, enc, g)
	if w[4] != 1<<30|2 {
		t.Errorf("dw4 = 0x%08x, want 0x%08x", w[4], uint32(1<<30|2))
	}
	if w[7] != 4 || w[10] != 1 || w[12] != 1 {
		t.Errorf("dimensions = %d %d %d, want 4 1 1", w[7], w[10], w[12])
	}

	got, err := enc.Decode(w)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, g) {
		t.Errorf("Decode = %+v, want %+v", got, g)
	}

	if _, err := enc.Append(nil, GPGPUWalker{ThreadHeightCounterMaximum: 64}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("counter maximum 64: err = %v, want ErrInvalidArgument", err)
	}
}

func TestSIMDSizeFor(t *testing.T) {
	for _, lanes := range []int{8, 16, 32} {
		s, err := SIMDSizeFor(lanes)
		if err != nil {
			t.Fatalf("SIMDSizeFor(%d) failed: %v", lanes, err)
		}
		if s.Lanes() != lanes {
			t.Errorf("Lanes = %d, want %d", s.Lanes(), lanes)
		}
	}
	if _, err := SIMDSizeFor(4); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SIMDSizeFor(4) = %v, want ErrInvalidArgument", err)
	}
}

func TestWriteShortBuffer(t *testing.T) {
	enc := newGen9(t)
	if _, err := enc.Write(make([]byte, 8), GPGPUWalker{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Write = %v, want ErrInvalidArgument", err)
	}
	if _, err := enc.Size(nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Size(nil) = %v, want ErrUnknownCommand", err)
	}
}

func TestBatchDecodeStream(t *testing.T) {
	enc := newGen9(t)
	cmds := []Command{
		PipeControl{CSStall: true},
		PipelineSelect{Pipeline: PipelineGPGPU, MaskBits: 0x13},
		MILoadRegisterImm{Register: RegCSChicken1, Data: 0x10000},
		StateBaseAddress{Dynamic: StateBase{Address: 0x10000, Set: true, Size: 1, SizeSet: true}},
		MIBatchBufferStart{AddressSpace: AddressSpacePPGTT, Address: 0x20000},
		MINoop{},
	}
	b := enc.NewBatch().Add(cmds...)

	size, err := b.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(data) != size {
		t.Errorf("len(Bytes) = %d, want %d", len(data), size)
	}

	got, err := enc.DecodeStream(data)
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	if !reflect.DeepEqual(got, cmds) {
		t.Errorf("DecodeStream = %+v, want %+v", got, cmds)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	enc := newGen9(t)
	w := encodeWords(t, enc, PipeControl{})
	if _, err := enc.Decode(w[:4]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Decode(truncated) = %v, want ErrInvalidArgument", err)
	}
	if _, err := enc.Decode([]uint32{0x7fff0000, 0}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Decode(unknown) = %v, want ErrUnknownCommand", err)
	}
}
