package hwcmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func streamOf(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestCommandLengthRejectsUnknownType(t *testing.T) {
	for _, w0 := range []uint32{0x20000000, 0x40000000, 0xe0000000} {
		if _, err := CommandLength(w0); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("CommandLength(0x%08x) = %v, want ErrUnknownCommand", w0, err)
		}
	}
}

func TestWalkOffsets(t *testing.T) {
	stream := streamOf(
		0x69040302,
		0x11000001, 0x7034, 1,
		0x70040000, 0,
		0x05000000,
	)

	var offs, lens []int
	err := Walk(stream, func(off int, words []uint32) error {
		offs = append(offs, off)
		lens = append(lens, len(words))
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	wantOffs := []int{0, 4, 16, 24}
	wantLens := []int{1, 3, 2, 1}
	if fmt.Sprint(offs) != fmt.Sprint(wantOffs) || fmt.Sprint(lens) != fmt.Sprint(wantLens) {
		t.Errorf("offsets %v lengths %v, want %v %v", offs, lens, wantOffs, wantLens)
	}
}

func TestWalkStop(t *testing.T) {
	stream := streamOf(0x05000000, 0x05000000, 0x05000000)
	calls := 0
	err := Walk(stream, func(int, []uint32) error {
		calls++
		return StopWalk
	})
	if err != nil {
		t.Errorf("Walk = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWalkErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		stream []byte
		fn     func(int, []uint32) error
		want   error
	}{
		{"partial dword", []byte{0, 0, 0}, nil, ErrInvalidArgument},
		{"truncated command", streamOf(0x7105000D, 0, 0), nil, ErrStreamTruncated},
		{"unknown type", streamOf(0x40000000), nil, ErrUnknownCommand},
		{"callback error", streamOf(0), func(int, []uint32) error { return boom }, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := tt.fn
			if fn == nil {
				fn = func(int, []uint32) error { return nil }
			}
			if err := Walk(tt.stream, fn); !errors.Is(err, tt.want) {
				t.Errorf("Walk = %v, want %v", err, tt.want)
			}
		})
	}
}
