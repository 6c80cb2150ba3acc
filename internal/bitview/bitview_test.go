package bitview

import "testing"

func TestSetPreservesNeighbours(t *testing.T) {
	words := []uint32{0xffffffff, 0}

	Set(words, 0, 4, 7, 0x5)
	if words[0] != 0xffffff5f {
		t.Errorf("words[0] = 0x%08x, want 0xffffff5f", words[0])
	}
	if got := Get(words, 0, 4, 7); got != 0x5 {
		t.Errorf("Get = 0x%x, want 0x5", got)
	}

	Set(words, 1, 31, 31, 1)
	if words[1] != 0x80000000 {
		t.Errorf("words[1] = 0x%08x, want 0x80000000", words[1])
	}
}

func TestSetTruncatesToMask(t *testing.T) {
	words := []uint32{0}
	Set(words, 0, 0, 2, 0xff)
	if words[0] != 0x7 {
		t.Errorf("words[0] = 0x%x, want 0x7", words[0])
	}
}

func TestFullWidthField(t *testing.T) {
	words := []uint32{0}
	f := Field{Word: 0, Low: 0, High: 31}
	f.Set(words, 0xdeadbeef)
	if got := f.Get(words); got != 0xdeadbeef {
		t.Errorf("Get = 0x%08x, want 0xdeadbeef", got)
	}
	if f.Max() != 0xffffffff {
		t.Errorf("Max = 0x%x, want 0xffffffff", f.Max())
	}

	words64 := []uint64{0}
	Set(words64, 0, 0, 63, ^uint64(0))
	if words64[0] != ^uint64(0) {
		t.Errorf("words64[0] = 0x%x, want all ones", words64[0])
	}
}

func TestFieldWidthAndMax(t *testing.T) {
	tests := []struct {
		name      string
		field     Field
		wantWidth int
		wantMax   uint32
	}{
		{"single bit", Field{0, 5, 5}, 1, 1},
		{"nibble", Field{0, 4, 7}, 4, 0xf},
		{"pointer", Field{0, 6, 31}, 26, 0x3ffffff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.field.Width(); got != tt.wantWidth {
				t.Errorf("Width = %d, want %d", got, tt.wantWidth)
			}
			if got := tt.field.Max(); got != tt.wantMax {
				t.Errorf("Max = 0x%x, want 0x%x", got, tt.wantMax)
			}
		})
	}
}

func TestField64SplitsAcrossWords(t *testing.T) {
	words := make([]uint32, 2)
	f := Field64{Lo: Field{0, 6, 31}, Hi: Field{1, 0, 15}}

	const v = uint64(0x3_1234_5678_9)
	f.Set(words, v)
	if got := f.Get(words); got != v {
		t.Errorf("Get = 0x%x, want 0x%x", got, v)
	}
	if words[0]&0x3f != 0 {
		t.Errorf("low 6 bits of word 0 = 0x%x, want 0", words[0]&0x3f)
	}
	if words[1]>>16 != 0 {
		t.Errorf("high 16 bits of word 1 = 0x%x, want 0", words[1]>>16)
	}
}

func TestByteArray(t *testing.T) {
	b := []uint8{0xf0}
	Set(b, 0, 0, 3, 0xa)
	if b[0] != 0xfa {
		t.Errorf("b[0] = 0x%x, want 0xfa", b[0])
	}
	if got := Get(b, 0, 4, 7); got != 0xf {
		t.Errorf("Get = 0x%x, want 0xf", got)
	}
}
