package types

import (
	"errors"
	"testing"
)

func TestCanonicalAddress(t *testing.T) {
	tests := []struct {
		name string
		addr uint64
		want uint64
	}{
		{"low half unchanged", 0x0000_7fff_ffff_f000, 0x0000_7fff_ffff_f000},
		{"bit 47 extends", 0x0000_8000_0000_0000, 0xffff_8000_0000_0000},
		{"upper bits dropped", 0x1234_0000_0000_1000, 0x0000_0000_0000_1000},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalAddress(tt.addr); got != tt.want {
				t.Errorf("CanonicalAddress(0x%x) = 0x%x, want 0x%x", tt.addr, got, tt.want)
			}
		})
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		size, page, want uint64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{8, 4096, 4096},
	}

	for _, tt := range tests {
		if got := AlignUp(tt.size, tt.page); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.size, tt.page, got, tt.want)
		}
	}

	if !IsAligned(8192, 4096) || IsAligned(100, 4096) {
		t.Error("IsAligned returned wrong result")
	}
}

func TestValidatePageSize(t *testing.T) {
	if err := ValidatePageSize(4096); err != nil {
		t.Errorf("ValidatePageSize(4096) = %v", err)
	}
	for _, bad := range []uint64{0, 3, 4095} {
		if err := ValidatePageSize(bad); !errors.Is(err, ErrInvalidPageSize) {
			t.Errorf("ValidatePageSize(%d) = %v, want ErrInvalidPageSize", bad, err)
		}
	}
}

func TestNDRange(t *testing.T) {
	r := NewNDRange(64)
	if r != (NDRange{64, 1, 1}) {
		t.Errorf("NewNDRange(64) = %v", r)
	}
	if r.Total() != 64 {
		t.Errorf("Total = %d, want 64", r.Total())
	}
	r = NewNDRange(4, 3, 2)
	if r.Total() != 24 || r.Axis(1) != 3 || r.Axis(2) != 2 {
		t.Errorf("unexpected range %v", r)
	}
	if r.String() != "4x3x2" {
		t.Errorf("String = %q, want 4x3x2", r.String())
	}
}

func TestContentIDRoundTrip(t *testing.T) {
	id := ComputeContentID([]byte("kernel void f() {}"), []byte("-cl-std=CL2.0"))
	if id.IsZero() {
		t.Fatal("ComputeContentID returned zero id")
	}

	parsed, err := ContentIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("ContentIDFromBase58 failed: %v", err)
	}
	if parsed != id {
		t.Errorf("parsed id = %s, want %s", parsed, id)
	}

	var fromText ContentID
	text, _ := id.MarshalText()
	if err := fromText.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if fromText != id {
		t.Error("text round trip changed id")
	}
}

func TestContentIDPartsAreSeparated(t *testing.T) {
	a := ComputeContentID([]byte("ab"), []byte("c"))
	b := ComputeContentID([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("different part boundaries produced the same id")
	}
}

func TestContentIDInvalid(t *testing.T) {
	if _, err := ContentIDFromBytes([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidContentID) {
		t.Errorf("ContentIDFromBytes = %v, want ErrInvalidContentID", err)
	}
	if _, err := ContentIDFromBase58("2g"); !errors.Is(err, ErrInvalidContentID) {
		t.Errorf("ContentIDFromBase58 = %v, want ErrInvalidContentID", err)
	}
}
