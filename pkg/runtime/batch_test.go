package runtime

import (
	"testing"

	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
)

func kinds(t *testing.T, enc *hwcmd.Encoder, stream []byte) ([]hwcmd.Kind, []hwcmd.Command) {
	t.Helper()
	cmds, err := enc.DecodeStream(stream)
	if err != nil {
		t.Fatalf("DecodeStream failed: %v", err)
	}
	ks := make([]hwcmd.Kind, len(cmds))
	for i, c := range cmds {
		ks[i] = c.Kind()
	}
	return ks, cmds
}

func sameKinds(t *testing.T, got, want []hwcmd.Kind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d commands %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestInnerBatch(t *testing.T) {
	enc, err := hwcmd.NewEncoder(hwcmd.Gen9)
	if err != nil {
		t.Fatal(err)
	}
	l := &layout{
		local:        types.NDRange{X: 32, Y: 2, Z: 1},
		groups:       types.NDRange{X: 5, Y: 3, Z: 1},
		simdCode:     hwcmd.SIMD16,
		threadsX:     2,
		indirectSize: 512,
	}
	const flag = 0x7000_0000

	b, err := innerBatch(enc, l, flag)
	if err != nil {
		t.Fatalf("innerBatch failed: %v", err)
	}
	got, cmds := kinds(t, enc, b)
	sameKinds(t, got, []hwcmd.Kind{
		hwcmd.KindMediaStateFlush,
		hwcmd.KindMediaInterfaceDescriptorLoad,
		hwcmd.KindGPGPUWalker,
		hwcmd.KindMediaStateFlush,
		hwcmd.KindPipeControl,
		hwcmd.KindPipeControl,
		hwcmd.KindMIBatchBufferEnd,
		hwcmd.KindMINoop,
	})

	w := cmds[2].(hwcmd.GPGPUWalker)
	if w.ThreadWidthCounterMaximum != 1 || w.ThreadHeightCounterMaximum != 1 || w.ThreadDepthCounterMaximum != 0 {
		t.Errorf("counter maxima = %d/%d/%d, want 1/1/0",
			w.ThreadWidthCounterMaximum, w.ThreadHeightCounterMaximum, w.ThreadDepthCounterMaximum)
	}
	if w.ThreadGroupIDXDimension != 5 || w.ThreadGroupIDYDimension != 3 {
		t.Errorf("groups = %dx%d, want 5x3", w.ThreadGroupIDXDimension, w.ThreadGroupIDYDimension)
	}
	if w.IndirectDataLength != 512 {
		t.Errorf("IndirectDataLength = %d, want 512", w.IndirectDataLength)
	}

	pc := cmds[5].(hwcmd.PipeControl)
	if pc.PostSyncOp != hwcmd.PostSyncWriteImmediate || pc.Address != flag || pc.ImmediateData != completionSentinel {
		t.Errorf("completion write = op %d at 0x%x value %d, want immediate %d at 0x%x",
			pc.PostSyncOp, pc.Address, pc.ImmediateData, completionSentinel, flag)
	}
	if !pc.DCFlush || !pc.CSStall {
		t.Error("completion write does not flush the data cache behind a stall")
	}
}

func TestOuterBatch(t *testing.T) {
	enc, err := hwcmd.NewEncoder(hwcmd.Gen9)
	if err != nil {
		t.Fatal(err)
	}
	obj := func(addr, size uint64) device.Object { return device.Object{Addr: addr, Size: size} }
	o := &execObjects{
		general:     obj(0x100000, 224*1024),
		surface:     obj(0x200000, 4096),
		dynamic:     obj(0x300000, 4096),
		indirect:    obj(0x400000, 8192),
		instruction: obj(0x500000, 4096),
		bindless:    obj(0x600000, 4096),
		inner:       obj(0x700000, 4096),
	}

	b, err := outerBatch(enc, 224, o)
	if err != nil {
		t.Fatalf("outerBatch failed: %v", err)
	}
	if len(b)%8 != 0 {
		t.Errorf("batch length %d is not a multiple of 8", len(b))
	}

	got, cmds := kinds(t, enc, b)
	want := []hwcmd.Kind{
		hwcmd.KindPipeControl,
		hwcmd.KindPipeControl,
		hwcmd.KindPipelineSelect,
		hwcmd.KindMILoadRegisterImm,
		hwcmd.KindPipeControl,
		hwcmd.KindMediaVFEState,
		hwcmd.KindMILoadRegisterImm,
		hwcmd.KindPipeControl,
		hwcmd.KindStateBaseAddress,
		hwcmd.KindPipeControl,
		hwcmd.KindMIBatchBufferStart,
		hwcmd.KindMINoop,
	}
	for len(got) > len(want) && got[len(want)] == hwcmd.KindMINoop {
		want = append(want, hwcmd.KindMINoop)
	}
	sameKinds(t, got, want)

	ps := cmds[2].(hwcmd.PipelineSelect)
	if ps.Pipeline != hwcmd.PipelineGPGPU {
		t.Errorf("pipeline = %d, want GPGPU", ps.Pipeline)
	}
	vfe := cmds[5].(hwcmd.MediaVFEState)
	if vfe.MaximumNumberOfThreads != 223 || vfe.URBEntryAllocationSize != vfeURBAllocationSize {
		t.Errorf("VFE threads/allocation = %d/%d, want 223/%d",
			vfe.MaximumNumberOfThreads, vfe.URBEntryAllocationSize, vfeURBAllocationSize)
	}

	sba := cmds[8].(hwcmd.StateBaseAddress)
	for _, c := range []struct {
		name string
		base hwcmd.StateBase
		addr uint64
		mocs uint8
		size uint32
	}{
		{"general", sba.General, 0x100000, mocsUncached, 56},
		{"surface", sba.Surface, 0x200000, mocsUncached, 0},
		{"dynamic", sba.Dynamic, 0x300000, mocsUncached, 1},
		{"indirect", sba.IndirectObject, 0x400000, mocsUncached, 2},
		{"instruction", sba.Instruction, 0x500000, mocsCached, 1},
		{"bindless", sba.BindlessSurface, 0x600000, mocsUncached, 0},
	} {
		if !c.base.Set || c.base.Address != c.addr {
			t.Errorf("%s base = 0x%x (set %v), want 0x%x", c.name, c.base.Address, c.base.Set, c.addr)
		}
		if c.base.MOCS != c.mocs {
			t.Errorf("%s MOCS = %d, want %d", c.name, c.base.MOCS, c.mocs)
		}
		if c.base.Size != c.size {
			t.Errorf("%s size = %d pages, want %d", c.name, c.base.Size, c.size)
		}
	}
	if sba.StatelessDataPortMOCS != mocsCached {
		t.Errorf("stateless MOCS = %d, want %d", sba.StatelessDataPortMOCS, mocsCached)
	}

	bbs := cmds[10].(hwcmd.MIBatchBufferStart)
	if bbs.Address != 0x700000 || bbs.AddressSpace != hwcmd.AddressSpacePPGTT {
		t.Errorf("chain to 0x%x space %d, want 0x700000 PPGTT", bbs.Address, bbs.AddressSpace)
	}
}

func TestPadBatch(t *testing.T) {
	enc, err := hwcmd.NewEncoder(hwcmd.Gen9)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 4; n++ {
		b := enc.NewBatch()
		for i := 0; i < n; i++ {
			b.Add(hwcmd.MINoop{})
		}
		size, err := padBatch(b).Size()
		if err != nil {
			t.Fatal(err)
		}
		if size%8 != 0 || size < 4*n || size > 4*n+4 {
			t.Errorf("%d no-ops padded to %d bytes", n, size)
		}
	}
}
