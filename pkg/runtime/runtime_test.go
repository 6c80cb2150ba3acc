package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortiblox/gpgpu-rt/internal/fixture"
	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/compiler"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/device/simdev"
)

func newRuntime(t *testing.T, dcfg simdev.Config, cfg Config) (*Runtime, *simdev.Device) {
	t.Helper()
	dev, err := simdev.New(dcfg)
	if err != nil {
		t.Fatalf("simdev.New failed: %v", err)
	}
	rt, err := New(dev, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt, dev
}

func loadMemset(t *testing.T, rt *Runtime) *Kernel {
	t.Helper()
	bin, err := fixture.Memset()
	if err != nil {
		t.Fatal(err)
	}
	k, err := rt.LoadKernel(bin, fixture.MemsetName)
	if err != nil {
		t.Fatalf("LoadKernel failed: %v", err)
	}
	return k
}

func hostBuffer(t *testing.T, rt *Runtime, size uint64) []byte {
	t.Helper()
	b, err := rt.NewHostBuffer(size)
	if err != nil {
		t.Fatalf("NewHostBuffer(%d) failed: %v", size, err)
	}
	t.Cleanup(func() { b.Free() })
	return b.Bytes()
}

func le32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

// memsetHook does what cl_memset would: it fills n words at dst with val.
func memsetHook(d *simdev.Dispatch) error {
	ct := d.CrossThreadData()
	dst := binary.LittleEndian.Uint64(ct[fixture.OffsetDst:])
	val := le32(ct, fixture.OffsetValue)
	n := le32(ct, fixture.OffsetCount)

	mem, err := d.Memory(dst, uint64(n)*4)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		binary.LittleEndian.PutUint32(mem[4*i:], val)
	}
	return nil
}

func bindMemset(t *testing.T, p *PreparedExecution, buf []byte, val, n uint32) {
	t.Helper()
	if err := p.AddPointer(buf); err != nil {
		t.Fatalf("AddPointer failed: %v", err)
	}
	if err := p.AddUint32(val); err != nil {
		t.Fatalf("AddUint32(val) failed: %v", err)
	}
	if err := p.AddUint32(n); err != nil {
		t.Fatalf("AddUint32(n) failed: %v", err)
	}
}

func checkFilled(t *testing.T, buf []byte, val, n uint32) {
	t.Helper()
	for i := uint32(0); i < n; i++ {
		if got := le32(buf, int(4*i)); got != val {
			t.Fatalf("word %d = 0x%x, want 0x%x", i, got, val)
		}
	}
	if rest := buf[4*n:]; !bytes.Equal(rest, make([]byte, len(rest))) {
		t.Error("memory past the last word was written")
	}
}

func TestMemsetExecutes(t *testing.T) {
	const val, n = 0xdeadbeef, 256

	var seen int
	var bufAddr uint64
	hook := func(d *simdev.Dispatch) error {
		seen++
		w := d.Walker
		if w.SIMDSize.Lanes() != 16 {
			t.Errorf("SIMD = %d, want 16", w.SIMDSize.Lanes())
		}
		if d.Threads() != 4 {
			t.Errorf("Threads = %d, want 4", d.Threads())
		}
		if w.ThreadWidthCounterMaximum != 3 || w.ThreadHeightCounterMaximum != 0 || w.ThreadDepthCounterMaximum != 0 {
			t.Errorf("counter maxima = %d/%d/%d, want 3/0/0",
				w.ThreadWidthCounterMaximum, w.ThreadHeightCounterMaximum, w.ThreadDepthCounterMaximum)
		}
		if w.ThreadGroupIDXDimension != 4 || w.ThreadGroupIDYDimension != 1 || w.ThreadGroupIDZDimension != 1 {
			t.Errorf("groups = %dx%dx%d, want 4x1x1",
				w.ThreadGroupIDXDimension, w.ThreadGroupIDYDimension, w.ThreadGroupIDZDimension)
		}
		if w.IndirectDataLength != 3*32*4+fixture.CrossThreadSize {
			t.Errorf("IndirectDataLength = %d, want %d", w.IndirectDataLength, 3*32*4+fixture.CrossThreadSize)
		}

		ct := d.CrossThreadData()
		for _, f := range []struct {
			name string
			off  int
			want uint32
		}{
			{"val", fixture.OffsetValue, val},
			{"n", fixture.OffsetCount, n},
			{"local x", fixture.OffsetLocalSize, 64},
			{"local y", fixture.OffsetLocalSize + 4, 1},
			{"local z", fixture.OffsetLocalSize + 8, 1},
			{"offset x", fixture.OffsetGlobalOffset, 0},
			{"binding table index", fixture.OffsetBTIndex, 0},
			{"global x", fixture.OffsetGlobalSize, n},
			{"global y", fixture.OffsetGlobalSize + 4, 1},
			{"work dim", fixture.OffsetWorkDim, 1},
		} {
			if got := le32(ct, f.off); got != f.want {
				t.Errorf("%s = %d, want %d", f.name, got, f.want)
			}
		}

		dst := binary.LittleEndian.Uint64(ct[fixture.OffsetDst:])
		if dst != bufAddr {
			t.Errorf("dst = 0x%x, want 0x%x", dst, bufAddr)
		}
		rss, err := d.Surface(0)
		if err != nil {
			t.Fatalf("Surface(0) failed: %v", err)
		}
		if rss.BaseAddress() != bufAddr {
			t.Errorf("surface base = 0x%x, want 0x%x", rss.BaseAddress(), bufAddr)
		}

		pt := d.PerThreadData(1)
		if len(pt) != 96 {
			t.Fatalf("per-thread block is %d bytes, want 96", len(pt))
		}
		if x := binary.LittleEndian.Uint16(pt[0:]); x != 16 {
			t.Errorf("thread 1 lane 0 local x = %d, want 16", x)
		}
		if x := binary.LittleEndian.Uint16(pt[30:]); x != 31 {
			t.Errorf("thread 1 lane 15 local x = %d, want 31", x)
		}

		code, err := d.Instructions()
		if err != nil {
			t.Fatalf("Instructions failed: %v", err)
		}
		if !bytes.Equal(code[:4], []byte{0, 1, 2, 3}) {
			t.Errorf("instructions start % x, want the kernel heap", code[:4])
		}
		return memsetHook(d)
	}

	dcfg := simdev.DefaultConfig()
	dcfg.DispatchHook = hook
	rt, dev := newRuntime(t, dcfg, DefaultConfig())
	k := loadMemset(t, rt)

	if k.NumArgs() != 3 || k.BufferArgs() != 1 {
		t.Errorf("NumArgs/BufferArgs = %d/%d, want 3/1", k.NumArgs(), k.BufferArgs())
	}

	buf := hostBuffer(t, rt, 4096)
	bufAddr = uint64(uintptr(addrOf(buf)))
	baseline := dev.LiveObjects()

	p := k.Prepare()
	bindMemset(t, p, buf, val, n)
	if err := p.Execute(context.Background(), types.NDRange{X: n, Y: 1, Z: 1}, types.NDRange{X: 64, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if seen != 1 {
		t.Errorf("hook ran %d times, want 1", seen)
	}
	if p.State() != StateCompleted {
		t.Errorf("State = %s, want completed", p.State())
	}
	if dev.LiveObjects() != baseline {
		t.Errorf("LiveObjects = %d, want %d", dev.LiveObjects(), baseline)
	}
	if dev.Submissions() != 1 {
		t.Errorf("Submissions = %d, want 1", dev.Submissions())
	}
	checkFilled(t, buf, val, n)

	err := p.Execute(context.Background(), types.NDRange{X: n, Y: 1, Z: 1}, types.NDRange{X: 64, Y: 1, Z: 1})
	if !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("second Execute = %v, want ErrAlreadyExecuted", err)
	}
	if err := p.AddUint32(1); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("bind after Execute = %v, want ErrAlreadyExecuted", err)
	}
}

func TestExecuteNamedObject(t *testing.T) {
	dcfg := simdev.DefaultConfig()
	dcfg.DispatchHook = memsetHook
	rt, dev := newRuntime(t, dcfg, DefaultConfig())
	k := loadMemset(t, rt)

	obj, err := dev.Create(4096)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer dev.Release(obj)
	name, err := dev.Export(obj)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	p := k.Prepare()
	if err := p.AddNamedObject(name); err != nil {
		t.Fatalf("AddNamedObject failed: %v", err)
	}
	p.AddUint32(7)
	p.AddUint32(32)
	if err := p.Execute(context.Background(), types.NewNDRange(32), types.NewNDRange(32)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	checkFilled(t, obj.Mem, 7, 32)
	if dev.LiveObjects() != 1 {
		t.Errorf("LiveObjects = %d, want 1", dev.LiveObjects())
	}

	p = k.Prepare()
	p.AddNamedObject(name + 100)
	p.AddUint32(7)
	p.AddUint32(32)
	err = p.Execute(context.Background(), types.NewNDRange(32), types.NewNDRange(32))
	if !errors.Is(err, ErrResource) || !errors.Is(err, device.ErrNameNotFound) {
		t.Errorf("Execute with unknown name = %v, want ErrResource wrapping ErrNameNotFound", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State = %s, want failed", p.State())
	}
	if dev.LiveObjects() != 1 {
		t.Errorf("LiveObjects after failure = %d, want 1", dev.LiveObjects())
	}
}

func TestValidationAllocatesNothing(t *testing.T) {
	rt, dev := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 4096)

	tests := []struct {
		name          string
		global, local types.NDRange
		want          error
	}{
		{"size mismatch", types.NewNDRange(100), types.NewNDRange(64), ErrSizeMismatch},
		{"zero local", types.NewNDRange(64), types.NDRange{X: 0, Y: 1, Z: 1}, ErrInvalidLocalSize},
		{"zero global", types.NDRange{X: 64, Y: 0, Z: 1}, types.NewNDRange(64), ErrInvalidGlobalSize},
		{"group too large", types.NewNDRange(2048), types.NewNDRange(2048), ErrInvalidLocalSize},
		{"no SIMD width", types.NewNDRange(17), types.NewNDRange(17), ErrNoSIMDWidth},
		{"too many threads", types.NDRange{X: 8, Y: 128, Z: 1}, types.NDRange{X: 8, Y: 128, Z: 1}, ErrTooManyThreads},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := k.Prepare()
			bindMemset(t, p, buf, 1, 1)
			err := p.Execute(context.Background(), tt.global, tt.local)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Execute = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Execute = %v, want a validation error", err)
			}
			if p.State() != StateFailed {
				t.Errorf("State = %s, want failed", p.State())
			}
			if dev.LiveObjects() != 0 || dev.Submissions() != 0 {
				t.Errorf("LiveObjects/Submissions = %d/%d, want 0/0", dev.LiveObjects(), dev.Submissions())
			}
		})
	}
}

func TestArgumentBinding(t *testing.T) {
	rt, _ := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 8192)

	p := k.Prepare()
	if err := p.AddUint32(1); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("scalar for a buffer = %v, want ErrArgumentMismatch", err)
	}
	if err := p.AddPointer(buf[1:4097]); !errors.Is(err, ErrUnalignedBuffer) {
		t.Errorf("unaligned start = %v, want ErrUnalignedBuffer", err)
	}
	if err := p.AddPointer(buf[:100]); !errors.Is(err, ErrUnalignedBuffer) {
		t.Errorf("unaligned length = %v, want ErrUnalignedBuffer", err)
	}
	if err := p.AddPointer(nil); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("empty buffer = %v, want ErrArgumentMismatch", err)
	}
	if err := p.AddPointer(buf); err != nil {
		t.Fatalf("AddPointer failed: %v", err)
	}
	if err := p.AddUint64(1); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("8 byte scalar for uint = %v, want ErrArgumentMismatch", err)
	}
	if err := p.AddPointer(buf); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("buffer for a scalar = %v, want ErrArgumentMismatch", err)
	}
	if err := p.AddInt32(-1); !errors.Is(err, ErrArgumentMismatch) {
		t.Errorf("int for a uint argument = %v, want ErrArgumentMismatch", err)
	}
	if err := p.AddUint32(7); err != nil {
		t.Fatalf("AddUint32 failed: %v", err)
	}
	if got := p.Arguments()[1].Value; got != 7 {
		t.Errorf("Arguments()[1].Value = %d, want 7", got)
	}

	err := p.Execute(context.Background(), types.NewNDRange(8), types.NewNDRange(8))
	if !errors.Is(err, ErrMissingArguments) {
		t.Errorf("Execute with 2 of 3 arguments = %v, want ErrMissingArguments", err)
	}

	p = k.Prepare()
	bindMemset(t, p, buf, 1, 1)
	if err := p.AddUint32(1); !errors.Is(err, ErrTooManyArguments) {
		t.Errorf("fourth argument = %v, want ErrTooManyArguments", err)
	}
	if len(p.Arguments()) != 3 {
		t.Errorf("len(Arguments) = %d, want 3", len(p.Arguments()))
	}
}

func TestScalarKindMustMatchDeclaredType(t *testing.T) {
	rt, _ := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	buf := hostBuffer(t, rt, 4096)

	bindings := []struct {
		kind ArgumentKind
		add  func(p *PreparedExecution) error
		want uint64
	}{
		{ArgInt32, func(p *PreparedExecution) error { return p.AddInt32(-1) }, 0xffffffffffffffff},
		{ArgUint32, func(p *PreparedExecution) error { return p.AddUint32(0xffffffff) }, 0xffffffff},
		{ArgInt64, func(p *PreparedExecution) error { return p.AddInt64(-2) }, 0xfffffffffffffffe},
		{ArgUint64, func(p *PreparedExecution) error { return p.AddUint64(1 << 40) }, 1 << 40},
	}
	declared := []struct {
		typ  string
		kind ArgumentKind
	}{
		{"int;4", ArgInt32},
		{"uint;4", ArgUint32},
		{"long;8", ArgInt64},
		{"ulong;8", ArgUint64},
	}

	for _, d := range declared {
		params := fixture.MemsetParams()
		params.KernelArgumentInfos[1].TypeName = d.typ
		params.DataParameterBuffers = params.DataParameterBuffers[1:]
		k, err := loadParams(t, rt, params)
		if err != nil {
			t.Fatalf("LoadKernel with %s failed: %v", d.typ, err)
		}

		for _, b := range bindings {
			t.Run(d.typ+"/"+b.kind.String(), func(t *testing.T) {
				p := k.Prepare()
				if err := p.AddPointer(buf); err != nil {
					t.Fatalf("AddPointer failed: %v", err)
				}
				err := b.add(p)
				if b.kind != d.kind {
					if !errors.Is(err, ErrArgumentMismatch) {
						t.Errorf("%s for a %s argument = %v, want ErrArgumentMismatch", b.kind, d.typ, err)
					}
					if len(p.Arguments()) != 1 {
						t.Errorf("len(Arguments) = %d, want 1", len(p.Arguments()))
					}
					return
				}
				if err != nil {
					t.Fatalf("%s for a %s argument failed: %v", b.kind, d.typ, err)
				}
				got := p.Arguments()[1]
				if got.Kind != b.kind || got.Value != b.want {
					t.Errorf("Arguments()[1] = %s 0x%x, want %s 0x%x", got.Kind, got.Value, b.kind, b.want)
				}
			})
		}
	}
}

func TestExecuteSerializesConcurrentCallers(t *testing.T) {
	dcfg := simdev.DefaultConfig()
	dcfg.DispatchHook = memsetHook
	rt, dev := newRuntime(t, dcfg, DefaultConfig())
	k := loadMemset(t, rt)

	const workers = 4
	bufs := make([][]byte, workers)
	for i := range bufs {
		bufs[i] = hostBuffer(t, rt, 4096)
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := k.Prepare()
			if err := p.AddPointer(bufs[i]); err != nil {
				errs[i] = err
				return
			}
			p.AddUint32(uint32(i + 1))
			p.AddUint32(64)
			errs[i] = p.Execute(context.Background(), types.NewNDRange(64), types.NewNDRange(16))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		checkFilled(t, bufs[i], uint32(i+1), 64)
	}
	if dev.Submissions() != workers {
		t.Errorf("Submissions = %d, want %d", dev.Submissions(), workers)
	}
}

func TestDeviceFailureIsResourceError(t *testing.T) {
	dcfg := simdev.DefaultConfig()
	dcfg.DispatchHook = func(*simdev.Dispatch) error { return errors.New("page fault") }
	rt, dev := newRuntime(t, dcfg, DefaultConfig())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 4096)

	p := k.Prepare()
	bindMemset(t, p, buf, 1, 1)
	err := p.Execute(context.Background(), types.NewNDRange(16), types.NewNDRange(16))
	if !errors.Is(err, ErrResource) || !errors.Is(err, device.ErrSubmit) {
		t.Fatalf("Execute = %v, want ErrResource wrapping ErrSubmit", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State = %s, want failed", p.State())
	}
	if dev.LiveObjects() != 0 {
		t.Errorf("LiveObjects = %d, want 0", dev.LiveObjects())
	}
}

func TestCompletionTimeout(t *testing.T) {
	dcfg := simdev.DefaultConfig()
	dcfg.CompletionDelay = 200 * time.Millisecond
	dev, err := simdev.New(dcfg)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := New(dev, NewConfigBuilder().CompletionTimeout(10*time.Millisecond).MustBuild())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	k := loadMemset(t, rt)
	hb, err := rt.NewHostBuffer(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer hb.Free()

	p := k.Prepare()
	bindMemset(t, p, hb.Bytes(), 1, 1)
	err = p.Execute(context.Background(), types.NewNDRange(16), types.NewNDRange(16))
	if !errors.Is(err, ErrCompletionTimeout) || !errors.Is(err, ErrResource) {
		t.Errorf("Execute = %v, want ErrCompletionTimeout", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State = %s, want failed", p.State())
	}

	// Close waits for the late batch before the buffer is unmapped.
	if err := rt.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestAsyncCompletion(t *testing.T) {
	dcfg := simdev.DefaultConfig()
	dcfg.CompletionDelay = 5 * time.Millisecond
	dcfg.DispatchHook = memsetHook
	rt, _ := newRuntime(t, dcfg, DefaultConfig())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 4096)

	p := k.Prepare()
	bindMemset(t, p, buf, 9, 128)
	if err := p.Execute(context.Background(), types.NewNDRange(128), types.NewNDRange(32)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	checkFilled(t, buf, 9, 128)
}

func TestExecuteCanceledContext(t *testing.T) {
	rt, dev := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := k.Prepare()
	bindMemset(t, p, buf, 1, 1)
	if err := p.Execute(ctx, types.NewNDRange(16), types.NewNDRange(16)); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute = %v, want context.Canceled", err)
	}
	if dev.Submissions() != 0 {
		t.Errorf("Submissions = %d, want 0", dev.Submissions())
	}
}

func TestIndirectDataLimit(t *testing.T) {
	rt, _ := newRuntime(t, simdev.DefaultConfig(), NewConfigBuilder().MaxIndirectData(256).MustBuild())
	k := loadMemset(t, rt)
	buf := hostBuffer(t, rt, 4096)

	p := k.Prepare()
	bindMemset(t, p, buf, 1, 1)
	err := p.Execute(context.Background(), types.NewNDRange(64), types.NewNDRange(64))
	if !errors.Is(err, ErrIndirectDataSize) {
		t.Errorf("Execute = %v, want ErrIndirectDataSize", err)
	}
}

// gen8 reports an older generation than the runtime drives.
type gen8 struct {
	*simdev.Device
}

func (d gen8) Capabilities() device.Capabilities {
	c := d.Device.Capabilities()
	c.Gen = 8
	return c
}

func TestNewRejectsOtherGenerations(t *testing.T) {
	dev, err := simdev.New(simdev.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if _, err := New(gen8{dev}, DefaultConfig()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("New on Gen8 = %v, want ErrUnsupported", err)
	}
}

func TestNewChecksThreadCount(t *testing.T) {
	tests := []struct {
		threads uint32
		wantErr bool
	}{
		{1, false},
		{maxVFEThreads, false},
		{maxVFEThreads + 1, true},
	}
	for _, tt := range tests {
		dcfg := simdev.DefaultConfig()
		dcfg.MaxComputeThreads = tt.threads
		dev, err := simdev.New(dcfg)
		if err != nil {
			t.Fatal(err)
		}
		rt, err := New(dev, DefaultConfig())
		if tt.wantErr {
			if !errors.Is(err, ErrResource) {
				t.Errorf("New with %d threads = %v, want ErrResource", tt.threads, err)
			}
			dev.Close()
			continue
		}
		if err != nil {
			t.Errorf("New with %d threads failed: %v", tt.threads, err)
			dev.Close()
			continue
		}
		rt.Close()
	}
}

func TestClosedRuntime(t *testing.T) {
	rt, dev := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	k := loadMemset(t, rt)
	bin, _ := fixture.Memset()

	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := rt.LoadKernel(bin, fixture.MemsetName); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadKernel after Close = %v, want ErrClosed", err)
	}
	if err := k.Prepare().Execute(context.Background(), types.NewNDRange(8), types.NewNDRange(8)); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
	if _, err := dev.Create(1); !errors.Is(err, device.ErrClosed) {
		t.Errorf("device Create after Close = %v, want device.ErrClosed", err)
	}
}

func TestBuildKernel(t *testing.T) {
	rt, _ := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())

	var gotOpts compiler.Options
	ok := compiler.BridgeFunc(func(_ context.Context, _ string, opts compiler.Options) (*compiler.Result, error) {
		gotOpts = opts
		bin, err := fixture.Memset()
		return &compiler.Result{Binary: bin, Log: "ok"}, err
	})
	k, err := rt.BuildKernel(context.Background(), ok, "kernel void cl_memset()", compiler.Options{Flags: "-O2"}, fixture.MemsetName)
	if err != nil {
		t.Fatalf("BuildKernel failed: %v", err)
	}
	if k.Name() != fixture.MemsetName {
		t.Errorf("Name = %q, want %q", k.Name(), fixture.MemsetName)
	}
	if gotOpts.Flags != "-O2" {
		t.Errorf("compiler got flags %q, want -O2", gotOpts.Flags)
	}

	failing := compiler.BridgeFunc(func(context.Context, string, compiler.Options) (*compiler.Result, error) {
		return nil, &compiler.BuildError{Log: "error: undeclared identifier"}
	})
	_, err = rt.BuildKernel(context.Background(), failing, "bad", compiler.Options{}, "k")
	if !errors.Is(err, compiler.ErrBuildFailed) {
		t.Errorf("BuildKernel = %v, want ErrBuildFailed", err)
	}
}

func TestHostBuffer(t *testing.T) {
	rt, _ := newRuntime(t, simdev.DefaultConfig(), DefaultConfig())
	page := rt.Capabilities().PageSize

	for _, size := range []uint64{1, page, page + 1, 3 * page} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			b, err := rt.NewHostBuffer(size)
			if err != nil {
				t.Fatalf("NewHostBuffer failed: %v", err)
			}
			mem := b.Bytes()
			if uint64(len(mem)) != types.AlignUp(size, page) {
				t.Errorf("len = %d, want %d", len(mem), types.AlignUp(size, page))
			}
			if addr := uint64(uintptr(addrOf(mem))); addr%page != 0 {
				t.Errorf("address 0x%x is not page aligned", addr)
			}
			if err := b.Free(); err != nil {
				t.Errorf("Free failed: %v", err)
			}
			if err := b.Free(); err != nil {
				t.Errorf("second Free = %v, want nil", err)
			}
		})
	}
	if _, err := rt.NewHostBuffer(0); !errors.Is(err, ErrValidation) {
		t.Errorf("NewHostBuffer(0) = %v, want ErrValidation", err)
	}
}
