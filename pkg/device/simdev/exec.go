package simdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
)

// ErrFault is returned when a command references memory outside the
// submitted objects.
var ErrFault = errors.New("GPU page fault")

// ErrCommand is returned for commands the device cannot execute in the
// current state.
var ErrCommand = errors.New("invalid command")

// maxChain bounds batch buffer chaining so a batch that jumps to itself
// cannot hang the device.
const maxChain = 16

const addressMask = 0x0000_ffff_ffff_ffff

// machine is the command streamer state for one submission.
type machine struct {
	dev  *Device
	objs []device.Object

	pipeline   hwcmd.Pipeline
	selected   bool
	sba        hwcmd.StateBaseAddress
	vfe        *hwcmd.MediaVFEState
	idLoad     *hwcmd.MediaInterfaceDescriptorLoad
	registers  map[uint32]uint32
	dispatched int
}

// translate returns the n bytes at GPU address addr.
func (m *machine) translate(addr, n uint64) ([]byte, error) {
	addr &= addressMask
	for _, o := range m.objs {
		base := o.Addr & addressMask
		if addr < base || addr-base >= o.Size {
			continue
		}
		off := addr - base
		if n > o.Size-off {
			return nil, fmt.Errorf("%w: %d bytes at 0x%x cross the end of %s", ErrFault, n, addr, o)
		}
		return o.Mem[off : off+n], nil
	}
	return nil, fmt.Errorf("%w: 0x%x is not in a submitted object", ErrFault, addr)
}

// tail returns the bytes from addr to the end of its object.
func (m *machine) tail(addr uint64) ([]byte, error) {
	addr &= addressMask
	for _, o := range m.objs {
		base := o.Addr & addressMask
		if addr >= base && addr-base < o.Size {
			return o.Mem[addr-base:], nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%x is not in a submitted object", ErrFault, addr)
}

func (d *Device) execute(objs []device.Object, stream []byte) error {
	m := &machine{dev: d, objs: objs, registers: make(map[uint32]uint32)}
	for depth := 0; ; depth++ {
		if depth > maxChain {
			return fmt.Errorf("%w: more than %d chained batch buffers", ErrCommand, maxChain)
		}
		next, err := m.run(stream)
		if err != nil {
			return err
		}
		if next == nil {
			d.logger.Debug("batch completed", "dispatches", m.dispatched, "chained", depth)
			return nil
		}
		stream = next
	}
}

// run interprets stream until a batch buffer end, the end of the stream, or
// a batch buffer start. For the latter it returns the stream to continue with.
func (m *machine) run(stream []byte) ([]byte, error) {
	var next []byte
	end := false

	err := hwcmd.Walk(stream, func(off int, words []uint32) error {
		c, err := m.dev.enc.Decode(words)
		if err != nil {
			return fmt.Errorf("offset %d: %w", off, err)
		}
		switch c := c.(type) {
		case hwcmd.MIBatchBufferEnd:
			end = true
			return hwcmd.StopWalk
		case hwcmd.MIBatchBufferStart:
			if next, err = m.tail(c.Address); err != nil {
				return fmt.Errorf("offset %d: batch buffer start: %w", off, err)
			}
			return hwcmd.StopWalk
		}
		if err := m.exec(c); err != nil {
			return fmt.Errorf("offset %d: %s: %w", off, c.Kind(), err)
		}
		return nil
	})
	if err != nil || end {
		return nil, err
	}
	return next, nil
}

func (m *machine) exec(c hwcmd.Command) error {
	switch c := c.(type) {
	case hwcmd.PipeControl:
		if c.PostSyncOp == hwcmd.PostSyncWriteImmediate {
			return m.postSyncWrite(c.Address, c.ImmediateData)
		}
	case hwcmd.PipelineSelect:
		m.pipeline = c.Pipeline
		m.selected = true
	case hwcmd.StateBaseAddress:
		m.mergeStateBase(c)
	case hwcmd.MediaVFEState:
		v := c
		m.vfe = &v
	case hwcmd.MediaInterfaceDescriptorLoad:
		if c.TotalLength < hwcmd.InterfaceDescriptorSize {
			return fmt.Errorf("%w: descriptor length %d", ErrCommand, c.TotalLength)
		}
		l := c
		m.idLoad = &l
	case hwcmd.MILoadRegisterImm:
		m.registers[c.Register] = c.Data
	case hwcmd.GPGPUWalker:
		return m.walk(c)
	}
	return nil
}

// postSyncWrite stores a quadword the way the hardware does once the
// pipeline drains. Aligned writes are atomic so a host polling the location
// never sees a torn value.
func (m *machine) postSyncWrite(addr, v uint64) error {
	mem, err := m.translate(addr, 8)
	if err != nil {
		return err
	}
	if addr%8 == 0 {
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[0])), v)
		return nil
	}
	binary.LittleEndian.PutUint64(mem, v)
	return nil
}

func (m *machine) mergeStateBase(c hwcmd.StateBaseAddress) {
	merge := func(dst *hwcmd.StateBase, src hwcmd.StateBase) {
		if src.Set {
			dst.Address, dst.MOCS, dst.Set = src.Address, src.MOCS, true
		}
		if src.SizeSet {
			dst.Size, dst.SizeSet = src.Size, true
		}
	}
	merge(&m.sba.General, c.General)
	merge(&m.sba.Surface, c.Surface)
	merge(&m.sba.Dynamic, c.Dynamic)
	merge(&m.sba.IndirectObject, c.IndirectObject)
	merge(&m.sba.Instruction, c.Instruction)
	merge(&m.sba.BindlessSurface, c.BindlessSurface)
	m.sba.StatelessDataPortMOCS = c.StatelessDataPortMOCS
}

func (m *machine) walk(w hwcmd.GPGPUWalker) error {
	if !m.selected || m.pipeline != hwcmd.PipelineGPGPU {
		return fmt.Errorf("%w: walker outside the GPGPU pipeline", ErrCommand)
	}
	if m.vfe == nil {
		return fmt.Errorf("%w: walker before MEDIA_VFE_STATE", ErrCommand)
	}
	if m.idLoad == nil {
		return fmt.Errorf("%w: walker before MEDIA_INTERFACE_DESCRIPTOR_LOAD", ErrCommand)
	}
	for _, b := range []struct {
		name string
		base hwcmd.StateBase
	}{
		{"dynamic state", m.sba.Dynamic},
		{"indirect object", m.sba.IndirectObject},
		{"instruction", m.sba.Instruction},
		{"surface state", m.sba.Surface},
	} {
		if !b.base.Set {
			return fmt.Errorf("%w: %s base address not set", ErrCommand, b.name)
		}
	}

	descAddr := m.sba.Dynamic.Address + uint64(m.idLoad.DataStartAddress) +
		uint64(w.InterfaceDescriptorOffset)*hwcmd.InterfaceDescriptorSize
	raw, err := m.translate(descAddr, hwcmd.InterfaceDescriptorSize)
	if err != nil {
		return fmt.Errorf("interface descriptor: %w", err)
	}
	desc, err := hwcmd.ParseInterfaceDescriptor(raw)
	if err != nil {
		return err
	}

	threads := desc.Get(hwcmd.IDNumberOfThreads)
	if threads == 0 || threads > uint32(m.vfe.MaximumNumberOfThreads)+1 {
		return fmt.Errorf("%w: %d threads per group, front end allows %d",
			ErrCommand, threads, uint32(m.vfe.MaximumNumberOfThreads)+1)
	}
	perGroup := (uint32(w.ThreadWidthCounterMaximum) + 1) *
		(uint32(w.ThreadHeightCounterMaximum) + 1) *
		(uint32(w.ThreadDepthCounterMaximum) + 1)
	if perGroup != threads {
		return fmt.Errorf("%w: walker dispatches %d threads per group, descriptor declares %d",
			ErrCommand, perGroup, threads)
	}

	indirect, err := m.translate(m.sba.IndirectObject.Address+uint64(w.IndirectDataStartAddress), uint64(w.IndirectDataLength))
	if err != nil {
		return fmt.Errorf("indirect data: %w", err)
	}

	m.dispatched++
	m.dev.dispatches.Add(1)
	m.dev.logger.Debug("walker dispatched",
		"simd", w.SIMDSize.Lanes(),
		"threads", threads,
		"groups", fmt.Sprintf("%dx%dx%d", w.ThreadGroupIDXDimension, w.ThreadGroupIDYDimension, w.ThreadGroupIDZDimension))

	if m.dev.cfg.DispatchHook == nil {
		return nil
	}
	return m.dev.cfg.DispatchHook(&Dispatch{
		Walker:       w,
		Descriptor:   desc,
		IndirectData: indirect,
		StateBase:    m.sba,
		Registers:    m.registers,
		m:            m,
	})
}

// Dispatch is one GPGPU_WALKER as seen by the device.
type Dispatch struct {
	Walker     hwcmd.GPGPUWalker
	Descriptor hwcmd.InterfaceDescriptor

	// IndirectData is the walker's indirect payload: cross-thread data
	// followed by one per-thread block per thread.
	IndirectData []byte

	StateBase hwcmd.StateBaseAddress
	Registers map[uint32]uint32

	m *machine
}

// Threads returns the number of threads in each group.
func (d *Dispatch) Threads() int {
	return int(d.Descriptor.Get(hwcmd.IDNumberOfThreads))
}

// CrossThreadData returns the cross-thread constant data.
func (d *Dispatch) CrossThreadData() []byte {
	n := 32 * int(d.Descriptor.Get(hwcmd.IDCrossThreadConstantDataReadLength))
	if n > len(d.IndirectData) {
		n = len(d.IndirectData)
	}
	return d.IndirectData[:n]
}

// PerThreadData returns the payload of thread i of a group.
func (d *Dispatch) PerThreadData(i int) []byte {
	n := 32 * int(d.Descriptor.Get(hwcmd.IDConstantURBEntryReadLength))
	start := len(d.CrossThreadData()) + i*n
	if i < 0 || start+n > len(d.IndirectData) {
		return nil
	}
	return d.IndirectData[start : start+n]
}

// Surface returns the surface state bound at binding table index i.
func (d *Dispatch) Surface(i int) (hwcmd.RenderSurfaceState, error) {
	var rss hwcmd.RenderSurfaceState
	if i < 0 || uint32(i) >= d.Descriptor.Get(hwcmd.IDBindingTableEntryCount) {
		return rss, fmt.Errorf("%w: binding table index %d", ErrCommand, i)
	}
	base := d.StateBase.Surface.Address
	entry, err := d.m.translate(base+d.Descriptor.BindingTablePointer()+uint64(i)*hwcmd.BindingTableStateSize, hwcmd.BindingTableStateSize)
	if err != nil {
		return rss, fmt.Errorf("binding table: %w", err)
	}
	bts, err := hwcmd.ParseBindingTableState(entry)
	if err != nil {
		return rss, err
	}
	raw, err := d.m.translate(base+uint64(bts.SurfaceStatePointer()), hwcmd.RenderSurfaceStateSize)
	if err != nil {
		return rss, fmt.Errorf("surface state: %w", err)
	}
	return hwcmd.ParseRenderSurfaceState(raw)
}

// Memory returns n bytes of GPU memory at addr.
func (d *Dispatch) Memory(addr, n uint64) ([]byte, error) {
	return d.m.translate(addr, n)
}

// Instructions returns the kernel's instructions starting at its entry point.
func (d *Dispatch) Instructions() ([]byte, error) {
	return d.m.tail(d.StateBase.Instruction.Address + d.Descriptor.KernelStartPointer())
}
