package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
	"github.com/fortiblox/gpgpu-rt/pkg/progbin"
)

// Heap sizes the runtime allocates beyond what the kernel declares.
const (
	generalStatePerThread = 1024
	dynamicStateSize      = 1024
	bindlessStateSize     = 1024
	minSurfaceStateSize   = 1024
	completionFlagSize    = 8
)

// execObjects owns every device object of one execution.
type execObjects struct {
	dev  device.Device
	page uint64

	// buffers holds one object per buffer argument, in argument order,
	// and sizes the number of bytes each surface describes.
	buffers []device.Object
	sizes   []uint64

	general     device.Object
	surface     device.Object
	dynamic     device.Object
	indirect    device.Object
	instruction device.Object
	bindless    device.Object
	flag        device.Object
	inner       device.Object
	outer       device.Object

	// owned lists what must be released, in acquisition order.
	owned []device.Object
}

func (o *execObjects) create(dst *device.Object, size uint64, what string) error {
	obj, err := o.dev.Create(types.AlignUp(size, o.page))
	if err != nil {
		return resourceError("allocate "+what, err)
	}
	o.owned = append(o.owned, obj)
	if uint64(len(obj.Mem)) < size {
		return fmt.Errorf("%w: %s object %s is not host mapped", ErrResource, what, obj)
	}
	*dst = obj
	return nil
}

// bindBuffers makes every buffer argument visible to the device.
func (o *execObjects) bindBuffers(args []Argument) error {
	for i, a := range args {
		var (
			obj  device.Object
			size uint64
			err  error
		)
		switch a.Kind {
		case ArgPointer:
			obj, err = o.dev.Register(a.Mem)
			size = uint64(len(a.Mem))
		case ArgNamedObject:
			obj, err = o.dev.Open(a.Name)
			size = obj.Size
		default:
			continue
		}
		if err != nil {
			return resourceError(fmt.Sprintf("bind argument %d", i), err)
		}
		o.owned = append(o.owned, obj)
		o.buffers = append(o.buffers, obj)
		o.sizes = append(o.sizes, size)
	}
	return nil
}

// allocate creates the state heaps, the payload and the completion flag.
// The batches are created once their contents are known.
func (o *execObjects) allocate(k *Kernel, l *layout, maxThreads uint32) error {
	surface := uint64(k.bin.SurfaceStateHeap.PaddedSize())
	if surface < minSurfaceStateSize {
		surface = minSurfaceStateSize
	}
	for _, a := range []struct {
		dst  *device.Object
		size uint64
		what string
	}{
		{&o.general, generalStatePerThread * uint64(maxThreads), "general state"},
		{&o.surface, surface, "surface state"},
		{&o.dynamic, dynamicStateSize, "dynamic state"},
		{&o.indirect, uint64(l.indirectSize), "indirect data"},
		{&o.instruction, uint64(k.bin.KernelHeap.PaddedSize()), "instruction heap"},
		{&o.bindless, bindlessStateSize, "bindless surface state"},
		{&o.flag, completionFlagSize, "completion flag"},
	} {
		if err := o.create(a.dst, a.size, a.what); err != nil {
			return err
		}
	}
	return nil
}

// submission lists the objects in the order the device expects, the
// batch to execute last.
func (o *execObjects) submission(batchLength int) device.Submission {
	objs := append([]device.Object(nil), o.buffers...)
	objs = append(objs, o.general, o.surface, o.dynamic, o.indirect,
		o.instruction, o.bindless, o.flag, o.inner, o.outer)
	return device.Submission{Objects: objs, BatchLength: batchLength}
}

// release returns every object to the device, newest first.
func (o *execObjects) release() error {
	var errs []error
	for i := len(o.owned) - 1; i >= 0; i-- {
		if err := o.dev.Release(o.owned[i]); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", o.owned[i], err))
		}
	}
	o.owned = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	return nil
}

// patchSurfaces points the binding table's surface states at the bound
// buffers. Entry i of the table belongs to the i-th buffer argument.
func patchSurfaces(heap []byte, bts *progbin.BindingTableState, addrs, sizes []uint64) error {
	if bts == nil {
		return nil
	}
	if int(bts.Count) != len(addrs) {
		return fmt.Errorf("%w: %d entries for %d buffers", ErrBindingTable, bts.Count, len(addrs))
	}
	for i := range addrs {
		entry := uint64(bts.Offset) + uint64(i)*hwcmd.BindingTableStateSize
		state, err := hwcmd.ParseBindingTableState(heap[entry:])
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrBindingTable, i, err)
		}
		ptr := uint64(state.SurfaceStatePointer())
		if ptr+hwcmd.RenderSurfaceStateSize > uint64(len(heap)) {
			return fmt.Errorf("%w: entry %d points at 0x%x outside the %d byte heap", ErrBindingTable, i, ptr, len(heap))
		}

		rss, err := hwcmd.ParseRenderSurfaceState(heap[ptr:])
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrBindingTable, i, err)
		}
		if err := rss.ValidateBuffer(); err != nil {
			return progbin.Unsupported("surface state", "binding table entry %d: %v", i, err)
		}
		rss.SetBaseAddress(addrs[i])
		if err := rss.SetBufferSize(sizes[i]); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrValidation, i, err)
		}
		rss.Put(heap[ptr:])
	}
	return nil
}

// crossThread assembles the cross-thread data block.
type crossThread struct {
	buf []byte
}

func (c *crossThread) set(offset, size uint32, v uint64) error {
	if size > 8 || uint64(offset)+uint64(size) > uint64(len(c.buf)) {
		return fmt.Errorf("%w: %d bytes at offset %d of %d", ErrCrossThreadData, size, offset, len(c.buf))
	}
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], v)
	copy(c.buf[offset:offset+size], le[:size])
	return nil
}

// writeCrossThread fills dst with the values the kernel's data parameters
// ask for. surfaces is the patched surface state heap.
func writeCrossThread(dst []byte, k *Kernel, l *layout, args []Argument, surfaces []byte) error {
	c := crossThread{buf: dst}
	p := k.bin.Params

	// btIndex maps an argument to its binding table entry.
	btIndex := make([]uint64, len(args))
	var buffers uint64
	for i, a := range args {
		btIndex[i] = buffers
		if a.isBuffer() {
			buffers++
		}
	}

	for _, d := range p.DataParameterBuffers {
		var v uint64
		switch d.Type {
		case progbin.DataParamKernelArgument:
			v = args[d.ArgumentNumber].Value
		case progbin.DataParamBufferStateful:
			v = btIndex[d.ArgumentNumber]
		case progbin.DataParamLocalWorkSize, progbin.DataParamEnqueuedLocalWorkSize:
			axis, err := axisFor(d.SourceOffset)
			if err != nil {
				return err
			}
			v = uint64(l.local.Axis(axis))
		case progbin.DataParamGlobalWorkSize:
			axis, err := axisFor(d.SourceOffset)
			if err != nil {
				return err
			}
			v = uint64(l.global.Axis(axis))
		case progbin.DataParamNumWorkGroups:
			axis, err := axisFor(d.SourceOffset)
			if err != nil {
				return err
			}
			v = uint64(l.groups.Axis(axis))
		case progbin.DataParamGlobalWorkOffset:
			v = 0
		case progbin.DataParamWorkDimensions:
			v = uint64(workDimensions(l.global))
		default:
			return progbin.Unsupported("data parameter", "type %d", d.Type)
		}
		if err := c.set(d.Offset, d.DataSize, v); err != nil {
			return fmt.Errorf("data parameter type %d: %w", d.Type, err)
		}
	}

	for _, s := range p.StatelessGlobalMemoryObjectKernelArguments {
		rss, err := hwcmd.ParseRenderSurfaceState(surfaces[s.SurfaceStateHeapOffset:])
		if err != nil {
			return fmt.Errorf("stateless argument %d: %w", s.ArgumentNumber, err)
		}
		if err := c.set(s.DataParamOffset, s.DataParamSize, rss.BaseAddress()); err != nil {
			return fmt.Errorf("stateless argument %d: %w", s.ArgumentNumber, err)
		}
	}
	return nil
}

// descriptor returns the interface descriptor the runtime loads: the
// kernel's modes with the dispatch's thread and payload geometry.
func (k *Kernel) descriptor(l *layout) hwcmd.InterfaceDescriptor {
	var d hwcmd.InterfaceDescriptor
	d.SetKernelStartPointer(0)
	d.Set(hwcmd.IDDenormMode, k.desc.Get(hwcmd.IDDenormMode))
	d.Set(hwcmd.IDFloatingPointMode, k.desc.Get(hwcmd.IDFloatingPointMode))
	d.Set(hwcmd.IDRoundingMode, k.desc.Get(hwcmd.IDRoundingMode))
	d.Set(hwcmd.IDSamplerCount, 0)
	d.SetBindingTablePointer(k.desc.BindingTablePointer())
	d.Set(hwcmd.IDBindingTableEntryCount, k.desc.Get(hwcmd.IDBindingTableEntryCount))
	d.Set(hwcmd.IDConstantURBEntryReadLength, l.urbReadLength)
	d.Set(hwcmd.IDConstantURBEntryReadOffset, 0)
	d.Set(hwcmd.IDBarrierEnable, 1)
	d.Set(hwcmd.IDSharedLocalMemorySize, 0)
	d.Set(hwcmd.IDNumberOfThreads, l.threads)
	d.Set(hwcmd.IDCrossThreadConstantDataReadLength, k.desc.Get(hwcmd.IDCrossThreadConstantDataReadLength))
	return d
}
