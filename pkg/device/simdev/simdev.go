// Package simdev is an in-process stand-in for a Gen9 GPU.
//
// Objects are backed by anonymous host mappings and their GPU address is
// their host address, the way userptr objects are pinned on real hardware.
// Submitted batches are decoded and interpreted: batch buffer chaining,
// state base addresses, interface descriptor loads and post-sync writes are
// carried out, and each GPGPU_WALKER is handed to a DispatchHook in place of
// running the kernel.
package simdev

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fortiblox/gpgpu-rt/internal/logging"
	"github.com/fortiblox/gpgpu-rt/internal/types"
	"github.com/fortiblox/gpgpu-rt/pkg/device"
	"github.com/fortiblox/gpgpu-rt/pkg/hwcmd"
)

// DefaultMaxComputeThreads matches a GT2 Gen9 part (24 EUs, 7 threads each,
// rounded the way the kernel driver reports it).
const DefaultMaxComputeThreads = 224

// Config configures a simulated device.
type Config struct {
	// Name is reported in Capabilities.
	Name string

	// MaxComputeThreads is reported in Capabilities.
	MaxComputeThreads uint32

	// PageSize is the allocation granularity. Zero means the host page size.
	PageSize uint64

	// CompletionDelay makes Submit return immediately and run the batch
	// on a background goroutine after the delay. Zero runs the batch before
	// Submit returns.
	CompletionDelay time.Duration

	// DispatchHook is called for every walker. It stands in for the
	// kernel; nil dispatches do nothing.
	DispatchHook func(*Dispatch) error

	// Logger receives execution traces. Nil uses the shared logger.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration for a synchronous GT2 device.
func DefaultConfig() Config {
	return Config{
		Name:              "simulated Gen9 GT2",
		MaxComputeThreads: DefaultMaxComputeThreads,
		PageSize:          uint64(unix.Getpagesize()),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxComputeThreads == 0 {
		return errors.New("max compute threads must be positive")
	}
	if err := types.ValidatePageSize(c.PageSize); err != nil {
		return err
	}
	if c.PageSize%uint64(unix.Getpagesize()) != 0 {
		return fmt.Errorf("page size %d is not a multiple of the host page size %d",
			c.PageSize, unix.Getpagesize())
	}
	if c.CompletionDelay < 0 {
		return errors.New("completion delay must not be negative")
	}
	return nil
}

// backing is a range of host memory shared by every handle that refers to it.
type backing struct {
	mem    []byte
	mapped bool // owned mapping, unmapped with the last reference
	refs   int

	// inflight counts background executions using the memory; the
	// mapping outlives the last reference until they finish.
	inflight int
}

func (b *backing) addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b.mem))))
}

// Device is a simulated GPU. It implements device.Device.
type Device struct {
	cfg    Config
	logger *slog.Logger
	enc    *hwcmd.Encoder

	mu      sync.Mutex
	objects map[device.Handle]*backing
	names   map[uint32]*backing
	next    device.Handle
	name    uint32

	closed  atomic.Bool
	running sync.WaitGroup

	errMu   sync.Mutex
	lastErr error

	submissions atomic.Uint64
	dispatches  atomic.Uint64
}

var _ device.Device = (*Device)(nil)

// New creates a simulated device.
func New(cfg Config) (*Device, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = uint64(unix.Getpagesize())
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	enc, err := hwcmd.NewEncoder(hwcmd.Gen9)
	if err != nil {
		return nil, err
	}
	return &Device{
		cfg:     cfg,
		logger:  logging.Or(cfg.Logger),
		enc:     enc,
		objects: make(map[device.Handle]*backing),
		names:   make(map[uint32]*backing),
	}, nil
}

// Capabilities implements device.Device.
func (d *Device) Capabilities() device.Capabilities {
	return device.Capabilities{
		Name:              d.cfg.Name,
		Gen:               int(hwcmd.Gen9),
		MaxComputeThreads: d.cfg.MaxComputeThreads,
		PageSize:          d.cfg.PageSize,
	}
}

// Create implements device.Device.
func (d *Device) Create(size uint64) (device.Object, error) {
	if d.closed.Load() {
		return device.Object{}, device.ErrClosed
	}
	if size == 0 {
		return device.Object{}, fmt.Errorf("%w: zero-sized object", device.ErrOutOfMemory)
	}
	size = types.AlignUp(size, d.cfg.PageSize)
	if size > uint64(maxInt) {
		return device.Object{}, fmt.Errorf("%w: %d bytes", device.ErrOutOfMemory, size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return device.Object{}, fmt.Errorf("%w: mmap %d bytes: %v", device.ErrOutOfMemory, size, err)
	}
	return d.insert(&backing{mem: mem, mapped: true}), nil
}

// Register implements device.Device.
func (d *Device) Register(mem []byte) (device.Object, error) {
	if d.closed.Load() {
		return device.Object{}, device.ErrClosed
	}
	b := &backing{mem: mem}
	if len(mem) == 0 || !types.IsAligned(uint64(len(mem)), d.cfg.PageSize) || !types.IsAligned(b.addr(), d.cfg.PageSize) {
		return device.Object{}, fmt.Errorf("%w: %d bytes at 0x%x", device.ErrUnaligned, len(mem), b.addr())
	}
	return d.insert(b), nil
}

// Export publishes obj under a global name that Open accepts.
func (d *Device) Export(obj device.Object) (uint32, error) {
	if d.closed.Load() {
		return 0, device.ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.objects[obj.Handle]
	if !ok {
		return 0, fmt.Errorf("%w: handle %d", device.ErrUnknownObject, obj.Handle)
	}
	d.name++
	d.names[d.name] = b
	return d.name, nil
}

// Open implements device.Device.
func (d *Device) Open(name uint32) (device.Object, error) {
	if d.closed.Load() {
		return device.Object{}, device.ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.names[name]
	if !ok {
		return device.Object{}, fmt.Errorf("%w: %d", device.ErrNameNotFound, name)
	}
	return d.insertLocked(b), nil
}

func (d *Device) insert(b *backing) device.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(b)
}

// insertLocked assigns a new handle to b; d.mu must be held.
func (d *Device) insertLocked(b *backing) device.Object {
	d.next++
	b.refs++
	d.objects[d.next] = b
	return device.Object{Handle: d.next, Addr: b.addr(), Size: uint64(len(b.mem)), Mem: b.mem}
}

// Release implements device.Device.
func (d *Device) Release(obj device.Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.objects[obj.Handle]
	if !ok {
		return fmt.Errorf("%w: handle %d", device.ErrUnknownObject, obj.Handle)
	}
	delete(d.objects, obj.Handle)
	return d.unref(b)
}

// unref drops one reference; d.mu must be held.
func (d *Device) unref(b *backing) error {
	b.refs--
	if b.refs > 0 || !b.mapped || b.inflight > 0 {
		return nil
	}
	for name, nb := range d.names {
		if nb == b {
			delete(d.names, name)
		}
	}
	if err := unix.Munmap(b.mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// hold adjusts the in-flight count of the backings and unmaps those whose
// last reference was dropped while they were in use.
func (d *Device) hold(held []*backing, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range held {
		b.inflight += delta
		if b.inflight == 0 && b.refs == 0 && b.mapped && b.mem != nil {
			if err := unix.Munmap(b.mem); err != nil {
				d.logger.Warn("deferred unmap failed", "error", err)
			}
			b.mem = nil
		}
	}
}

// LiveObjects returns the number of handles not yet released.
func (d *Device) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

// Submissions returns the number of accepted submissions.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// Dispatches returns the number of walkers executed.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

// Err returns the error of the last failed background execution.
func (d *Device) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastErr
}

// Submit implements device.Device.
func (d *Device) Submit(s device.Submission) error {
	if d.closed.Load() {
		return device.ErrClosed
	}
	batch, err := s.Batch()
	if err != nil {
		return err
	}

	d.mu.Lock()
	held := make([]*backing, 0, len(s.Objects))
	for _, o := range s.Objects {
		b, ok := d.objects[o.Handle]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("%w: %w: handle %d", device.ErrSubmit, device.ErrUnknownObject, o.Handle)
		}
		held = append(held, b)
	}
	d.mu.Unlock()

	objs := append([]device.Object(nil), s.Objects...)
	stream := batch.Mem[:s.BatchLength]
	d.submissions.Add(1)
	d.logger.Debug("batch submitted", "objects", len(objs), "batch", batch.String(), "length", s.BatchLength)

	if d.cfg.CompletionDelay == 0 {
		if err := d.execute(objs, stream); err != nil {
			return fmt.Errorf("%w: %w", device.ErrSubmit, err)
		}
		return nil
	}

	d.hold(held, 1)
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		defer d.hold(held, -1)
		time.Sleep(d.cfg.CompletionDelay)
		if err := d.execute(objs, stream); err != nil {
			d.logger.Warn("batch execution failed", "error", err)
			d.errMu.Lock()
			d.lastErr = err
			d.errMu.Unlock()
		}
	}()
	return nil
}

// Close implements device.Device. It waits for background executions and
// unmaps every object still allocated.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.running.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for h, b := range d.objects {
		delete(d.objects, h)
		if err := d.unref(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const maxInt = int(^uint(0) >> 1)
