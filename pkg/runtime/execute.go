package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// Execute runs the kernel over global in work groups of local and waits for
// it to finish. Every device object it creates is released before it
// returns, whether or not the execution succeeded.
func (p *PreparedExecution) Execute(ctx context.Context, global, local types.NDRange) (err error) {
	if p.state != StateUnvalidated {
		return fmt.Errorf("%w: execution is %s", ErrAlreadyExecuted, p.state)
	}
	defer func() {
		if err != nil {
			p.state = StateFailed
		}
	}()

	k := p.kernel
	rt := k.rt
	if rt.closed.Load() {
		return ErrClosed
	}
	if len(p.args) != len(k.args) {
		return fmt.Errorf("%w: %d of %d bound", ErrMissingArguments, len(p.args), len(k.args))
	}
	if err := checkSizes(global, local); err != nil {
		return err
	}
	p.state = StateValidated

	maxThreads := rt.caps.MaxComputeThreads
	l, err := k.layout(global, local, maxThreads, rt.cfg.MaxIndirectData)
	if err != nil {
		return err
	}
	p.state = StateLaidOut
	rt.logger.Debug("dispatch laid out",
		"kernel", k.Name(),
		"global", global.String(),
		"local", local.String(),
		"simd", l.simd,
		"threads", l.threads,
		"indirect", l.indirectSize)

	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed.Load() {
		return ErrClosed
	}

	o := &execObjects{dev: rt.dev, page: rt.caps.PageSize}
	defer func() {
		if rerr := o.release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := o.bindBuffers(p.args); err != nil {
		return err
	}
	if err := o.allocate(k, l, maxThreads); err != nil {
		return err
	}
	if err := p.fill(o, l); err != nil {
		return err
	}

	inner, err := innerBatch(rt.enc, l, o.flag.Addr)
	if err != nil {
		return fmt.Errorf("encode inner batch: %w", err)
	}
	if err := o.create(&o.inner, uint64(len(inner)), "inner batch"); err != nil {
		return err
	}
	copy(o.inner.Mem, inner)

	outer, err := outerBatch(rt.enc, maxThreads, o)
	if err != nil {
		return fmt.Errorf("encode outer batch: %w", err)
	}
	if err := o.create(&o.outer, uint64(len(outer)), "outer batch"); err != nil {
		return err
	}
	copy(o.outer.Mem, outer)

	flag := (*uint64)(unsafe.Pointer(&o.flag.Mem[0]))
	atomic.StoreUint64(flag, 0)

	sub := o.submission(len(outer))
	if err := rt.dev.Submit(sub); err != nil {
		return resourceError("submit", err)
	}
	p.state = StateSubmitted
	rt.logger.Debug("batch submitted", "kernel", k.Name(), "objects", len(sub.Objects), "length", len(outer))

	if err := rt.wait(ctx, flag); err != nil {
		return err
	}
	p.state = StateCompleted
	return nil
}

// fill writes the heaps and the payload of one execution.
func (p *PreparedExecution) fill(o *execObjects, l *layout) error {
	k := p.kernel

	copy(o.instruction.Mem, k.bin.KernelHeap.Bytes())

	surface := o.surface.Mem[:k.bin.SurfaceStateHeap.PaddedSize()]
	copy(surface, k.bin.SurfaceStateHeap.Bytes())
	addrs := make([]uint64, len(o.buffers))
	for i, b := range o.buffers {
		addrs[i] = b.Addr
	}
	if err := patchSurfaces(surface, k.bin.Params.BindingTableState, addrs, o.sizes); err != nil {
		return err
	}

	desc := k.descriptor(l)
	copy(o.dynamic.Mem, desc.Bytes())

	if err := writeCrossThread(o.indirect.Mem[:l.crossThreadSize], k, l, p.args, surface); err != nil {
		return err
	}
	l.writePerThread(o.indirect.Mem[l.crossThreadSize:l.indirectSize])
	return nil
}

// wait polls the completion flag until the batch writes the sentinel.
func (r *Runtime) wait(ctx context.Context, flag *uint64) error {
	var deadline <-chan time.Time
	if r.cfg.CompletionTimeout > 0 {
		t := time.NewTimer(r.cfg.CompletionTimeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		switch v := atomic.LoadUint64(flag); v {
		case 0:
		case completionSentinel:
			return nil
		default:
			return fmt.Errorf("%w: 0x%x", ErrUnexpectedSentinel, v)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for completion: %w", ErrResource, ctx.Err())
		case <-deadline:
			return fmt.Errorf("%w after %s", ErrCompletionTimeout, r.cfg.CompletionTimeout)
		case <-ticker.C:
		}
	}
}
