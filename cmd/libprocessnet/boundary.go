package main

import (
	"context"
	"errors"
	"sync"
	"unsafe"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/handoff"
)

var (
	errItemsMismatch = errors.New("items pointer or count does not match the handle")
	errAllocFailed   = errors.New("out of foreign memory")
)

// allocation is foreign memory lent out with a sample.
type allocation struct {
	ptr   unsafe.Pointer
	count int
}

// lease is what the caller receives for one sample.
type lease struct {
	items     unsafe.Pointer
	count     int
	elapsedMS uint64
	handle    handoff.Handle

	totalUpload   uint64
	totalDownload uint64
}

// boundary lends samples across the C ABI. Items are copied into memory from
// alloc and only freed when the caller gives back the exact handle, pointer
// and count it received.
type boundary struct {
	mu       sync.Mutex
	engine   pnet.PacketClient
	registry *handoff.Registry
	allocs   map[uint64]allocation

	alloc func(items []pnet.ProcessByteCount) (unsafe.Pointer, error) // never called for no items
	free  func(unsafe.Pointer)
}

func newBoundary(engine pnet.PacketClient, alloc func([]pnet.ProcessByteCount) (unsafe.Pointer, error), free func(unsafe.Pointer)) *boundary {
	return &boundary{
		engine:   engine,
		registry: handoff.NewRegistry(),
		allocs:   make(map[uint64]allocation),
		alloc:    alloc,
		free:     free,
	}
}

// setEngine swaps the engine after a restart. Samples lent by the old one
// stay releasable.
func (b *boundary) setEngine(engine pnet.PacketClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine = engine
}

func (b *boundary) sample(ctx context.Context) (lease, error) {
	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()

	res, err := engine.Sample(ctx)
	if err != nil {
		return lease{}, err
	}

	var ptr unsafe.Pointer
	if len(res.Items) != 0 {
		// the window is already drained, its counts are lost with this error
		if ptr, err = b.alloc(res.Items); err != nil {
			return lease{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.registry.HandOff(res)
	b.allocs[h.ID] = allocation{ptr: ptr, count: len(res.Items)}
	return lease{
		items:     ptr,
		count:     len(res.Items),
		elapsedMS: res.ElapsedMillis(),
		handle:    h,

		totalUpload:   res.TotalUpload,
		totalDownload: res.TotalDownload,
	}, nil
}

func (b *boundary) release(h handoff.Handle, items unsafe.Pointer, count int) error {
	if h.IsZero() {
		return handoff.ErrUnknownHandle
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.registry.View(h); err != nil {
		return err
	}
	a := b.allocs[h.ID]
	if a.ptr != items || a.count != count {
		return errItemsMismatch
	}
	if err := b.registry.Release(h); err != nil {
		return err
	}
	delete(b.allocs, h.ID)

	if a.ptr != nil {
		b.free(a.ptr)
	}
	return nil
}

func (b *boundary) outstanding() int {
	return b.registry.Outstanding()
}
