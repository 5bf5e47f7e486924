package main

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/handoff"
)

type staticEngine struct {
	res pnet.SampleResult
	err error
}

func (e *staticEngine) Start() error { return nil }

func (e *staticEngine) Stop() {}

func (e *staticEngine) Sample(context.Context) (pnet.SampleResult, error) {
	return e.res, e.err
}

// heap stands in for malloc/free with Go memory.
type heap struct {
	live map[unsafe.Pointer][]pnet.ProcessByteCount
	// keeps the backing arrays reachable
	all [][]pnet.ProcessByteCount
}

func newHeap() *heap {
	return &heap{live: make(map[unsafe.Pointer][]pnet.ProcessByteCount)}
}

func (h *heap) alloc(items []pnet.ProcessByteCount) (unsafe.Pointer, error) {
	cp := append([]pnet.ProcessByteCount(nil), items...)
	h.all = append(h.all, cp)
	ptr := unsafe.Pointer(&cp[0])
	h.live[ptr] = cp
	return ptr, nil
}

func (h *heap) free(ptr unsafe.Pointer) {
	if _, ok := h.live[ptr]; !ok {
		panic("double free")
	}
	delete(h.live, ptr)
}

func testBoundary(engine pnet.PacketClient) (*boundary, *heap) {
	h := newHeap()
	return newBoundary(engine, h.alloc, h.free), h
}

func TestLeaseRoundTrip(t *testing.T) {
	engine := &staticEngine{res: pnet.SampleResult{
		Items:         []pnet.ProcessByteCount{{PID: 42, UploadBytes: 1500}, {PID: 1, DownloadBytes: 500}},
		Elapsed:       1500 * time.Millisecond,
		TotalUpload:   1700,
		TotalDownload: 500,
	}}
	b, mem := testBoundary(engine)

	l, err := b.sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.count)
	assert.Equal(t, uint64(1500), l.elapsedMS)
	// 200 upload bytes had no owner and are only in the totals
	assert.Equal(t, uint64(1700), l.totalUpload)
	assert.Equal(t, uint64(500), l.totalDownload)
	require.NotNil(t, l.items)

	items := unsafe.Slice((*pnet.ProcessByteCount)(l.items), l.count)
	assert.Equal(t, uint32(42), items[0].PID)
	assert.Equal(t, 1, b.outstanding())

	require.NoError(t, b.release(l.handle, l.items, l.count))
	assert.Equal(t, 0, b.outstanding())
	assert.Empty(t, mem.live)

	assert.ErrorIs(t, b.release(l.handle, l.items, l.count), handoff.ErrUnknownHandle)
}

func TestEmptyLeaseHasNoItems(t *testing.T) {
	b, _ := testBoundary(&staticEngine{})

	l, err := b.sample(context.Background())
	require.NoError(t, err)
	assert.Nil(t, l.items)
	assert.Zero(t, l.count)
	assert.Zero(t, l.elapsedMS)
	require.NoError(t, b.release(l.handle, nil, 0))
}

func TestReleaseValidates(t *testing.T) {
	engine := &staticEngine{res: pnet.SampleResult{Items: []pnet.ProcessByteCount{{PID: 7, UploadBytes: 1}}}}
	b, mem := testBoundary(engine)

	l, err := b.sample(context.Background())
	require.NoError(t, err)

	wrongGuard := handoff.Handle{ID: l.handle.ID, Guard: l.handle.Guard ^ 1}
	assert.ErrorIs(t, b.release(wrongGuard, l.items, l.count), handoff.ErrGuardMismatch)
	assert.ErrorIs(t, b.release(l.handle, l.items, l.count+1), errItemsMismatch)
	assert.ErrorIs(t, b.release(l.handle, nil, l.count), errItemsMismatch)
	assert.Len(t, mem.live, 1)

	require.NoError(t, b.release(l.handle, l.items, l.count))
	assert.Empty(t, mem.live)
}

func TestSampleErrorLendsNothing(t *testing.T) {
	b, _ := testBoundary(&staticEngine{err: errors.New("poisoned")})

	_, err := b.sample(context.Background())
	assert.Error(t, err)
	assert.Zero(t, b.outstanding())
}

func TestAllocFailureLendsNothing(t *testing.T) {
	engine := &staticEngine{res: pnet.SampleResult{Items: []pnet.ProcessByteCount{{PID: 7, UploadBytes: 1}}}}
	b := newBoundary(engine,
		func([]pnet.ProcessByteCount) (unsafe.Pointer, error) { return nil, errAllocFailed },
		func(unsafe.Pointer) { t.Fatal("nothing to free") },
	)

	_, err := b.sample(context.Background())
	assert.ErrorIs(t, err, errAllocFailed)
	assert.Zero(t, b.outstanding())
}

func TestReleaseZeroHandle(t *testing.T) {
	b, _ := testBoundary(&staticEngine{})
	assert.ErrorIs(t, b.release(handoff.Handle{}, nil, 0), handoff.ErrUnknownHandle)
}

func TestRestartKeepsLeases(t *testing.T) {
	b, _ := testBoundary(&staticEngine{res: pnet.SampleResult{Items: []pnet.ProcessByteCount{{PID: 3}}}})

	l, err := b.sample(context.Background())
	require.NoError(t, err)

	b.setEngine(&staticEngine{})
	require.NoError(t, b.release(l.handle, l.items, l.count))
}
