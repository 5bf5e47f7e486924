package handoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pnet "github.com/jinmuyano/processnet"
)

func sample() pnet.SampleResult {
	return pnet.SampleResult{
		Items:   []pnet.ProcessByteCount{{PID: 42, UploadBytes: 1500}, {PID: 1, DownloadBytes: 500}},
		Elapsed: time.Second,
	}
}

func TestRoundTrip(t *testing.T) {
	r := NewRegistry()

	h := r.HandOff(sample())
	assert.False(t, h.IsZero())
	assert.Equal(t, 1, r.Outstanding())

	got, err := r.View(h)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)

	require.NoError(t, r.Release(h))
	assert.Equal(t, 0, r.Outstanding())
}

func TestDoubleReleaseRejected(t *testing.T) {
	r := NewRegistry()
	h := r.HandOff(sample())

	require.NoError(t, r.Release(h))
	assert.ErrorIs(t, r.Release(h), ErrUnknownHandle)
	_, err := r.View(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestGuardMismatch(t *testing.T) {
	r := NewRegistry()
	h := r.HandOff(sample())

	forged := Handle{ID: h.ID, Guard: h.Guard + 1}
	assert.ErrorIs(t, r.Release(forged), ErrGuardMismatch)
	assert.Equal(t, 1, r.Outstanding())

	assert.ErrorIs(t, r.Release(Handle{}), ErrUnknownHandle)
	require.NoError(t, r.Release(h))
}

func TestTakeReturnsResult(t *testing.T) {
	r := NewRegistry()
	h := r.HandOff(sample())

	got, err := r.Take(h)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, 0, r.Outstanding())
}

func TestConcurrentHandOff(t *testing.T) {
	var (
		r  = NewRegistry()
		wg sync.WaitGroup
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := r.HandOff(sample())
				assert.NoError(t, r.Release(h))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Outstanding())
}
