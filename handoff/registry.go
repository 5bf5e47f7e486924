// Package handoff tracks sample results lent to a caller until it gives them
// back. Every result handed off must be released exactly once.
package handoff

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	pnet "github.com/jinmuyano/processnet"
)

var (
	ErrUnknownHandle = errors.New("unknown or already released handle")
	ErrGuardMismatch = errors.New("handle guard mismatch")
)

// Handle names one outstanding result. The guard catches handles that were
// forged or mixed up with another registry's.
type Handle struct {
	ID    uint64
	Guard uint64
}

func (h Handle) IsZero() bool {
	return h.ID == 0
}

type lent struct {
	guard  uint64
	result pnet.SampleResult
}

type Registry struct {
	mu    sync.Mutex
	next  uint64
	salt  uint64
	items map[uint64]lent
}

func NewRegistry() *Registry {
	return &Registry{salt: randomSalt(), items: make(map[uint64]lent)}
}

// HandOff takes ownership of res. The caller must not touch res.Items again
// except through View.
func (r *Registry) HandOff(res pnet.SampleResult) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := Handle{ID: r.next, Guard: mix(r.next ^ r.salt)}
	r.items[h.ID] = lent{guard: h.Guard, result: res}
	return h
}

func (r *Registry) View(h Handle) (pnet.SampleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookup(h)
	if err != nil {
		return pnet.SampleResult{}, err
	}
	return l.result, nil
}

// Release gives a result back. A second release of the same handle fails.
func (r *Registry) Release(h Handle) error {
	_, err := r.Take(h)
	return err
}

// Take releases h and returns what it held.
func (r *Registry) Take(h Handle) (pnet.SampleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookup(h)
	if err != nil {
		return pnet.SampleResult{}, err
	}
	delete(r.items, h.ID)
	return l.result, nil
}

// Outstanding is the number of results not released yet.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) lookup(h Handle) (lent, error) {
	l, ok := r.items[h.ID]
	if !ok {
		return lent{}, ErrUnknownHandle
	}
	if l.guard != h.Guard {
		return lent{}, ErrGuardMismatch
	}
	return l, nil
}

func randomSalt() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x9e3779b97f4a7c15
	}
	return binary.LittleEndian.Uint64(b[:])
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
