package netflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jinmuyano/processnet/packet"
)

// ErrBufferPoisoned means a panic interrupted a critical section of the frame
// buffer. Its contents can no longer be trusted and it stays unusable.
var ErrBufferPoisoned = errors.New("frame buffer poisoned")

// frameBuffer is the single collection point for every worker's frames.
type frameBuffer struct {
	mu       sync.Mutex
	frames   []packet.Frame
	poisoned bool
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{frames: make([]packet.Frame, 0, 1024)}
}

func (b *frameBuffer) Append(f packet.Frame) error {
	return b.locked(func() {
		b.frames = append(b.frames, f)
	})
}

// Drain hands out everything appended so far and leaves the buffer empty.
func (b *frameBuffer) Drain() ([]packet.Frame, error) {
	var out []packet.Frame
	err := b.locked(func() {
		out = b.frames
		b.frames = make([]packet.Frame, 0, len(out))
	})
	return out, err
}

func (b *frameBuffer) Reset() error {
	return b.locked(func() {
		b.frames = b.frames[:0]
	})
}

func (b *frameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *frameBuffer) locked(fn func()) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poisoned {
		return ErrBufferPoisoned
	}
	defer func() {
		if r := recover(); r != nil {
			b.poisoned = true
			err = fmt.Errorf("%w: %v", ErrBufferPoisoned, r)
		}
	}()

	fn()
	return nil
}
