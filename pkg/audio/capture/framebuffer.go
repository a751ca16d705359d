package capture

import (
	"fmt"

	"github.com/MrWong99/pcmwire/pkg/audio"
)

// FrameBuffer accumulates samples into a preallocated window of fixed
// capacity. Samples are quantized as they are written, so a full window is
// ready-to-send PCM.
//
// A FrameBuffer is owned by a single capture session and is not safe for
// concurrent use.
type FrameBuffer struct {
	pcm      []byte
	capacity int // in samples
	index    int // next write position, in samples
}

// NewFrameBuffer allocates a window of capacity samples.
func NewFrameBuffer(capacity int) (*FrameBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: buffer capacity %d must be positive", ErrInvalidConfig, capacity)
	}
	return &FrameBuffer{
		pcm:      make([]byte, capacity*audio.BytesPerSample),
		capacity: capacity,
	}, nil
}

// Push writes samples into the window. Each time the window fills, onFull is
// called with the full window and the write position wraps to zero. The
// slice passed to onFull is only valid until onFull returns.
//
// A block larger than the remaining space produces several full events;
// Push returns how many were emitted.
func (b *FrameBuffer) Push(samples []float32, onFull func(window []byte)) int {
	events := 0
	for len(samples) > 0 {
		if b.index >= b.capacity {
			panic(fmt.Sprintf("capture: frame buffer index %d reached capacity %d without flush", b.index, b.capacity))
		}
		n := audio.QuantizeInto(b.pcm[b.index*audio.BytesPerSample:], samples)
		b.index += n
		samples = samples[n:]

		if b.index == b.capacity {
			if onFull != nil {
				onFull(b.pcm)
			}
			b.index = 0
			events++
		}
	}
	return events
}

// Filled returns the quantized samples written since the last flush. The
// slice aliases the window and is invalidated by the next Push or Reset.
func (b *FrameBuffer) Filled() []byte {
	return b.pcm[:b.index*audio.BytesPerSample]
}

// Index returns the write position in samples. It is always in
// [0, Capacity()).
func (b *FrameBuffer) Index() int { return b.index }

// Capacity returns the window size in samples.
func (b *FrameBuffer) Capacity() int { return b.capacity }

// Reset discards any partially filled window.
func (b *FrameBuffer) Reset() { b.index = 0 }
