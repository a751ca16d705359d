package capture

import (
	"fmt"
	"iter"

	"github.com/MrWong99/pcmwire/pkg/audio"
)

// evenChunkSize rounds maxChunkSize down to a whole number of samples, with a
// floor of one sample.
func evenChunkSize(maxChunkSize int) int {
	size := maxChunkSize - maxChunkSize%audio.BytesPerSample
	return max(size, audio.BytesPerSample)
}

// Chunks splits pcm into consecutive chunks of at most maxChunkSize bytes.
// maxChunkSize is rounded down to an even number (minimum 2) so that no
// sample straddles two chunks. Only the even-length prefix of pcm is
// yielded; a trailing odd byte is left to the caller (see [Framer]).
//
// The yielded slices alias pcm. Chunks does no I/O and never allocates
// beyond the iterator itself.
func Chunks(pcm []byte, maxChunkSize int) iter.Seq[[]byte] {
	size := evenChunkSize(maxChunkSize)
	pcm = pcm[:len(pcm)-len(pcm)%audio.BytesPerSample]
	return func(yield func([]byte) bool) {
		for off := 0; off < len(pcm); off += size {
			end := min(off+size, len(pcm))
			if !yield(pcm[off:end:end]) {
				return
			}
		}
	}
}

// Framer is the stateful chunker used by a capture session. It applies
// [Chunks] to each input and handles odd-length input by withholding the
// final byte and prepending it to the next call's data. A byte that is still
// withheld when the session ends is discarded by [Framer.Reset]; it is never
// emitted, so every chunk a Framer yields has even length.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	size    int
	scratch []byte // holds the chunk that starts with the carried byte
	carry   byte
	pending bool
}

// NewFramer returns a Framer that emits chunks of at most maxChunkSize bytes.
func NewFramer(maxChunkSize int) (*Framer, error) {
	if maxChunkSize < audio.BytesPerSample {
		return nil, fmt.Errorf("%w: max chunk size %d is smaller than one sample", ErrInvalidConfig, maxChunkSize)
	}
	size := evenChunkSize(maxChunkSize)
	return &Framer{
		size:    size,
		scratch: make([]byte, size),
	}, nil
}

// MaxChunkSize returns the effective (even) chunk size limit.
func (f *Framer) MaxChunkSize() int { return f.size }

// Frame returns the chunks for pcm in order. The sequence must be consumed
// at most once, and each yielded chunk is only valid until the next one is
// requested.
func (f *Framer) Frame(pcm []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if len(pcm) == 0 {
			return
		}
		if f.pending {
			n := min(len(pcm)+1, f.size)
			n -= n % audio.BytesPerSample
			f.scratch[0] = f.carry
			copy(f.scratch[1:n], pcm[:n-1])
			f.pending = false
			pcm = pcm[n-1:]
			if !yield(f.scratch[:n]) {
				return
			}
		}
		if len(pcm)%audio.BytesPerSample != 0 {
			f.carry = pcm[len(pcm)-1]
			f.pending = true
		}
		for chunk := range Chunks(pcm, f.size) {
			if !yield(chunk) {
				return
			}
		}
	}
}

// Pending reports whether an odd byte is being withheld for the next call.
func (f *Framer) Pending() bool { return f.pending }

// Reset drops any withheld byte.
func (f *Framer) Reset() { f.pending = false }
