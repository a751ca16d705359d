package host

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ToneSource generates an endless sine wave.
type ToneSource struct {
	frequency  float64
	amplitude  float32
	sampleRate int

	// limit is the total number of samples to produce; 0 means unlimited.
	limit int64
	index int64
}

// NewToneSource returns a sine source at frequency Hz. Amplitude is not
// clamped, so values above 1 exercise the quantizer's clamping. A positive
// limit ends the stream with io.EOF after that many samples.
func NewToneSource(frequency float64, amplitude float32, sampleRate int, limit int64) (*ToneSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("tone source: sample rate %d must be positive", sampleRate)
	}
	return &ToneSource{
		frequency:  frequency,
		amplitude:  amplitude,
		sampleRate: sampleRate,
		limit:      limit,
	}, nil
}

func (s *ToneSource) Read(block []float32) (int, error) {
	n := len(block)
	if s.limit > 0 {
		remaining := s.limit - s.index
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(n) > remaining {
			n = int(remaining)
		}
	}
	for i := range n {
		t := float64(s.index) / float64(s.sampleRate)
		block[i] = s.amplitude * float32(math.Sin(2*math.Pi*s.frequency*t))
		s.index++
	}
	if s.limit > 0 && s.index >= s.limit {
		return n, io.EOF
	}
	return n, nil
}

func (s *ToneSource) Close() error { return nil }

// SilenceSource produces zeros. A positive limit ends the stream after that
// many samples.
type SilenceSource struct {
	limit int64
	index int64
}

// NewSilenceSource returns a silence source.
func NewSilenceSource(limit int64) *SilenceSource {
	return &SilenceSource{limit: limit}
}

func (s *SilenceSource) Read(block []float32) (int, error) {
	n := len(block)
	if s.limit > 0 {
		remaining := s.limit - s.index
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(n) > remaining {
			n = int(remaining)
		}
	}
	clear(block[:n])
	s.index += int64(n)
	if s.limit > 0 && s.index >= s.limit {
		return n, io.EOF
	}
	return n, nil
}

func (s *SilenceSource) Close() error { return nil }

// ReaderSource reads raw little-endian float32 samples. A trailing partial
// sample (fewer than 4 bytes) at end of stream is discarded.
type ReaderSource struct {
	r      *bufio.Reader
	closer io.Closer
	buf    [4]byte
}

// NewReaderSource wraps r. If r implements io.Closer, Close closes it.
func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFloat32File opens a raw float32 sample file.
func OpenFloat32File(path string) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open float32 source: %w", err)
	}
	return NewReaderSource(f), nil
}

func (s *ReaderSource) Read(block []float32) (int, error) {
	for i := range block {
		if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return i, io.EOF
			}
			return i, err
		}
		block[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.buf[:]))
	}
	return len(block), nil
}

func (s *ReaderSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SliceSource serves samples from memory.
type SliceSource struct {
	samples []float32
	pos     int
}

// NewSliceSource returns a source that yields samples once and then io.EOF.
func NewSliceSource(samples []float32) *SliceSource {
	return &SliceSource{samples: samples}
}

func (s *SliceSource) Read(block []float32) (int, error) {
	n := copy(block, s.samples[s.pos:])
	s.pos += n
	if s.pos >= len(s.samples) {
		return n, io.EOF
	}
	return n, nil
}

func (s *SliceSource) Close() error { return nil }
