// Package host drives a [Processor] the way an audio rendering thread drives a
// capture node: one fixed-size block of mono float32 samples per quantum, on a
// single goroutine, until the source runs dry, the processor asks to stop, or
// the context is cancelled.
//
// In realtime mode blocks are paced by a ticker at QuantumSize/SampleRate
// intervals. Otherwise blocks are delivered as fast as the processor accepts
// them, which is what tests and file replays want.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultQuantumSize is the number of samples per block delivered to the
// processor when Config.QuantumSize is zero.
const DefaultQuantumSize = 128

// Processor consumes one block of per-channel samples. Returning false stops
// the host after the current block.
type Processor interface {
	Process(inputs [][]float32) bool
}

// Flusher is implemented by processors that hold a partial window. The host
// calls Flush once after its loop exits.
type Flusher interface {
	Flush()
}

// Source produces mono float32 samples.
//
// Read fills block and returns the number of samples written. A short read is
// allowed. At end of stream Read returns io.EOF, optionally together with a
// final partial block.
type Source interface {
	Read(block []float32) (int, error)
	Close() error
}

// Config holds the rendering parameters.
type Config struct {
	// SampleRate in Hz. Required when Realtime is set.
	SampleRate int

	// QuantumSize is the block length in samples. Zero means DefaultQuantumSize.
	QuantumSize int

	// Realtime paces blocks to wall-clock time.
	Realtime bool
}

// Host owns the render loop. It is not safe to call Run concurrently.
type Host struct {
	cfg  Config
	src  Source
	proc Processor

	blocks int64
}

// New creates a Host. It returns an error for a nil source or processor, or
// for a realtime config without a positive sample rate.
func New(cfg Config, src Source, proc Processor) (*Host, error) {
	if src == nil {
		return nil, errors.New("host: source must not be nil")
	}
	if proc == nil {
		return nil, errors.New("host: processor must not be nil")
	}
	if cfg.QuantumSize == 0 {
		cfg.QuantumSize = DefaultQuantumSize
	}
	if cfg.QuantumSize < 0 {
		return nil, fmt.Errorf("host: quantum size %d must be positive", cfg.QuantumSize)
	}
	if cfg.Realtime && cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("host: realtime pacing needs a positive sample rate, got %d", cfg.SampleRate)
	}
	return &Host{cfg: cfg, src: src, proc: proc}, nil
}

// QuantumDuration returns the wall-clock length of one block. Returns 0 when
// the sample rate is unknown.
func (h *Host) QuantumDuration() time.Duration {
	if h.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(h.cfg.QuantumSize) * int64(time.Second) / int64(h.cfg.SampleRate))
}

// Blocks reports how many blocks Run has delivered. Only meaningful after
// Run returns.
func (h *Host) Blocks() int64 { return h.blocks }

// Run delivers blocks until the source reports io.EOF, the processor returns
// false, or ctx is cancelled. All three are normal terminations and yield a
// nil error. A source read error is returned wrapped. The processor is flushed
// (if it implements [Flusher]) and the source closed before Run returns.
func (h *Host) Run(ctx context.Context) (err error) {
	defer func() {
		if f, ok := h.proc.(Flusher); ok {
			f.Flush()
		}
		if cerr := h.src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("host: close source: %w", cerr)
		}
	}()

	var tick <-chan time.Time
	if h.cfg.Realtime {
		t := time.NewTicker(h.QuantumDuration())
		defer t.Stop()
		tick = t.C
	}

	block := make([]float32, h.cfg.QuantumSize)
	inputs := make([][]float32, 1)

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		n, rerr := h.src.Read(block)
		if n > 0 {
			inputs[0] = block[:n]
			h.blocks++
			if !h.proc.Process(inputs) {
				slog.Debug("host: processor requested stop", "blocks", h.blocks)
				return nil
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				slog.Debug("host: source exhausted", "blocks", h.blocks)
				return nil
			}
			return fmt.Errorf("host: read source: %w", rerr)
		}
	}
}
