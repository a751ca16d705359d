package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/pcmwire/pkg/audio"
)

// Defaults match a 16 kHz speech backend that expects 100 ms frames.
const (
	DefaultMaxChunkSize   = 3200
	DefaultBufferCapacity = 1600
)

// Strategy selects how a [Dispatcher] turns incoming blocks into chunks.
type Strategy string

const (
	// StrategyWindowed accumulates samples into a [FrameBuffer] and only
	// frames full windows. Chunk sizes are uniform; latency is bounded by the
	// window length.
	StrategyWindowed Strategy = "windowed"

	// StrategyImmediate quantizes and frames every block as it arrives.
	// Latency is one quantum but chunk sizes follow the host's block size.
	StrategyImmediate Strategy = "immediate"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyWindowed || s == StrategyImmediate
}

// Config configures a capture session.
type Config struct {
	// MaxChunkSize is the upper bound, in bytes, of every posted chunk. Odd
	// values are rounded down. Default: 3200.
	MaxChunkSize int

	// BufferCapacity is the window size in samples for [StrategyWindowed].
	// Ignored by [StrategyImmediate]. Default: 1600.
	BufferCapacity int

	// Strategy defaults to [StrategyWindowed].
	Strategy Strategy
}

// Stats is a snapshot of a dispatcher's counters.
type Stats struct {
	Blocks        uint64 // Process calls while running
	IgnoredBlocks uint64 // empty or malformed blocks
	Samples       uint64
	ChunksPosted  uint64
	ChunksDropped uint64 // port full or closed
	BytesPosted   uint64
}

// Dispatcher is the per-quantum entry point of a capture session. The host
// calls [Dispatcher.Process] once per rendering quantum from a single
// goroutine. Process never blocks, never logs, and never returns an error.
//
// Create one Dispatcher per session with [New]; instances share no state.
type Dispatcher struct {
	strategy Strategy
	framer   *Framer
	port     *Port

	window   *FrameBuffer // windowed only
	onWindow func([]byte)
	scratch  []byte // immediate only; one chunk of quantized samples

	stopped atomic.Bool

	blocks  atomic.Uint64
	ignored atomic.Uint64
	samples atomic.Uint64
	posted  atomic.Uint64
	dropped atomic.Uint64
	bytes   atomic.Uint64
}

// New creates a Dispatcher that posts to port. Zero-value config fields are
// replaced with defaults.
func New(cfg Config, port *Port) (*Dispatcher, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: port must not be nil", ErrInvalidConfig)
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWindowed
	}
	if !cfg.Strategy.IsValid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}

	framer, err := NewFramer(cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		strategy: cfg.Strategy,
		framer:   framer,
		port:     port,
	}

	switch cfg.Strategy {
	case StrategyWindowed:
		d.window, err = NewFrameBuffer(cfg.BufferCapacity)
		if err != nil {
			return nil, err
		}
		d.onWindow = d.emit
	case StrategyImmediate:
		d.scratch = make([]byte, framer.MaxChunkSize())
	}
	return d, nil
}

// Process consumes one block from the host. inputs is indexed by channel;
// only channel 0 is captured. Empty or missing input is ignored.
//
// It returns true while the session is live and false once [Dispatcher.Stop]
// has been called, telling the host to stop invoking it.
func (d *Dispatcher) Process(inputs [][]float32) bool {
	if d.stopped.Load() {
		return false
	}
	d.blocks.Add(1)
	if len(inputs) == 0 || len(inputs[0]) == 0 {
		d.ignored.Add(1)
		return true
	}
	block := inputs[0]
	d.samples.Add(uint64(len(block)))

	switch d.strategy {
	case StrategyWindowed:
		d.window.Push(block, d.onWindow)
	case StrategyImmediate:
		for len(block) > 0 {
			n := audio.QuantizeInto(d.scratch, block)
			block = block[n:]
			d.emit(d.scratch[:n*audio.BytesPerSample])
		}
	}
	return true
}

// Flush posts whatever is left in a partially filled window and drops any
// withheld odd byte. Call it from the host goroutine after the last
// Process call of a session. It is a no-op for [StrategyImmediate].
func (d *Dispatcher) Flush() {
	if d.window != nil && d.window.Index() > 0 {
		d.emit(d.window.Filled())
		d.window.Reset()
	}
	d.framer.Reset()
}

// Stop makes every later Process call return false. Safe to call from any
// goroutine and more than once.
func (d *Dispatcher) Stop() { d.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool { return d.stopped.Load() }

// Strategy returns the session's framing strategy.
func (d *Dispatcher) Strategy() Strategy { return d.strategy }

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Blocks:        d.blocks.Load(),
		IgnoredBlocks: d.ignored.Load(),
		Samples:       d.samples.Load(),
		ChunksPosted:  d.posted.Load(),
		ChunksDropped: d.dropped.Load(),
		BytesPosted:   d.bytes.Load(),
	}
}

// emit frames pcm and posts each chunk as a fresh slice.
func (d *Dispatcher) emit(pcm []byte) {
	for chunk := range d.framer.Frame(pcm) {
		data := make([]byte, len(chunk))
		copy(data, chunk)
		if d.port.Post(Message{Type: MessageAudioData, Data: data}) {
			d.posted.Add(1)
			d.bytes.Add(uint64(len(data)))
		} else {
			d.dropped.Add(1)
		}
	}
}
