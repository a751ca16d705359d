package capture

import (
	"sync"
	"sync/atomic"
)

// MessageAudioData is the Type of every message the capture path posts.
const MessageAudioData = "audioData"

// Message is the unit handed across the real-time boundary. Data is raw
// signed 16-bit little-endian PCM; ownership passes to the receiver.
type Message struct {
	Type string
	Data []byte
}

// Port is a bounded single-producer/single-consumer hand-off between the
// capture goroutine and the transport. Post never blocks.
type Port struct {
	ch        chan Message
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewPort creates a Port that holds up to capacity undelivered messages.
// A capacity below 1 is raised to 1.
func NewPort(capacity int) *Port {
	return &Port{ch: make(chan Message, max(capacity, 1))}
}

// Post offers msg to the consumer. It returns false, dropping msg, when the
// port is full or closed.
func (p *Port) Post(msg Message) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.ch <- msg:
		return true
	default:
		return false
	}
}

// Messages returns the receive side. The channel is closed by [Port.Close].
func (p *Port) Messages() <-chan Message { return p.ch }

// Len returns the number of messages waiting to be received.
func (p *Port) Len() int { return len(p.ch) }

// Close closes the receive channel after any buffered messages. It must be
// called by the producer, or after the producer has stopped posting. Safe to
// call more than once.
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.ch)
	})
}
