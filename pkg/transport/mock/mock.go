// Package mock provides test doubles for the transport package interfaces.
//
// Use Dialer to script connection failures and hand out prepared sessions.
// Use Session to inspect which chunks and controls were delivered, and to
// simulate the backend dropping the connection.
//
// Example:
//
//	sess := mock.NewSession()
//	d := &mock.Dialer{Errors: []error{errRefused}, Sessions: []*mock.Session{sess}}
//	// first Dial fails, second returns sess
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	Ctx context.Context
	Cfg transport.SessionConfig
}

// Dialer is a mock implementation of transport.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Errors scripts the outcome of successive Dial calls: call i fails with
	// Errors[i] when that entry is non-nil.
	Errors []error

	// Sessions are handed out in order by successful Dial calls. Once
	// exhausted, Dial returns a fresh Session from NewSession.
	Sessions []*Session

	// DialCalls records every call to Dial.
	DialCalls []DialCall

	// Dialed records every session handed out, in order.
	Dialed []*Session

	next int
}

// Dial records the call and returns the next scripted result.
func (d *Dialer) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := len(d.DialCalls)
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if call < len(d.Errors) && d.Errors[call] != nil {
		return nil, d.Errors[call]
	}
	var s *Session
	if d.next < len(d.Sessions) {
		s = d.Sessions[d.next]
		d.next++
	} else {
		s = NewSession()
	}
	if cfg.CharacterID != "" {
		s.mu.Lock()
		s.ControlCalls = append(s.ControlCalls, transport.SelectCharacter(cfg.CharacterID))
		s.mu.Unlock()
	}
	d.Dialed = append(d.Dialed, s)
	return s, nil
}

// DialCallCount returns the number of Dial calls. Thread-safe.
func (d *Dialer) DialCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}

// DialedSessions returns a snapshot of every session handed out so far.
func (d *Dialer) DialedSessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.Dialed))
	copy(out, d.Dialed)
	return out
}

var _ transport.Dialer = (*Dialer)(nil)

// Session is a mock implementation of transport.Session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Tests may send on it to
	// simulate backend replies.
	EventsCh chan transport.Event

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FailAfter, if positive, makes SendAudio return transport.ErrClosed once
	// that many chunks have been accepted.
	FailAfter int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls holds a copy of every accepted chunk in order.
	SendAudioCalls [][]byte

	// ControlCalls records every control sent, including the persona selection
	// made on Dial.
	ControlCalls []transport.Control

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	dropped   bool
	closeOnce sync.Once
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan transport.Event, 16)}
}

// SendAudio records the chunk and returns the scripted error.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return transport.ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.FailAfter > 0 && len(s.SendAudioCalls) >= s.FailAfter {
		return transport.ErrClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return nil
}

// SendControl records the control.
func (s *Session) SendControl(c transport.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return transport.ErrClosed
	}
	s.ControlCalls = append(s.ControlCalls, c)
	return nil
}

// Events returns EventsCh.
func (s *Session) Events() <-chan transport.Event { return s.EventsCh }

// Drop simulates the backend closing the connection: the events channel is
// closed and further sends fail with transport.ErrClosed.
func (s *Session) Drop() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.EventsCh) })
}

// Close records the call, closes the events channel and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.dropped = true
	err := s.CloseErr
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.EventsCh) })
	return err
}

// Chunks returns a snapshot of the accepted chunks. Thread-safe.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Controls returns a snapshot of the recorded controls. Thread-safe.
func (s *Session) Controls() []transport.Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Control, len(s.ControlCalls))
	copy(out, s.ControlCalls)
	return out
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ transport.Session = (*Session)(nil)
