// Package pcmfile provides a transport.Dialer that appends captured PCM to a
// local file instead of a backend. It is meant for offline captures and for
// checking the wire bytes by hand (e.g. `ffplay -f s16le -ar 16000 -ac 1`).
//
// Control messages are logged and otherwise ignored, and no events are ever
// produced.
package pcmfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

// Dialer opens the same file for every session. Sessions append, so a
// reconnect never truncates what an earlier session wrote.
type Dialer struct {
	path string
}

var _ transport.Dialer = (*Dialer)(nil)

// New returns a Dialer writing to path.
func New(path string) (*Dialer, error) {
	if path == "" {
		return nil, errors.New("pcmfile: path must not be empty")
	}
	return &Dialer{path: path}, nil
}

// Path returns the output file path.
func (d *Dialer) Path() string { return d.path }

// Dial opens (or creates) the output file.
func (d *Dialer) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pcmfile: dial: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pcmfile: open %q: %w", d.path, err)
	}
	slog.Debug("pcmfile: session opened", "path", d.path, "session_id", cfg.SessionID)
	return &session{
		f:      f,
		w:      bufio.NewWriter(f),
		id:     cfg.SessionID,
		events: make(chan transport.Event),
	}, nil
}

type session struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	id     string
	closed bool
	events chan transport.Event
}

func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	if _, err := s.w.Write(chunk); err != nil {
		return fmt.Errorf("pcmfile: write: %w", err)
	}
	return nil
}

func (s *session) SendControl(c transport.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	slog.Debug("pcmfile: control ignored", "session_id", s.id, "type", c.Type, "character_id", c.CharacterID)
	return nil
}

func (s *session) Events() <-chan transport.Event { return s.events }

// Close flushes buffered audio and closes the file.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)

	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("pcmfile: close: %w", err)
	}
	return nil
}
