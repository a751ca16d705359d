// Package transport defines the contract between the capture pipeline and a
// voice-chat backend.
//
// A [Dialer] opens a [Session]. The session carries captured PCM chunks as
// binary frames, small JSON control messages (persona selection, interrupt)
// and surfaces the backend's replies as a stream of [Event] values: streamed
// reply text, synthesized speech audio and the markers that bracket it.
//
// Implementations live in sub-packages (websocket, pcmfile, mock). All Session
// methods must be safe for concurrent use.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Session methods called after Close, or after the
// underlying connection has gone away.
var ErrClosed = errors.New("transport: session closed")

// SessionConfig describes the stream a new session will carry.
type SessionConfig struct {
	// SessionID identifies this capture session in logs and on the backend.
	SessionID string

	// SampleRate of the PCM stream in Hz.
	SampleRate int

	// Channels of the PCM stream. Always 1 for captured audio.
	Channels int

	// CharacterID selects the backend persona. Sent as the first control
	// message when non-empty.
	CharacterID string
}

// Control is a JSON control message sent to the backend as a text frame.
// Exactly one of its fields is set.
type Control struct {
	Type        string `json:"type,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
}

// Interrupt returns the control that cuts off the backend's current reply.
func Interrupt() Control { return Control{Type: "interrupt"} }

// SelectCharacter returns the control that switches the backend persona.
func SelectCharacter(id string) Control { return Control{CharacterID: id} }

// EventType classifies a backend reply.
type EventType string

const (
	// EventText carries one streamed chunk of the reply text.
	EventText EventType = "ai_text"

	// EventError reports a failure while generating the reply text.
	EventError EventType = "ai_error"

	// EventAudioStart precedes the binary frames of a synthesized utterance.
	EventAudioStart EventType = "audio_start"

	// EventAudioEnd follows the last binary frame of an utterance.
	EventAudioEnd EventType = "audio_end"

	// EventAudioError reports a speech synthesis failure.
	EventAudioError EventType = "audio_error"

	// EventAudio carries one binary frame of synthesized speech.
	EventAudio EventType = "audio"
)

// Event is a single reply from the backend.
type Event struct {
	Type EventType

	// Text holds the reply chunk for EventText and the message for the error
	// events.
	Text string

	// Audio holds the payload of an EventAudio.
	Audio []byte
}

// Session is an open connection to the backend.
type Session interface {
	// SendAudio delivers one chunk of little-endian 16-bit PCM. The session
	// takes ownership of chunk. Returns ErrClosed (possibly wrapped) once the
	// session is unusable.
	SendAudio(chunk []byte) error

	// SendControl delivers a control message.
	SendControl(c Control) error

	// Events returns the backend's replies. The channel is closed when the
	// session ends, whether by Close or by the remote side.
	Events() <-chan Event

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Dialer opens sessions against one backend.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}
