// Package config provides the configuration schema, loader, and transport
// registry for pcmwire.
package config

import (
	"time"

	"github.com/MrWong99/pcmwire/pkg/audio/capture"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects where the capture host reads samples from.
type SourceKind string

const (
	// SourceTone generates a sine wave.
	SourceTone SourceKind = "tone"

	// SourceFile replays raw little-endian float32 samples from Path.
	SourceFile SourceKind = "file"

	// SourceMP3 decodes the MP3 file at Path and replays it at the capture
	// sample rate.
	SourceMP3 SourceKind = "mp3"

	// SourceSilence produces zero samples.
	SourceSilence SourceKind = "silence"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceTone, SourceFile, SourceMP3, SourceSilence:
		return true
	}
	return false
}

// Built-in transport names.
const (
	TransportWebSocket = "websocket"
	TransportPCMFile   = "pcmfile"
)

// Config is the root configuration structure for pcmwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Capture        CaptureConfig        `yaml:"capture"`
	Source         SourceConfig         `yaml:"source"`
	Transport      TransportConfig      `yaml:"transport"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Reconnect      ReconnectConfig      `yaml:"reconnect"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin server serving /healthz,
	// /readyz, and /metrics (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig sizes the capture path.
type CaptureConfig struct {
	// SampleRate is the rate of the float samples entering the capture path,
	// in Hz.
	SampleRate int `yaml:"sample_rate"`

	// QuantumSize is the number of samples the host delivers per tick.
	QuantumSize int `yaml:"quantum_size"`

	// MaxChunkSize is the upper bound of every chunk sent to the backend, in
	// bytes. Must be even.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// BufferCapacity is the window size in samples for the windowed strategy.
	BufferCapacity int `yaml:"buffer_capacity"`

	// Strategy is "windowed" or "immediate".
	Strategy capture.Strategy `yaml:"strategy"`

	// PortCapacity is the number of chunks that may be in flight between the
	// capture path and the forwarder before new chunks are dropped.
	PortCapacity int `yaml:"port_capacity"`
}

// SourceConfig selects and parameterises the sample source.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// Path is the input file for the file and mp3 kinds.
	Path string `yaml:"path"`

	// Duration bounds tone and silence sources. Zero runs until stopped.
	Duration time.Duration `yaml:"duration"`

	// Frequency of the tone in Hz.
	Frequency float64 `yaml:"frequency"`

	// Amplitude of the tone in [0, 1].
	Amplitude float32 `yaml:"amplitude"`

	// Realtime paces delivery to the sample rate. When false, the source is
	// drained as fast as the transport accepts it.
	Realtime *bool `yaml:"realtime"`
}

// IsRealtime reports whether the host should pace delivery. Defaults to true.
func (s SourceConfig) IsRealtime() bool {
	return s.Realtime == nil || *s.Realtime
}

// TransportEntry configures one backend. The Name field is used to look up
// the dialer factory in the [Registry].
type TransportEntry struct {
	// Name selects the registered transport (e.g., "websocket", "pcmfile").
	Name string `yaml:"name"`

	// URL is the backend endpoint for network transports.
	URL string `yaml:"url"`

	// Token is sent as a bearer token on the handshake.
	Token string `yaml:"token"`

	// TokenQuery additionally passes Token as a ?token= query parameter,
	// for backends behind proxies that strip headers.
	TokenQuery bool `yaml:"token_query"`

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Path is the output file for the pcmfile transport.
	Path string `yaml:"path"`

	// Options holds transport-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Label returns a human-readable identifier for logs and metrics. Entries
// that share a transport name are told apart by their endpoint.
func (e TransportEntry) Label() string {
	switch {
	case e.URL != "":
		return e.Name + "(" + e.URL + ")"
	case e.Path != "":
		return e.Name + "(" + e.Path + ")"
	}
	return e.Name
}

// TransportConfig is the primary backend plus its ordered fallbacks.
type TransportConfig struct {
	TransportEntry `yaml:",inline"`

	// CharacterID selects the backend persona. It is announced on every
	// connect, including reconnects and failovers.
	CharacterID string `yaml:"character_id"`

	// Fallbacks are tried in order when the primary cannot be reached.
	Fallbacks []TransportEntry `yaml:"fallbacks"`
}

// CircuitBreakerConfig tunes the per-backend circuit breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ReconnectConfig controls how the forwarder re-establishes a lost session.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}
