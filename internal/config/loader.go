package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pcmwire/pkg/audio/capture"
	"github.com/MrWong99/pcmwire/pkg/audio/host"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultSampleRate   = 16000
	DefaultPortCapacity = 64
	DefaultURL          = "ws://localhost:8080/ws-audio"
	DefaultWriteTimeout = 5 * time.Second
	DefaultFrequency    = 440
	DefaultAmplitude    = 0.5
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Capture
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.QuantumSize == 0 {
		c.QuantumSize = host.DefaultQuantumSize
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = capture.DefaultMaxChunkSize
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = capture.DefaultBufferCapacity
	}
	if c.Strategy == "" {
		c.Strategy = capture.StrategyWindowed
	}
	if c.PortCapacity == 0 {
		c.PortCapacity = DefaultPortCapacity
	}

	s := &cfg.Source
	if s.Kind == "" {
		s.Kind = SourceTone
	}
	if s.Kind == SourceTone {
		if s.Frequency == 0 {
			s.Frequency = DefaultFrequency
		}
		if s.Amplitude == 0 {
			s.Amplitude = DefaultAmplitude
		}
	}

	t := &cfg.Transport
	if t.Name == "" {
		t.Name = TransportWebSocket
	}
	applyEntryDefaults(&t.TransportEntry)
	for i := range t.Fallbacks {
		applyEntryDefaults(&t.Fallbacks[i])
	}

	cb := &cfg.CircuitBreaker
	if cb.MaxFailures == 0 {
		cb.MaxFailures = 5
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = 30 * time.Second
	}
	if cb.HalfOpenMax == 0 {
		cb.HalfOpenMax = 3
	}

	rc := &cfg.Reconnect
	if rc.MaxRetries == 0 {
		rc.MaxRetries = 10
	}
	if rc.Backoff == 0 {
		rc.Backoff = time.Second
	}
	if rc.MaxBackoff == 0 {
		rc.MaxBackoff = 30 * time.Second
	}
}

func applyEntryDefaults(e *TransportEntry) {
	if e.Name != TransportWebSocket {
		return
	}
	if e.URL == "" {
		e.URL = DefaultURL
	}
	if e.WriteTimeout == 0 {
		e.WriteTimeout = DefaultWriteTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.QuantumSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.quantum_size must be positive, got %d", c.QuantumSize))
	}
	if c.MaxChunkSize < 2 || c.MaxChunkSize%2 != 0 {
		errs = append(errs, fmt.Errorf("capture.max_chunk_size must be an even number >= 2, got %d", c.MaxChunkSize))
	}
	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_capacity must be positive, got %d", c.BufferCapacity))
	}
	if !c.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("capture.strategy %q is invalid; valid values: windowed, immediate", c.Strategy))
	}
	if c.PortCapacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.port_capacity must be positive, got %d", c.PortCapacity))
	}
	if c.Strategy == capture.StrategyWindowed && c.BufferCapacity > 0 && c.MaxChunkSize > 0 && (c.BufferCapacity*2)%c.MaxChunkSize != 0 {
		slog.Warn("capture.buffer_capacity does not fill a whole number of chunks; the last chunk of each window will be short",
			"buffer_capacity", c.BufferCapacity,
			"max_chunk_size", c.MaxChunkSize,
		)
	}

	// Source
	s := cfg.Source
	if !s.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: tone, file, mp3, silence", s.Kind))
	}
	if (s.Kind == SourceFile || s.Kind == SourceMP3) && s.Path == "" {
		errs = append(errs, fmt.Errorf("source.path is required when kind is %s", s.Kind))
	}
	if s.Kind == SourceTone && s.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("source.frequency must be positive, got %g", s.Frequency))
	}
	if s.Amplitude < 0 || s.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("source.amplitude %g is out of range [0, 1]", s.Amplitude))
	}
	if s.Duration < 0 {
		errs = append(errs, fmt.Errorf("source.duration must not be negative, got %s", s.Duration))
	}

	// Transport
	labels := make(map[string]string)
	errs = append(errs, validateEntry("transport", cfg.Transport.TransportEntry, labels)...)
	for i, fb := range cfg.Transport.Fallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("transport.fallbacks[%d]", i), fb, labels)...)
	}
	if cfg.Transport.CharacterID == "" {
		slog.Warn("transport.character_id is empty; the backend will use its default persona")
	}

	// Circuit breaker
	cb := cfg.CircuitBreaker
	if cb.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker.max_failures must not be negative, got %d", cb.MaxFailures))
	}
	if cb.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker.reset_timeout must not be negative, got %s", cb.ResetTimeout))
	}
	if cb.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker.half_open_max must not be negative, got %d", cb.HalfOpenMax))
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries must not be negative, got %d", rc.MaxRetries))
	}
	if rc.Backoff < 0 || rc.MaxBackoff < 0 {
		errs = append(errs, errors.New("reconnect.backoff and reconnect.max_backoff must not be negative"))
	}
	if rc.Backoff > 0 && rc.MaxBackoff > 0 && rc.MaxBackoff < rc.Backoff {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %s is shorter than reconnect.backoff %s", rc.MaxBackoff, rc.Backoff))
	}

	return errors.Join(errs...)
}

// validateEntry checks one transport entry. seen maps entry labels to the
// prefix that first used them and is updated in place.
func validateEntry(prefix string, e TransportEntry, seen map[string]string) []error {
	var errs []error
	if e.Name == "" {
		return append(errs, fmt.Errorf("%s.name is required", prefix))
	}

	label := e.Label()
	if prev, ok := seen[label]; ok {
		errs = append(errs, fmt.Errorf("%s duplicates %s (%s)", prefix, prev, label))
	}
	seen[label] = prefix

	if e.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.write_timeout must not be negative, got %s", prefix, e.WriteTimeout))
	}

	switch e.Name {
	case TransportWebSocket:
		u, err := url.Parse(e.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.url %q: %w", prefix, e.URL, err))
			break
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("%s.url %q must use ws, wss, http, or https", prefix, e.URL))
		}
		if e.Token != "" && (u.Scheme == "ws" || u.Scheme == "http") {
			slog.Warn("bearer token will be sent over an unencrypted connection", "transport", prefix, "url", e.URL)
		}
	case TransportPCMFile:
		if e.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required for the pcmfile transport", prefix))
		}
	}
	return errs
}
