package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pcmwire/internal/config"
	"github.com/MrWong99/pcmwire/internal/observe"
	"github.com/MrWong99/pcmwire/internal/session"
	"github.com/MrWong99/pcmwire/pkg/audio"
	"github.com/MrWong99/pcmwire/pkg/audio/capture"
	"github.com/MrWong99/pcmwire/pkg/audio/host"
	"github.com/MrWong99/pcmwire/pkg/transport"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a capture
	// session is running.
	ErrSessionActive = errors.New("app: a capture session is already active")

	// ErrNoSession is returned when an operation needs a running session.
	ErrNoSession = errors.New("app: no active capture session")
)

// SessionInfo holds metadata about a capture session.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	CharacterID string    `json:"character_id,omitempty"`
	Strategy    string    `json:"strategy"`
	StartedAt   time.Time `json:"started_at"`
}

// SessionStatus is a snapshot of the active session.
type SessionStatus struct {
	SessionInfo
	Connected bool          `json:"connected"`
	Capture   capture.Stats `json:"capture"`
	Forwarder session.Stats `json:"forwarder"`
}

// SourceFactory opens the sample source for a new session.
type SourceFactory func(cfg config.SourceConfig, sampleRate int) (host.Source, error)

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config        *config.Config
	Dialer        transport.Dialer
	TransportName string
	Metrics       *observe.Metrics

	// NewSource defaults to [OpenSource].
	NewSource SourceFactory

	// NewID defaults to random UUIDs.
	NewID func() string
}

// SessionManager runs one capture session at a time: a rendering host feeding
// a dispatcher on one side of the port, and a forwarder draining it into the
// backend on the other. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu         sync.Mutex
	active     bool
	info       SessionInfo
	dispatcher *capture.Dispatcher
	forwarder  *session.Forwarder
	cancelHost context.CancelFunc
	cancelFwd  context.CancelFunc
	done       chan struct{}
	lastErr    error

	cfg       *config.Config
	character string
	dialer    transport.Dialer
	transport string
	metrics   *observe.Metrics
	newSource SourceFactory
	newID     func() string
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:       cfg.Config,
		character: cfg.Config.Transport.CharacterID,
		dialer:    cfg.Dialer,
		transport: cfg.TransportName,
		metrics:   cfg.Metrics,
		newSource: cfg.NewSource,
		newID:     cfg.NewID,
	}
	if sm.newSource == nil {
		sm.newSource = OpenSource
	}
	if sm.newID == nil {
		sm.newID = uuid.NewString
	}
	return sm
}

// Start opens the source, builds the capture path, and begins forwarding.
// The session runs until its source is exhausted, [SessionManager.Stop] is
// called, or the backend cannot be reached. ctx is only used for tracing;
// cancelling it does not end the session.
//
// Returns [ErrSessionActive] if a session is already running.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.SessionID)
	}

	cfg := sm.cfg
	info := SessionInfo{
		SessionID:   sm.newID(),
		CharacterID: sm.character,
		Strategy:    string(cfg.Capture.Strategy),
		StartedAt:   time.Now().UTC(),
	}

	ctx, span := observe.StartSpan(ctx, "session.start",
		trace.WithAttributes(
			attribute.String("session_id", info.SessionID),
			attribute.String("strategy", info.Strategy),
		),
	)
	defer span.End()
	log := observe.SessionLogger(ctx, info.SessionID)

	port := capture.NewPort(cfg.Capture.PortCapacity)
	disp, err := capture.New(capture.Config{
		MaxChunkSize:   cfg.Capture.MaxChunkSize,
		BufferCapacity: cfg.Capture.BufferCapacity,
		Strategy:       cfg.Capture.Strategy,
	}, port)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: build capture path: %w", err)
	}

	src, err := sm.newSource(cfg.Source, cfg.Capture.SampleRate)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: open source: %w", err)
	}
	h, err := host.New(host.Config{
		SampleRate:  cfg.Capture.SampleRate,
		QuantumSize: cfg.Capture.QuantumSize,
		Realtime:    cfg.Source.IsRealtime(),
	}, src, disp)
	if err != nil {
		_ = src.Close()
		return SessionInfo{}, fmt.Errorf("app: build host: %w", err)
	}

	fwd, err := session.NewForwarder(session.ForwarderConfig{
		Dialer:        sm.dialer,
		TransportName: sm.transport,
		Session: transport.SessionConfig{
			SessionID:   info.SessionID,
			SampleRate:  cfg.Capture.SampleRate,
			Channels:    1,
			CharacterID: info.CharacterID,
		},
		MaxRetries: cfg.Reconnect.MaxRetries,
		Backoff:    cfg.Reconnect.Backoff,
		MaxBackoff: cfg.Reconnect.MaxBackoff,
		Metrics:    sm.metrics,
		OnEvent:    eventLogger(log),
	})
	if err != nil {
		_ = src.Close()
		return SessionInfo{}, fmt.Errorf("app: build forwarder: %w", err)
	}

	var reg metric.Registration
	if sm.metrics != nil {
		reg, err = sm.metrics.ObserveCapture(info.SessionID, disp.Stats)
		if err != nil {
			log.Warn("capture metrics unavailable", "err", err)
		}
	}

	runCtx := context.WithoutCancel(ctx)
	hostCtx, cancelHost := context.WithCancel(runCtx)
	fwdCtx, cancelFwd := context.WithCancel(runCtx)
	done := make(chan struct{})

	sm.active = true
	sm.info = info
	sm.dispatcher = disp
	sm.forwarder = fwd
	sm.cancelHost = cancelHost
	sm.cancelFwd = cancelFwd
	sm.done = done
	sm.lastErr = nil

	go sm.run(log, h, disp, port, fwd, reg, hostCtx, fwdCtx, done)

	log.Info("session started",
		"character_id", info.CharacterID,
		"strategy", info.Strategy,
		"source", cfg.Source.Kind,
		"sample_rate", cfg.Capture.SampleRate,
		"transport", sm.transport,
	)
	return info, nil
}

// run drives the host and the forwarder until both have returned. The host
// closes the port on exit, which lets the forwarder drain what is left.
func (sm *SessionManager) run(
	log *slog.Logger,
	h *host.Host,
	disp *capture.Dispatcher,
	port *capture.Port,
	fwd *session.Forwarder,
	reg metric.Registration,
	hostCtx, fwdCtx context.Context,
	done chan struct{},
) {
	defer close(done)

	var g errgroup.Group
	g.Go(func() error {
		defer port.Close()
		return h.Run(hostCtx)
	})
	g.Go(func() error {
		err := fwd.Run(fwdCtx, port.Messages())
		if err != nil {
			// Nothing will drain the port anymore.
			disp.Stop()
		}
		return err
	})
	err := g.Wait()

	if reg != nil {
		if uerr := reg.Unregister(); uerr != nil {
			log.Debug("unregister capture metrics", "err", uerr)
		}
	}

	cs, fs := disp.Stats(), fwd.Stats()
	format := audio.Format{SampleRate: sm.cfg.Capture.SampleRate, Channels: 1}
	attrs := []any{
		"audio_sent", format.Duration(int(fs.BytesSent)),
		"blocks", h.Blocks(),
		"chunks_posted", cs.ChunksPosted,
		"chunks_dropped", cs.ChunksDropped,
		"chunks_sent", fs.ChunksSent,
		"bytes_sent", fs.BytesSent,
		"reconnects", fs.Reconnects,
	}
	if err != nil {
		log.Error("session failed", append(attrs, "err", err)...)
	} else {
		log.Info("session ended", attrs...)
	}

	sm.mu.Lock()
	sm.active = false
	sm.lastErr = err
	sm.cancelHost()
	sm.cancelFwd()
	sm.mu.Unlock()
}

// Stop ends the active session gracefully: the host stops after the current
// quantum, the partial window is flushed, and the forwarder drains the port.
// If ctx expires first the forwarder is aborted and undelivered chunks are
// dropped. Stop returns the session's error, if any.
//
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	disp, done := sm.dispatcher, sm.done
	cancelHost, cancelFwd := sm.cancelHost, sm.cancelFwd
	id := sm.info.SessionID
	sm.mu.Unlock()

	slog.Info("stopping session", "session_id", id)
	disp.Stop()
	// Wakes a host blocked on a realtime tick.
	cancelHost()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("session drain deadline exceeded, aborting forwarder", "session_id", id)
		cancelFwd()
		<-done
	}
	return sm.Err()
}

// Done returns a channel that is closed when the current session ends. It
// returns a closed channel when no session was ever started.
func (sm *SessionManager) Done() <-chan struct{} {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sm.done
}

// Err returns the error the last session ended with.
func (sm *SessionManager) Err() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastErr
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Status returns a snapshot of the active session.
func (sm *SessionManager) Status() (SessionStatus, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return SessionStatus{}, ErrNoSession
	}
	return SessionStatus{
		SessionInfo: sm.info,
		Connected:   sm.forwarder.Connected(),
		Capture:     sm.dispatcher.Stats(),
		Forwarder:   sm.forwarder.Stats(),
	}, nil
}

// Interrupt asks the backend to cut off its current reply.
func (sm *SessionManager) Interrupt() error {
	fwd, err := sm.activeForwarder()
	if err != nil {
		return err
	}
	return fwd.SendControl(transport.Interrupt())
}

// SelectCharacter switches the persona of the active session and of every
// later one.
func (sm *SessionManager) SelectCharacter(id string) error {
	sm.mu.Lock()
	sm.character = id
	active, fwd := sm.active, sm.forwarder
	if active {
		sm.info.CharacterID = id
	}
	sm.mu.Unlock()

	if !active {
		return nil
	}
	return fwd.SelectCharacter(id)
}

// Check is a readiness probe: it fails unless a session is running and holds
// a live transport session.
func (sm *SessionManager) Check(ctx context.Context) error {
	fwd, err := sm.activeForwarder()
	if err != nil {
		return err
	}
	return fwd.Check(ctx)
}

func (sm *SessionManager) activeForwarder() (*session.Forwarder, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return nil, ErrNoSession
	}
	return sm.forwarder, nil
}

// eventLogger returns the forwarder's event callback.
func eventLogger(log *slog.Logger) func(transport.Event) {
	return func(ev transport.Event) {
		switch ev.Type {
		case transport.EventText:
			log.Debug("backend text", "chunk", ev.Text)
		case transport.EventError, transport.EventAudioError:
			log.Warn("backend error", "type", ev.Type, "message", ev.Text)
		case transport.EventAudio:
			log.Debug("backend audio", "bytes", len(ev.Audio))
		default:
			log.Debug("backend event", "type", ev.Type)
		}
	}
}
