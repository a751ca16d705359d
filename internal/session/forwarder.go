// Package session owns the consumer side of a capture session: it drains the
// capture port and delivers every chunk, in order, over a transport session
// that it keeps alive across backend restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pcmwire/internal/observe"
	"github.com/MrWong99/pcmwire/pkg/audio/capture"
	"github.com/MrWong99/pcmwire/pkg/transport"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

var (
	// ErrGaveUp is returned by [Forwarder.Run] when the backend stayed
	// unreachable for MaxRetries consecutive attempts.
	ErrGaveUp = errors.New("session: reconnection attempts exhausted")

	// ErrNotConnected is returned by [Forwarder.SendControl] while no
	// transport session is up.
	ErrNotConnected = errors.New("session: not connected")
)

// ForwarderConfig configures a [Forwarder].
type ForwarderConfig struct {
	// Dialer opens transport sessions. Required.
	Dialer transport.Dialer

	// TransportName labels logs and metrics.
	TransportName string

	// Session is passed to every Dial. Its CharacterID is therefore
	// re-announced on each reconnect.
	Session transport.SessionConfig

	// MaxRetries is the number of consecutive failed dials tolerated before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between dials. Doubles each attempt up to
	// MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Metrics, if set, receives send, error, reconnect and event counts.
	Metrics *observe.Metrics

	// OnEvent, if set, is called for every backend reply. It runs on a
	// per-session goroutine and must not block for long.
	OnEvent func(transport.Event)
}

// Stats is a snapshot of the forwarder counters.
type Stats struct {
	ChunksSent uint64
	BytesSent  uint64
	Reconnects uint64
	Dropped    uint64
	Events     uint64
}

// Forwarder delivers capture messages over a transport session.
//
// Run must be called exactly once. SendControl, Connected and Stats are safe
// to call from any goroutine.
type Forwarder struct {
	cfg ForwarderConfig
	log *slog.Logger

	mu   sync.Mutex
	sess transport.Session

	// disconnected is signalled when the backend drops the current session.
	disconnected chan struct{}
	eventsWG     sync.WaitGroup

	sent       atomic.Uint64
	bytes      atomic.Uint64
	reconnects atomic.Uint64
	dropped    atomic.Uint64
	events     atomic.Uint64
}

// NewForwarder validates cfg and returns a [Forwarder].
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session: dialer must not be nil")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if cfg.TransportName == "" {
		cfg.TransportName = "transport"
	}
	return &Forwarder{
		cfg:          cfg,
		log:          slog.With("session_id", cfg.Session.SessionID, "transport", cfg.TransportName),
		disconnected: make(chan struct{}, 1),
	}, nil
}

// Run connects and then forwards messages until msgs is closed, ctx is
// cancelled, or reconnection gives up. Message order is preserved across
// reconnects: a chunk whose send failed is held and re-sent first on the new
// session. Run closes the transport session before returning.
//
// Returns nil when msgs is closed or ctx is cancelled, and an error wrapping
// [ErrGaveUp] when the backend could not be reached.
func (f *Forwarder) Run(ctx context.Context, msgs <-chan capture.Message) error {
	defer func() {
		f.closeCurrent()
		f.eventsWG.Wait()
	}()

	if err := f.connect(ctx, false); err != nil {
		return f.runErr(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.disconnected:
			if f.current() != nil {
				continue
			}
			if err := f.connect(ctx, true); err != nil {
				return f.runErr(err)
			}
		case m, ok := <-msgs:
			if !ok {
				f.log.Debug("capture port closed, forwarder done", "chunks_sent", f.sent.Load())
				return nil
			}
			if m.Type != capture.MessageAudioData || len(m.Data) == 0 {
				continue
			}
			if err := f.deliver(ctx, m.Data); err != nil {
				f.dropped.Add(1)
				return f.runErr(err)
			}
		}
	}
}

// runErr maps cancellation to a clean exit.
func (f *Forwarder) runErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// deliver sends chunk on the current session, reconnecting as needed.
func (f *Forwarder) deliver(ctx context.Context, chunk []byte) error {
	for {
		sess := f.current()
		if sess == nil {
			if err := f.connect(ctx, true); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		err := sess.SendAudio(chunk)
		if err == nil {
			f.sent.Add(1)
			f.bytes.Add(uint64(len(chunk)))
			if m := f.cfg.Metrics; m != nil {
				m.RecordSend(ctx, f.cfg.TransportName, len(chunk), time.Since(start))
			}
			return nil
		}

		f.log.Warn("send failed, reconnecting", "err", err)
		if m := f.cfg.Metrics; m != nil {
			m.RecordTransportError(ctx, f.cfg.TransportName, "send")
		}
		f.drop(sess)
	}
}

// connect dials with exponential backoff until a session is up, ctx is done,
// or MaxRetries attempts have failed.
func (f *Forwarder) connect(ctx context.Context, reconnect bool) error {
	backoff := f.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := f.dial(ctx, attempt)
		if err == nil {
			f.install(sess)
			if reconnect {
				f.reconnects.Add(1)
				f.recordReconnect(ctx, "success")
				f.log.Info("reconnected", "attempt", attempt)
			} else {
				f.log.Info("connected")
			}
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		lastErr = err
		if reconnect {
			f.recordReconnect(ctx, "failure")
		}
		if m := f.cfg.Metrics; m != nil {
			m.RecordTransportError(ctx, f.cfg.TransportName, "dial")
		}
		f.log.Warn("dial failed",
			"attempt", attempt,
			"max_retries", f.cfg.MaxRetries,
			"backoff", backoff,
			"err", err,
		)

		if attempt == f.cfg.MaxRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, f.cfg.MaxBackoff)
	}

	f.log.Error("giving up on backend", "max_retries", f.cfg.MaxRetries, "err", lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, f.cfg.MaxRetries, lastErr)
}

func (f *Forwarder) dial(ctx context.Context, attempt int) (transport.Session, error) {
	ctx, span := observe.StartSpan(ctx, "transport.dial",
		trace.WithAttributes(
			attribute.String("transport", f.cfg.TransportName),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()

	f.mu.Lock()
	sc := f.cfg.Session
	f.mu.Unlock()

	sess, err := f.cfg.Dialer.Dial(ctx, sc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, err
	}
	return sess, nil
}

// install makes sess current and starts its event pump.
func (f *Forwarder) install(sess transport.Session) {
	f.mu.Lock()
	f.sess = sess
	f.mu.Unlock()

	if m := f.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(context.Background(), 1)
	}

	f.eventsWG.Add(1)
	go f.pumpEvents(sess)
}

// pumpEvents forwards backend replies until the session's event stream ends,
// then reports the disconnect if sess was still current.
func (f *Forwarder) pumpEvents(sess transport.Session) {
	defer f.eventsWG.Done()
	ctx := context.Background()
	for ev := range sess.Events() {
		f.events.Add(1)
		if m := f.cfg.Metrics; m != nil {
			m.RecordBackendEvent(ctx, string(ev.Type))
		}
		if f.cfg.OnEvent != nil {
			f.cfg.OnEvent(ev)
		}
	}

	if f.drop(sess) {
		f.log.Warn("backend closed the session")
		if m := f.cfg.Metrics; m != nil {
			m.RecordTransportError(ctx, f.cfg.TransportName, "disconnect")
		}
		select {
		case f.disconnected <- struct{}{}:
		default:
		}
	}
}

// drop closes sess and clears it if it is still current. Reports whether it
// was.
func (f *Forwarder) drop(sess transport.Session) bool {
	f.mu.Lock()
	current := f.sess == sess
	if current {
		f.sess = nil
	}
	f.mu.Unlock()

	if !current {
		return false
	}
	if m := f.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(context.Background(), -1)
	}
	if err := sess.Close(); err != nil {
		f.log.Debug("close transport session", "err", err)
	}
	return true
}

func (f *Forwarder) closeCurrent() {
	if sess := f.current(); sess != nil {
		f.drop(sess)
	}
}

func (f *Forwarder) current() transport.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

func (f *Forwarder) recordReconnect(ctx context.Context, outcome string) {
	if m := f.cfg.Metrics; m != nil {
		m.RecordReconnect(ctx, f.cfg.TransportName, outcome)
	}
}

// SendControl sends c on the current session.
func (f *Forwarder) SendControl(c transport.Control) error {
	sess := f.current()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.SendControl(c); err != nil {
		if m := f.cfg.Metrics; m != nil {
			m.RecordTransportError(context.Background(), f.cfg.TransportName, "control")
		}
		return fmt.Errorf("session: send control: %w", err)
	}
	return nil
}

// SelectCharacter switches the backend persona. The new id is sent on the
// live session, if any, and announced on every later connect.
func (f *Forwarder) SelectCharacter(id string) error {
	f.mu.Lock()
	f.cfg.Session.CharacterID = id
	f.mu.Unlock()

	err := f.SendControl(transport.SelectCharacter(id))
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Connected reports whether a transport session is currently up.
func (f *Forwarder) Connected() bool { return f.current() != nil }

// Check is a readiness probe: it fails while no transport session is up.
func (f *Forwarder) Check(context.Context) error {
	if !f.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns a snapshot of the forwarder counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		ChunksSent: f.sent.Load(),
		BytesSent:  f.bytes.Load(),
		Reconnects: f.reconnects.Load(),
		Dropped:    f.dropped.Load(),
		Events:     f.events.Load(),
	}
}
