// Package app wires the pcmwire subsystems into a running application.
//
// New builds the transport chain and the admin HTTP handler. Run starts the
// capture session and serves /healthz, /readyz, /metrics, and the session
// endpoints until the session ends or the context is cancelled. Shutdown
// stops whatever Run left behind.
//
// For testing, inject a dialer, metrics, or a source factory via functional
// options (WithDialer, WithMetrics, WithSourceFactory).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pcmwire/internal/config"
	"github.com/MrWong99/pcmwire/internal/health"
	"github.com/MrWong99/pcmwire/internal/observe"
	"github.com/MrWong99/pcmwire/internal/resilience"
	"github.com/MrWong99/pcmwire/pkg/transport"
)

// Default timeouts.
const (
	DefaultDrainTimeout  = 5 * time.Second
	adminShutdownTimeout = 5 * time.Second
)

// App owns the capture session manager and the admin HTTP surface.
type App struct {
	cfg *config.Config

	dialer   transport.Dialer
	failover *resilience.Failover
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	sources  SourceFactory
	newID    func() string
	drain    time.Duration

	sessions *SessionManager
	handler  http.Handler

	mu        sync.Mutex
	adminAddr string

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDialer uses d instead of building the transport chain from the
// registry.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics records into m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithSourceFactory replaces [OpenSource].
func WithSourceFactory(f SourceFactory) Option {
	return func(a *App) { a.sources = f }
}

// WithSessionIDs replaces the random session id generator.
func WithSessionIDs(f func() string) Option {
	return func(a *App) { a.newID = f }
}

// WithDrainTimeout bounds how long a cancelled Run waits for the forwarder to
// deliver buffered chunks. Default: [DefaultDrainTimeout].
func WithDrainTimeout(d time.Duration) Option {
	return func(a *App) { a.drain = d }
}

// New creates an App. Unless [WithDialer] is given, the primary transport and
// its fallbacks are created from reg and chained behind circuit breakers.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, drain: DefaultDrainTimeout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	if a.dialer == nil {
		if reg == nil {
			return nil, errors.New("app: a transport registry or dialer is required")
		}
		f, err := BuildDialer(ctx, cfg, reg, a.metrics)
		if err != nil {
			return nil, err
		}
		a.dialer = f
		a.failover = f
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:        cfg,
		Dialer:        a.dialer,
		TransportName: cfg.Transport.Name,
		Metrics:       a.metrics,
		NewSource:     a.sources,
		NewID:         a.newID,
	})

	hc := health.New(health.CheckFunc("capture_session", a.sessions.Check))
	mux := http.NewServeMux()
	hc.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /session", a.handleStatus)
	mux.HandleFunc("POST /session/interrupt", a.handleInterrupt)
	mux.HandleFunc("POST /session/character", a.handleCharacter)
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// BuildDialer creates the primary transport and every fallback from reg and
// chains them in a [resilience.Failover]. Breaker transitions are logged and
// counted as transport errors.
func BuildDialer(ctx context.Context, cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*resilience.Failover, error) {
	cbCfg := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("transport circuit breaker changed state", "transport", name, "from", from, "to", to)
			if m != nil && to == resilience.StateOpen {
				m.RecordTransportError(context.WithoutCancel(ctx), name, "circuit_open")
			}
		},
	}

	primary, err := reg.CreateDialer(cfg.Transport.TransportEntry)
	if err != nil {
		return nil, fmt.Errorf("app: primary transport: %w", err)
	}
	f := resilience.NewFailover(cfg.Transport.Label(), primary, cbCfg)

	for i, entry := range cfg.Transport.Fallbacks {
		d, err := reg.CreateDialer(entry)
		if err != nil {
			return nil, fmt.Errorf("app: fallback transport %d: %w", i, err)
		}
		f.Add(entry.Label(), d)
	}
	slog.Info("transport chain ready", "transports", f.Names())
	return f, nil
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Failover returns the transport chain, or nil when a dialer was injected.
func (a *App) Failover() *resilience.Failover { return a.failover }

// AdminAddr returns the address the admin server is bound to, or "" before
// Run has started it.
func (a *App) AdminAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adminAddr
}

// Run starts the capture session and the admin server and blocks until the
// session ends on its own, or ctx is cancelled. On cancellation the session
// is stopped gracefully, giving the forwarder the drain timeout to deliver
// what is buffered.
//
// Returns nil for an orderly end, and the session's error otherwise.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		a.mu.Lock()
		a.adminAddr = ln.Addr().String()
		a.mu.Unlock()
	}

	if _, err := a.sessions.Start(ctx); err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if ln != nil {
		srv := &http.Server{
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		// The session ending on its own also takes the admin server down.
		defer cancel()
		select {
		case <-a.sessions.Done():
		case <-gctx.Done():
			sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), a.drain)
			defer scancel()
			if err := a.sessions.Stop(sctx); err != nil && !errors.Is(err, ErrNoSession) {
				return err
			}
			return nil
		}
		return a.sessions.Err()
	})

	return g.Wait()
}

// Interrupt asks the backend to cut off its current reply.
func (a *App) Interrupt() error { return a.sessions.Interrupt() }

// SelectCharacter switches the backend persona.
func (a *App) SelectCharacter(id string) error { return a.sessions.SelectCharacter(id) }

// ApplyConfig applies the hot-reloadable parts of d. Log level changes are
// the caller's business since it owns the logger.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.CharacterChanged {
		if err := a.SelectCharacter(d.NewCharacterID); err != nil {
			slog.Warn("failed to switch character", "character_id", d.NewCharacterID, "err", err)
		} else {
			slog.Info("character switched", "character_id", d.NewCharacterID)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect on restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops a session that is still running, bounded by ctx. It is safe
// to call after Run has returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if serr := a.sessions.Stop(ctx); serr != nil && !errors.Is(serr, ErrNoSession) {
			err = serr
		}
		slog.Info("shutdown complete")
	})
	return err
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := a.sessions.Status()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *App) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	if err := a.Interrupt(); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleCharacter(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id query parameter"})
		return
	}
	if err := a.SelectCharacter(id); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	if errors.Is(err, ErrNoSession) {
		return http.StatusConflict
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
