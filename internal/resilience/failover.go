package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/pcmwire/pkg/transport"
)

// ErrAllFailed is returned when every dialer in a [Failover] failed or had an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all transports failed")

// failoverEntry pairs a dialer with its dedicated circuit breaker.
type failoverEntry struct {
	name    string
	dialer  transport.Dialer
	breaker *CircuitBreaker
}

// Failover implements [transport.Dialer] by trying a primary dialer and then
// each fallback in registration order. Entries whose breaker is open are
// skipped without being dialed.
type Failover struct {
	cfg     CircuitBreakerConfig
	entries []failoverEntry
}

var _ transport.Dialer = (*Failover)(nil)

// NewFailover creates a [Failover] with primary as the preferred dialer. cfg is
// the template for every entry's breaker; its Name is replaced by the entry
// name.
func NewFailover(primaryName string, primary transport.Dialer, cfg CircuitBreakerConfig) *Failover {
	f := &Failover{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add registers a fallback dialer. Not safe to call concurrently with Dial.
func (f *Failover) Add(name string, d transport.Dialer) {
	cbCfg := f.cfg
	cbCfg.Name = name
	f.entries = append(f.entries, failoverEntry{
		name:    name,
		dialer:  d,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in dial order.
func (f *Failover) Names() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker guarding the named entry, or nil.
func (f *Failover) Breaker(name string) *CircuitBreaker {
	for i := range f.entries {
		if f.entries[i].name == name {
			return f.entries[i].breaker
		}
	}
	return nil
}

// Dial returns a session from the first entry that connects. If ctx is
// cancelled the remaining entries are not tried.
func (f *Failover) Dial(ctx context.Context, cfg transport.SessionConfig) (transport.Session, error) {
	var lastErr error
	for i := range f.entries {
		entry := &f.entries[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sess transport.Session
		err := entry.breaker.Execute(func() error {
			var dialErr error
			sess, dialErr = entry.dialer.Dial(ctx, cfg)
			return dialErr
		})
		if err == nil {
			if i > 0 {
				slog.Warn("connected via fallback transport", "transport", entry.name, "session_id", cfg.SessionID)
			}
			return sess, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping transport (circuit open)", "transport", entry.name)
		} else {
			slog.Warn("transport dial failed, trying next", "transport", entry.name, "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
