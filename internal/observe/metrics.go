// Package observe provides the observability primitives of pcmwire:
// OpenTelemetry metrics, tracing, trace-aware structured logging and the HTTP
// middleware of the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. Capture counters are observable
// instruments that read the dispatcher's atomic statistics at collection time,
// so the real-time path never touches an OTel instrument. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/pcmwire/pkg/audio/capture"
)

// meterName is the instrumentation scope name used for all pcmwire metrics.
const meterName = "github.com/MrWong99/pcmwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	meter metric.Meter

	// --- Capture (observable, fed by capture.Stats) ---

	CaptureChunks        metric.Int64ObservableCounter
	CaptureBytes         metric.Int64ObservableCounter
	CaptureDropped       metric.Int64ObservableCounter
	CaptureIgnoredBlocks metric.Int64ObservableCounter

	// --- Transport ---

	// TransportBytesSent counts PCM bytes handed to a transport session. Use
	// with attribute.String("transport", ...).
	TransportBytesSent metric.Int64Counter

	// TransportSendDuration tracks how long SendAudio takes.
	TransportSendDuration metric.Float64Histogram

	// TransportReconnects counts reconnection attempts. Use with attributes:
	//   attribute.String("outcome", "success"|"failure")
	TransportReconnects metric.Int64Counter

	// TransportErrors counts transport failures. Use with attribute:
	//   attribute.String("kind", "dial"|"send"|"control"|"disconnect")
	TransportErrors metric.Int64Counter

	// BackendEvents counts replies received from the backend by event type.
	BackendEvents metric.Int64Counter

	// ActiveSessions tracks the number of live transport sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request time by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// sendBuckets are histogram boundaries (in seconds) for a single chunk
// hand-off to a transport session.
var sendBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.CaptureChunks, err = m.Int64ObservableCounter("pcmwire.capture.chunks",
		metric.WithDescription("PCM chunks posted across the capture boundary."),
	); err != nil {
		return nil, err
	}
	if met.CaptureBytes, err = m.Int64ObservableCounter("pcmwire.capture.bytes",
		metric.WithDescription("PCM bytes posted across the capture boundary."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CaptureDropped, err = m.Int64ObservableCounter("pcmwire.capture.dropped",
		metric.WithDescription("PCM chunks dropped because the boundary port was full or closed."),
	); err != nil {
		return nil, err
	}
	if met.CaptureIgnoredBlocks, err = m.Int64ObservableCounter("pcmwire.capture.ignored_blocks",
		metric.WithDescription("Input blocks ignored because they carried no usable channel."),
	); err != nil {
		return nil, err
	}

	if met.TransportBytesSent, err = m.Int64Counter("pcmwire.transport.bytes_sent",
		metric.WithDescription("PCM bytes delivered to transport sessions."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TransportSendDuration, err = m.Float64Histogram("pcmwire.transport.send.duration",
		metric.WithDescription("Latency of handing one chunk to a transport session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransportReconnects, err = m.Int64Counter("pcmwire.transport.reconnects",
		metric.WithDescription("Transport reconnection attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("pcmwire.transport.errors",
		metric.WithDescription("Transport failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.BackendEvents, err = m.Int64Counter("pcmwire.backend.events",
		metric.WithDescription("Backend replies by event type."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pcmwire.active_sessions",
		metric.WithDescription("Number of live transport sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("pcmwire.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ObserveCapture registers a collection callback that reports stats() through
// the capture instruments. stats is called from the metrics exporter's
// goroutine and must be safe for concurrent use (capture.Dispatcher.Stats is).
// Unregister the returned registration when the session ends.
func (m *Metrics) ObserveCapture(sessionID string, stats func() capture.Stats) (metric.Registration, error) {
	attrs := metric.WithAttributes(attribute.String("session_id", sessionID))
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(m.CaptureChunks, int64(s.ChunksPosted), attrs)
		o.ObserveInt64(m.CaptureBytes, int64(s.BytesPosted), attrs)
		o.ObserveInt64(m.CaptureDropped, int64(s.ChunksDropped), attrs)
		o.ObserveInt64(m.CaptureIgnoredBlocks, int64(s.IgnoredBlocks), attrs)
		return nil
	}, m.CaptureChunks, m.CaptureBytes, m.CaptureDropped, m.CaptureIgnoredBlocks)
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSend records one successful chunk hand-off.
func (m *Metrics) RecordSend(ctx context.Context, transport string, n int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("transport", transport))
	m.TransportBytesSent.Add(ctx, int64(n), attrs)
	m.TransportSendDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTransportError records a transport failure of the given kind.
func (m *Metrics) RecordTransportError(ctx context.Context, transport, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("kind", kind),
		),
	)
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, transport, outcome string) {
	m.TransportReconnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordBackendEvent records one reply from the backend.
func (m *Metrics) RecordBackendEvent(ctx context.Context, eventType string) {
	m.BackendEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}
