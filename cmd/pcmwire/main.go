// Command pcmwire captures float audio, converts it to 16-bit PCM, and streams
// it to a voice backend over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/pcmwire/internal/app"
	"github.com/MrWong99/pcmwire/internal/config"
	"github.com/MrWong99/pcmwire/internal/observe"
	"github.com/MrWong99/pcmwire/pkg/transport"
	"github.com/MrWong99/pcmwire/pkg/transport/pcmfile"
	"github.com/MrWong99/pcmwire/pkg/transport/websocket"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "pcmwire.yaml", "path to the YAML configuration file")
	watch := flag.Duration("watch", config.DefaultWatchInterval, "config reload polling interval; 0 disables reloading")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pcmwire: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pcmwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("pcmwire starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Transport registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinTransports(reg)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithGatherer(tel.Registry))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	if *watch > 0 {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "log_level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		}, config.WithInterval(*watch))
		if err != nil {
			slog.Warn("config reloading disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("capture running; press Ctrl+C to stop")

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil {
		slog.Error("session failed", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Transport registration ────────────────────────────────────────────────────

// registerBuiltinTransports registers the websocket and pcmfile dialers. The
// websocket handshake goes through an otelhttp transport so dials carry W3C
// trace context.
func registerBuiltinTransports(reg *config.Registry) {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	reg.RegisterTransport(config.TransportWebSocket, func(entry config.TransportEntry) (transport.Dialer, error) {
		opts := []websocket.Option{
			websocket.WithHTTPClient(client),
			websocket.WithTokenQuery(entry.TokenQuery),
		}
		if entry.Token != "" {
			opts = append(opts, websocket.WithToken(entry.Token))
		}
		if entry.WriteTimeout > 0 {
			opts = append(opts, websocket.WithWriteTimeout(entry.WriteTimeout))
		}
		if n := optInt(entry.Options, "queue_size"); n > 0 {
			opts = append(opts, websocket.WithQueueSize(n))
		}
		return websocket.New(entry.URL, opts...)
	})

	reg.RegisterTransport(config.TransportPCMFile, func(entry config.TransportEntry) (transport.Dialer, error) {
		return pcmfile.New(entry.Path)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        pcmwire startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Capture.SampleRate))
	printRow("Strategy", string(cfg.Capture.Strategy))
	printRow("Chunk size", fmt.Sprintf("%d bytes", cfg.Capture.MaxChunkSize))
	printRow("Source", string(cfg.Source.Kind))
	printRow("Transport", cfg.Transport.Label())
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Transport.Fallbacks)))
	character := cfg.Transport.CharacterID
	if character == "" {
		character = "(backend default)"
	}
	printRow("Character", character)
	if cfg.Server.ListenAddr != "" {
		printRow("Admin addr", cfg.Server.ListenAddr)
	} else {
		printRow("Admin addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a transport Options map. YAML decodes
// small integers as int. Returns 0 if the key is absent or not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
