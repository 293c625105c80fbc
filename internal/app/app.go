// Package app wires the snitch subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the voice controller,
// the analyzer and the shield monitor from the config and the providers,
// Run serves HTTP and runs the background loops, and Shutdown tears
// everything down in order.
//
// Providers are constructed by the caller (usually through the config
// registry), so tests inject mocks directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aisnitch/snitch/internal/analysis"
	"github.com/aisnitch/snitch/internal/analysis/shield"
	"github.com/aisnitch/snitch/internal/config"
	"github.com/aisnitch/snitch/internal/observe"
	"github.com/aisnitch/snitch/internal/voice"
	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

// Providers holds one interface value per provider slot. Live and Microphone
// may be nil, in which case the voice routes answer 503.
type Providers struct {
	Live       live.Provider
	Analysis   analysis.Generator
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	watcher  *config.Watcher

	voice    *voice.Controller
	analyzer *analysis.Analyzer
	frames   *shield.LatestFrame
	monitor  *shield.Monitor

	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable of the process logger so hot
// reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithWatcher makes Run poll the config file. The watcher's callback should
// forward to [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithCloser registers fn to run at the end of Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg and providers. cfg is expected to have passed
// [config.ApplyDefaults].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Analysis == nil {
		return nil, errors.New("app: analysis provider is required")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	an, err := analysis.New(analysis.Config{
		Generator:      providers.Analysis,
		Model:          cfg.Providers.Analysis.Model,
		FallbackModels: cfg.Providers.Analysis.FallbackModels,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init analysis: %w", err)
	}
	a.analyzer = an

	a.frames = &shield.LatestFrame{}
	a.monitor = shield.NewMonitor(an, a.frames, cfg.Shield.Interval)

	if providers.Live != nil && providers.Microphone != nil {
		a.voice = voice.NewController(voice.Config{
			Provider:   providers.Live,
			Microphone: providers.Microphone,
			Speaker:    providers.Speaker,
			Settings:   VoiceSettings(cfg.Voice),
			Metrics:    a.metrics,
		})
	} else {
		slog.WarnContext(ctx, "voice consultation disabled; live provider or microphone missing")
	}

	a.handler = observe.Middleware(a.metrics)(a.routes())
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Handler returns the instrumented HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Voice returns the voice controller, or nil when voice is disabled.
func (a *App) Voice() *voice.Controller { return a.voice }

// Run listens on the configured address and blocks until ctx is cancelled
// or the server fails. The config watcher and the shield sampler run
// alongside the server. Shutdown is called before Run returns.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The background loops stop when the server does.
		defer cancel()
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})
	g.Go(func() error { return a.monitor.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	return g.Wait()
}

// ApplyConfig applies a reloaded config. Log level and voice settings take
// effect immediately (voice from the next session on); other changes are
// logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged && a.voice != nil {
		a.voice.Reconfigure(VoiceSettings(new.Voice))
		slog.Info("voice settings reloaded; applied from the next session")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// Shutdown stops the voice session, drains HTTP connections, and runs the
// registered closers. It respects the context deadline: if ctx expires
// before all closers finish, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.voice != nil {
			if err := a.voice.Stop(); err != nil {
				slog.Warn("voice stop error", "err", err)
			}
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// VoiceSettings converts the voice section of the config into controller
// settings.
func VoiceSettings(vc config.VoiceConfig) voice.Settings {
	return voice.Settings{
		Session: live.SessionConfig{
			Voice:               vc.VoiceName,
			Instructions:        vc.Instructions,
			InputTranscription:  config.Enabled(vc.InputTranscription),
			OutputTranscription: config.Enabled(vc.OutputTranscription),
			SendQueue:           vc.SendQueue,
		},
		BlockSize:        vc.BlockSize,
		InputSampleRate:  vc.InputSampleRate,
		OutputSampleRate: vc.OutputSampleRate,
		TranscriptLines:  vc.TranscriptLines,
	}
}

// SlogLevel maps a config log level onto slog. Unknown values map to Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
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
