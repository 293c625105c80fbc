// Command snitch is the AI Snitch server: content analysis, screen-frame
// checks, and a live voice consultant behind a small HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aisnitch/snitch/internal/analysis"
	"github.com/aisnitch/snitch/internal/app"
	"github.com/aisnitch/snitch/internal/config"
	"github.com/aisnitch/snitch/internal/observe"
	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/audio/portaudio"
	"github.com/aisnitch/snitch/pkg/provider/live"
	geminilive "github.com/aisnitch/snitch/pkg/provider/live/gemini"
	genailive "github.com/aisnitch/snitch/pkg/provider/live/genai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "snitch: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "snitch: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("snitch starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return otelShutdown(sctx)
		}),
	}

	// The watcher only polls once Run starts, after application is set.
	var application *app.App
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			application.ApplyConfig(old, new)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(_ context.Context, entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if _, ok := entry.Options["keepalive"]; ok {
			opts = append(opts, geminilive.WithKeepalive(entry.OptionDuration("keepalive", 0)))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("genai-live", func(ctx context.Context, entry config.ProviderEntry) (live.Provider, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		return genailive.New(ctx, entry.APIKey, opts...)
	})

	// ── Analysis ──────────────────────────────────────────────────────────────

	reg.RegisterAnalysis("genai", func(ctx context.Context, entry config.ProviderEntry) (analysis.Generator, error) {
		return analysis.NewGenAIGenerator(ctx, entry.APIKey, entry.BaseURL)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio",
		func(_ context.Context, entry config.ProviderEntry) (audio.Microphone, error) {
			return portaudio.NewMicrophone(portaudio.WithInputDevice(entry.OptionString("input_device"))), nil
		},
		func(_ context.Context, entry config.ProviderEntry) (audio.Speaker, error) {
			return portaudio.NewSpeaker(portaudio.WithOutputDevice(entry.OptionString("output_device"))), nil
		},
	)
}

// buildProviders instantiates the providers named in cfg. The analysis
// backend is required; a missing voice stack only disables voice.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	gen, err := reg.CreateAnalysis(ctx, cfg.Providers.Analysis)
	if err != nil {
		return nil, fmt.Errorf("create analysis provider %q: %w", cfg.Providers.Analysis.Name, err)
	}
	ps.Analysis = gen
	slog.Info("provider created", "kind", "analysis", "name", cfg.Providers.Analysis.Name)

	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("no live api key; voice consultation disabled", "env", config.APIKeyEnv)
	} else if p, err := reg.CreateLive(ctx, cfg.Providers.Live); err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	} else {
		ps.Live = p
		slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)
	}

	mic, err := reg.CreateMicrophone(ctx, cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create microphone %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Microphone = mic

	spk, err := reg.CreateSpeaker(ctx, cfg.Providers.Audio)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Info("audio stack has no speaker; model speech will not be played", "name", cfg.Providers.Audio.Name)
	case err != nil:
		return nil, fmt.Errorf("create speaker %q: %w", cfg.Providers.Audio.Name, err)
	default:
		ps.Speaker = spk
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        AI Snitch: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Analysis", cfg.Providers.Analysis.Name, cfg.Providers.Analysis.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Voice           : %-19s ║\n", cfg.Voice.VoiceName)
	if cfg.Shield.Interval > 0 {
		fmt.Printf("║  Shield interval : %-19s ║\n", cfg.Shield.Interval)
	} else {
		fmt.Printf("║  Shield interval : %-19s ║\n", "(on demand)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	val := name
	if val == "" {
		val = "(not configured)"
	} else if model != "" {
		val = name + "/" + model
	}
	if len(val) > 19 {
		val = val[:16] + "..."
	}
	fmt.Printf("║  %-16s: %-19s ║\n", kind, val)
}
