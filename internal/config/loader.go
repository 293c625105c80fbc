package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/aisnitch/snitch/internal/analysis"
	"github.com/aisnitch/snitch/pkg/provider/live"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv names the environment variable that supplies provider API keys
// left empty in the file.
const APIKeyEnv = "SNITCH_API_KEY"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultLiveProvider     = "gemini-live"
	DefaultAnalysisProvider = "genai"
	DefaultAudioProvider    = "portaudio"
	DefaultVoiceName        = "Zephyr"
	DefaultBlockSize        = 4096
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultTranscriptLines  = 5
	DefaultSendQueue        = 32
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":     {"gemini-live", "genai-live"},
	"analysis": {"genai"},
	"audio":    {"portaudio"},
}

// minShieldInterval is the shortest automatic scan interval accepted without
// a warning. Each scan is one generateContent request.
const minShieldInterval = time.Second

// Load reads the YAML configuration file at path, fills API keys from
// [APIKeyEnv], applies defaults and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// parse is the full load pipeline for file contents already in memory.
func parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills empty provider API keys from getenv([APIKeyEnv]).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	key := getenv(APIKeyEnv)
	if key == "" {
		return
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.Live, &cfg.Providers.Analysis} {
		if e.APIKey == "" {
			e.APIKey = key
		}
	}
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	p := &cfg.Providers
	if p.Live.Name == "" {
		p.Live.Name = DefaultLiveProvider
	}
	if p.Analysis.Name == "" {
		p.Analysis.Name = DefaultAnalysisProvider
	}
	if p.Analysis.Model == "" {
		p.Analysis.Model = analysis.DefaultModel
	}
	if p.Audio.Name == "" {
		p.Audio.Name = DefaultAudioProvider
	}

	v := &cfg.Voice
	if v.VoiceName == "" {
		v.VoiceName = DefaultVoiceName
	}
	if v.Instructions == "" {
		v.Instructions = analysis.ConsultantInstruction
	}
	if v.BlockSize == 0 {
		v.BlockSize = DefaultBlockSize
	}
	if v.InputSampleRate == 0 {
		v.InputSampleRate = DefaultInputSampleRate
	}
	if v.OutputSampleRate == 0 {
		v.OutputSampleRate = DefaultOutputSampleRate
	}
	if v.TranscriptLines == 0 {
		v.TranscriptLines = DefaultTranscriptLines
	}
	if v.SendQueue == 0 {
		v.SendQueue = DefaultSendQueue
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
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Providers
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("analysis", cfg.Providers.Analysis.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; voice sessions will be rejected", "env", APIKeyEnv)
	}
	if cfg.Providers.Analysis.APIKey == "" {
		slog.Warn("providers.analysis.api_key is empty; analysis requests will fail", "env", APIKeyEnv)
	}
	for i, m := range cfg.Providers.Analysis.FallbackModels {
		if m == "" {
			errs = append(errs, fmt.Errorf("providers.analysis.fallback_models[%d] is empty", i))
		}
	}

	// Voice
	v := cfg.Voice
	if v.VoiceName != "" && !slices.Contains(live.DefaultVoices, v.VoiceName) {
		slog.Warn("voice.voice_name is not a known prebuilt voice", "voice", v.VoiceName, "known", live.DefaultVoices)
	}
	for _, f := range []struct {
		name string
		val  int
	}{
		{"voice.block_size", v.BlockSize},
		{"voice.input_sample_rate", v.InputSampleRate},
		{"voice.output_sample_rate", v.OutputSampleRate},
		{"voice.transcript_lines", v.TranscriptLines},
		{"voice.send_queue", v.SendQueue},
	} {
		if f.val < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.val))
		}
	}
	if v.InputSampleRate > 0 && v.InputSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("voice.input_sample_rate %d is below 8000", v.InputSampleRate))
	}
	if v.OutputSampleRate > 0 && v.OutputSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("voice.output_sample_rate %d is below 8000", v.OutputSampleRate))
	}

	// Shield
	switch iv := cfg.Shield.Interval; {
	case iv < 0:
		errs = append(errs, fmt.Errorf("shield.interval %v must not be negative", iv))
	case iv > 0 && iv < minShieldInterval:
		slog.Warn("shield.interval is very short; every scan is a model request", "interval", iv)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
