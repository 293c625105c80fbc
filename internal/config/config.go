// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the snitch server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
	Shield    ShieldConfig    `yaml:"shield"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied again on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProvidersConfig selects the implementation behind each external
// dependency. Each Name is looked up in the [Registry].
type ProvidersConfig struct {
	// Live is the bidirectional voice session ("gemini-live" or "genai-live").
	Live ProviderEntry `yaml:"live"`

	// Analysis is the generateContent backend for chat and frame verdicts.
	Analysis ProviderEntry `yaml:"analysis"`

	// Audio is the local microphone and speaker stack ("portaudio").
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation.
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty it is filled
	// from the SNITCH_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// FallbackModels are tried in order when Model fails. Used by the
	// analysis provider.
	FallbackModels []string `yaml:"fallback_models"`

	// Options holds provider-specific values, such as audio device names.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionDuration returns Options[key] parsed as a duration string, or def
// when it is absent or malformed.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	s, ok := e.Options[key].(string)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// VoiceConfig is the voice consultation session setup. Changes are picked up
// by the next session; a running session keeps its settings.
type VoiceConfig struct {
	// VoiceName is the prebuilt voice of the model. Default: "Zephyr".
	VoiceName string `yaml:"voice_name"`

	// Instructions is the system instruction of the consultant persona.
	Instructions string `yaml:"instructions"`

	// InputTranscription and OutputTranscription request transcripts of
	// each side. Both default to true.
	InputTranscription  *bool `yaml:"input_transcription"`
	OutputTranscription *bool `yaml:"output_transcription"`

	// BlockSize is the capture block in samples. Default: 4096.
	BlockSize int `yaml:"block_size"`

	// InputSampleRate is the upstream PCM rate. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback rate. Default: 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// TranscriptLines is the rolling transcript size. Default: 5.
	TranscriptLines int `yaml:"transcript_lines"`

	// SendQueue is the outbound audio queue depth. Default: 32.
	SendQueue int `yaml:"send_queue"`
}

// ShieldConfig configures screen-frame monitoring.
type ShieldConfig struct {
	// Interval between automatic scans of the latest pushed frame. Zero
	// disables automatic scans; frames are then analysed on request only.
	Interval time.Duration `yaml:"interval"`
}

// Enabled dereferences an optional flag, treating nil as true.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}
