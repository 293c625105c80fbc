package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/aisnitch/snitch/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(validConfig(), validConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got %+v", d)
	}
	if d.VoiceChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.VoiceConfig)
		want   bool
	}{
		{"voice name", func(v *config.VoiceConfig) { v.VoiceName = "Kore" }, true},
		{"instructions", func(v *config.VoiceConfig) { v.Instructions = "Shorter." }, true},
		{"transcription off", func(v *config.VoiceConfig) { off := false; v.OutputTranscription = &off }, true},
		{"explicit true equals default", func(v *config.VoiceConfig) { on := true; v.InputTranscription = &on }, false},
		{"transcript lines", func(v *config.VoiceConfig) { v.TranscriptLines = 10 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := validConfig(), validConfig()
			tt.mutate(&new.Voice)
			if got := config.Diff(old, new).VoiceChanged; got != tt.want {
				t.Errorf("VoiceChanged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := validConfig(), validConfig()
	new.Server.ListenAddr = ":9999"
	new.Providers.Analysis.FallbackModels = []string{"gemini-2.5-flash"}
	new.Shield.Interval = 3 * time.Second

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "providers.analysis", "shield.interval"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("Empty() = true for a diff with restart keys")
	}
}
