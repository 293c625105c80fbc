package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when any voice session setting differs. The new
	// settings apply from the next session on.
	VoiceChanged bool

	// RestartRequired lists changed keys that only take effect after a
	// process restart.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VoiceChanged = !voiceEqual(old.Voice, new.Voice)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	for _, p := range []struct {
		key      string
		old, new ProviderEntry
	}{
		{"providers.live", old.Providers.Live, new.Providers.Live},
		{"providers.analysis", old.Providers.Analysis, new.Providers.Analysis},
		{"providers.audio", old.Providers.Audio, new.Providers.Audio},
	} {
		if !reflect.DeepEqual(p.old, p.new) {
			d.RestartRequired = append(d.RestartRequired, p.key)
		}
	}
	if old.Shield.Interval != new.Shield.Interval {
		d.RestartRequired = append(d.RestartRequired, "shield.interval")
	}
	return d
}

func voiceEqual(a, b VoiceConfig) bool {
	if Enabled(a.InputTranscription) != Enabled(b.InputTranscription) ||
		Enabled(a.OutputTranscription) != Enabled(b.OutputTranscription) {
		return false
	}
	a.InputTranscription, a.OutputTranscription = nil, nil
	b.InputTranscription, b.OutputTranscription = nil, nil
	return a == b
}
