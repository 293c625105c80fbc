package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aisnitch/snitch/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
voice:
  voice_name: Zephyr
`

const watcherUpdatedYAML = `
server:
  log_level: debug
voice:
  voice_name: Kore
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

const pollInterval = 20 * time.Millisecond

func noEnv(string) string { return "" }

// reloads records watcher callbacks.
type reloads struct {
	mu    sync.Mutex
	calls [][2]*config.Config
	fired chan struct{}
}

func newReloads() *reloads { return &reloads{fired: make(chan struct{}, 16)} }

func (r *reloads) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *reloads) last() (old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.calls[len(r.calls)-1]
	return c[0], c[1]
}

func (r *reloads) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
}

// watchFile writes content to a temp config file and returns a running
// watcher for it. The watcher stops when the test ends.
func watchFile(t *testing.T, content string, r *reloads) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, content, 0)

	w, err := config.NewWatcher(path, r.onChange, config.WithInterval(pollInterval), config.WithEnv(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, path
}

// rewrite replaces the file content and moves its mtime by bump, so coarse
// filesystem timestamps still register the change.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if bump == 0 {
		return
	}
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestNewWatcher_LoadsWithDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, watcherValidYAML, 0)

	w, err := config.NewWatcher(path, nil, config.WithEnv(func(k string) string {
		if k == config.APIKeyEnv {
			return "env-key"
		}
		return ""
	}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	cur := w.Current()
	if cur.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cur.Server.LogLevel)
	}
	if cur.Voice.BlockSize != config.DefaultBlockSize {
		t.Errorf("block_size = %d, want default %d", cur.Voice.BlockSize, config.DefaultBlockSize)
	}
	if got := cur.Providers.Live.APIKey; got != "env-key" {
		t.Errorf("live api_key = %q, want env-key", got)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Error("missing file: want error")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, watcherInvalidYAML, 0)
	if _, err := config.NewWatcher(path, nil, config.WithEnv(noEnv)); err == nil {
		t.Error("invalid file: want error")
	}
}

func TestWatcher_ReloadsChangedContent(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := watchFile(t, watcherValidYAML, r)

	rewrite(t, path, watcherUpdatedYAML, 2*time.Second)
	r.wait(t)

	old, cur := r.last()
	if old.Voice.VoiceName != "Zephyr" || cur.Voice.VoiceName != "Kore" {
		t.Errorf("voice_name: old %q, new %q", old.Voice.VoiceName, cur.Voice.VoiceName)
	}
	if d := config.Diff(old, cur); !d.LogLevelChanged || !d.VoiceChanged {
		t.Errorf("Diff = %+v, want log level and voice changes", d)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_InvalidEditThenFix(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := watchFile(t, watcherValidYAML, r)

	rewrite(t, path, watcherInvalidYAML, 2*time.Second)
	time.Sleep(10 * pollInterval)
	if n := r.count(); n != 0 {
		t.Fatalf("invalid edit fired %d reloads", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Fatalf("Current() log_level = %q, want the previous info", got)
	}

	rewrite(t, path, watcherUpdatedYAML, 4*time.Second)
	r.wait(t)
	if old, _ := r.last(); old.Server.LogLevel != config.LogInfo {
		t.Errorf("old config log_level = %q, want the last valid info", old.Server.LogLevel)
	}
	time.Sleep(5 * pollInterval)
	if n := r.count(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	r := newReloads()
	_, path := watchFile(t, watcherValidYAML, r)

	rewrite(t, path, watcherValidYAML, time.Second)
	time.Sleep(10 * pollInterval)
	if n := r.count(); n != 0 {
		t.Errorf("touch fired %d reloads", n)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, watcherValidYAML, 0)

	w, err := config.NewWatcher(path, nil, config.WithEnv(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
