package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aisnitch/snitch/internal/analysis"
	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a provider of type T from its configuration block.
type Factory[T any] func(ctx context.Context, entry ProviderEntry) (T, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]Factory[live.Provider]
	analysis map[string]Factory[analysis.Generator]
	mic      map[string]Factory[audio.Microphone]
	speaker  map[string]Factory[audio.Speaker]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]Factory[live.Provider]),
		analysis: make(map[string]Factory[analysis.Generator]),
		mic:      make(map[string]Factory[audio.Microphone]),
		speaker:  make(map[string]Factory[audio.Speaker]),
	}
}

// RegisterLive registers a live voice provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory Factory[live.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAnalysis registers a generateContent backend factory under name.
func (r *Registry) RegisterAnalysis(name string, factory Factory[analysis.Generator]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis[name] = factory
}

// RegisterAudio registers the microphone and speaker factories of one audio
// stack under name. speaker may be nil for capture-only stacks.
func (r *Registry) RegisterAudio(name string, mic Factory[audio.Microphone], speaker Factory[audio.Speaker]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mic[name] = mic
	if speaker != nil {
		r.speaker[name] = speaker
	}
}

// CreateLive instantiates the live provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(ctx context.Context, entry ProviderEntry) (live.Provider, error) {
	return create(ctx, r, r.live, "live", entry)
}

// CreateAnalysis instantiates the analysis backend registered under entry.Name.
func (r *Registry) CreateAnalysis(ctx context.Context, entry ProviderEntry) (analysis.Generator, error) {
	return create(ctx, r, r.analysis, "analysis", entry)
}

// CreateMicrophone instantiates the microphone of the audio stack registered
// under entry.Name.
func (r *Registry) CreateMicrophone(ctx context.Context, entry ProviderEntry) (audio.Microphone, error) {
	return create(ctx, r, r.mic, "audio", entry)
}

// CreateSpeaker instantiates the speaker of the audio stack registered under
// entry.Name. A stack registered without a speaker yields
// [ErrProviderNotRegistered].
func (r *Registry) CreateSpeaker(ctx context.Context, entry ProviderEntry) (audio.Speaker, error) {
	return create(ctx, r, r.speaker, "speaker", entry)
}

func create[T any](ctx context.Context, r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(ctx, entry)
}
