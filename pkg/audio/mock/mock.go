// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.InputStream], [audio.Speaker], and [audio.OutputStream] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewInputStream(audio.Format{SampleRate: 16000, Channels: 1}, 8)
//	mic := &mock.Microphone{Stream: stream}
//	capture := audio.NewCapture(mic, audio.CaptureConfig{})
//	stream.Push(make([]float32, 4096))
package mock

import (
	"context"
	"sync"

	"github.com/aisnitch/snitch/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open. When nil, Open creates a fresh 16 kHz mono
	// InputStream per call.
	Stream *InputStream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.InputConfig

	// Opened records every stream handed out, in order.
	Opened []*InputStream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, cfg)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := m.Stream
	if s == nil {
		s = NewInputStream(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}, 16)
	}
	m.Opened = append(m.Opened, s)
	return s, nil
}

// OpenCount returns the number of Open calls.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

var _ audio.Microphone = (*Microphone)(nil)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Tests feed
// blocks through Push.
type InputStream struct {
	mu     sync.Mutex
	format audio.Format
	blocks chan []float32
	closed bool

	// StreamErr is returned by Err.
	StreamErr error

	// CloseCount records how many times Close was called.
	CloseCount int
}

// NewInputStream returns an InputStream with the given format and block
// buffer depth.
func NewInputStream(format audio.Format, buffer int) *InputStream {
	return &InputStream{format: format, blocks: make(chan []float32, buffer)}
}

// Push delivers block as if captured by the device. It reports false when the
// stream is closed or its buffer is full.
func (s *InputStream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.blocks <- block:
		return true
	default:
		return false
	}
}

// Blocks implements [audio.InputStream].
func (s *InputStream) Blocks() <-chan []float32 { return s.blocks }

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Err implements [audio.InputStream].
func (s *InputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// Close implements [audio.InputStream]. The block channel is closed once.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if !s.closed {
		s.closed = true
		close(s.blocks)
	}
	return nil
}

// Closes returns CloseCount under the lock.
func (s *InputStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// IsClosed reports whether Close has been called.
func (s *InputStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ audio.InputStream = (*InputStream)(nil)

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker]. It never calls render
// on its own; tests pump samples through [Speaker.Pull].
type Speaker struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.OutputConfig

	render  audio.RenderFunc
	streams []*OutputStream
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, cfg audio.OutputConfig, render audio.RenderFunc) (audio.OutputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, cfg)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.render = render
	out := &OutputStream{}
	s.streams = append(s.streams, out)
	return out, nil
}

// Pull renders n samples through the registered render function and returns
// them. Returns nil when no stream is open.
func (s *Speaker) Pull(n int) []float32 {
	s.mu.Lock()
	render := s.render
	s.mu.Unlock()
	if render == nil {
		return nil
	}
	buf := make([]float32, n)
	render(buf)
	return buf
}

// Streams returns every stream handed out by Open.
func (s *Speaker) Streams() []*OutputStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*OutputStream, len(s.streams))
	copy(out, s.streams)
	return out
}

var _ audio.Speaker = (*Speaker)(nil)

// OutputStream is a mock implementation of [audio.OutputStream].
type OutputStream struct {
	mu sync.Mutex

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Close implements [audio.OutputStream].
func (o *OutputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCount++
	return nil
}

// Closes returns CloseCount under the lock.
func (o *OutputStream) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CloseCount
}

var _ audio.OutputStream = (*OutputStream)(nil)
