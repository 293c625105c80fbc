package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/aisnitch/snitch/pkg/audio"
)

// Microphone captures mono float32 blocks from a PortAudio input device.
type Microphone struct {
	device string
	depth  int
}

// MicOption is a functional option for [NewMicrophone].
type MicOption func(*Microphone)

// WithInputDevice selects a capture device by name. The default input device
// is used when name is empty.
func WithInputDevice(name string) MicOption {
	return func(m *Microphone) { m.device = name }
}

// WithQueueDepth sets how many blocks may be buffered between the audio
// thread and the reader before blocks are dropped. Default: 16.
func WithQueueDepth(n int) MicOption {
	return func(m *Microphone) {
		if n > 0 {
			m.depth = n
		}
	}
}

// NewMicrophone returns a PortAudio-backed [audio.Microphone].
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{depth: 16}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open implements [audio.Microphone]. Errors wrap [audio.ErrCaptureUnavailable].
func (m *Microphone) Open(ctx context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrCaptureUnavailable, err)
	}
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrCaptureUnavailable, err)
	}

	in := &inputStream{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1},
		blocks: make(chan []float32, m.depth),
	}

	var (
		stream *pa.Stream
		err    error
	)
	if m.device == "" {
		stream, err = pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.BlockSize, in.callback)
	} else {
		var dev *pa.DeviceInfo
		dev, err = findDevice(m.device, true)
		if err == nil {
			p := pa.HighLatencyParameters(dev, nil)
			p.Input.Channels = 1
			p.SampleRate = float64(cfg.SampleRate)
			p.FramesPerBuffer = cfg.BlockSize
			stream, err = pa.OpenStream(p, in.callback)
		}
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: open input stream: %w", audio.ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("%w: start input stream: %w", audio.ErrCaptureUnavailable, err)
	}

	in.stream = stream
	slog.Debug("portaudio: capture started", "device", m.device, "rate", cfg.SampleRate, "block", cfg.BlockSize)
	return in, nil
}

var _ audio.Microphone = (*Microphone)(nil)

// inputStream is an open capture stream.
type inputStream struct {
	format audio.Format
	stream *pa.Stream
	blocks chan []float32

	mu      sync.Mutex
	closed  bool
	err     error
	dropped atomic.Int64
}

// callback runs on PortAudio's audio thread.
func (s *inputStream) callback(in []float32) {
	block := make([]float32, len(in))
	copy(block, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.blocks <- block:
	default:
		s.dropped.Add(1)
	}
}

func (s *inputStream) Blocks() <-chan []float32 { return s.blocks }

func (s *inputStream) Format() audio.Format { return s.format }

func (s *inputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the device, then closes the block channel.
func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := closeStream(s.stream)
	release()

	s.mu.Lock()
	close(s.blocks)
	s.err = err
	s.mu.Unlock()

	if n := s.dropped.Load(); n > 0 {
		slog.Warn("portaudio: capture blocks dropped", "count", n)
	}
	return err
}
