package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/aisnitch/snitch/pkg/audio"
)

// Speaker plays mono float32 audio on a PortAudio output device. Samples are
// pulled from the [audio.RenderFunc] on the device's clock.
type Speaker struct {
	device string
}

// SpeakerOption is a functional option for [NewSpeaker].
type SpeakerOption func(*Speaker)

// WithOutputDevice selects a playback device by name. The default output
// device is used when name is empty.
func WithOutputDevice(name string) SpeakerOption {
	return func(s *Speaker) { s.device = name }
}

// NewSpeaker returns a PortAudio-backed [audio.Speaker].
func NewSpeaker(opts ...SpeakerOption) *Speaker {
	s := &Speaker{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(ctx context.Context, cfg audio.OutputConfig, render audio.RenderFunc) (audio.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if render == nil {
		return nil, fmt.Errorf("portaudio: nil render function")
	}
	if err := acquire(); err != nil {
		return nil, err
	}

	var (
		stream *pa.Stream
		err    error
	)
	if s.device == "" {
		stream, err = pa.OpenDefaultStream(0, 1, float64(cfg.SampleRate), cfg.BlockSize, func(out []float32) {
			render(out)
		})
	} else {
		var dev *pa.DeviceInfo
		dev, err = findDevice(s.device, false)
		if err == nil {
			p := pa.LowLatencyParameters(nil, dev)
			p.Output.Channels = 1
			p.SampleRate = float64(cfg.SampleRate)
			p.FramesPerBuffer = cfg.BlockSize
			stream, err = pa.OpenStream(p, func(out []float32) {
				render(out)
			})
		}
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}

	slog.Debug("portaudio: playback started", "device", s.device, "rate", cfg.SampleRate)
	return &outputStream{stream: stream}, nil
}

var _ audio.Speaker = (*Speaker)(nil)

type outputStream struct {
	stream *pa.Stream
	once   sync.Once
	err    error
}

func (o *outputStream) Close() error {
	o.once.Do(func() {
		o.err = closeStream(o.stream)
		release()
	})
	return o.err
}
