package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureConfig configures a [Capture].
type CaptureConfig struct {
	// BlockSize is the number of samples per processed block. Default: 4096.
	BlockSize int

	// Target is the wire format. Default: 16000 Hz mono.
	Target Format
}

// Capture is the microphone half of the voice pipeline. It holds the input
// device open for its lifetime, converts each captured block to 16-bit PCM
// in the target format, encodes it, and hands the resulting [WireChunk] to
// the sink in capture order.
//
// Blocks captured before [Capture.Forward] is called are discarded.
type Capture struct {
	mic Microphone
	cfg CaptureConfig

	sink atomic.Pointer[func(WireChunk)]

	mu     sync.Mutex
	stream InputStream
	closed bool
	done   chan struct{}

	// blocks counts processed blocks; read by tests and metrics.
	blocks atomic.Int64
}

// NewCapture returns a Capture that will read from mic.
func NewCapture(mic Microphone, cfg CaptureConfig) *Capture {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Target.SampleRate <= 0 {
		cfg.Target.SampleRate = InputSampleRate
	}
	if cfg.Target.Channels <= 0 {
		cfg.Target.Channels = 1
	}
	return &Capture{mic: mic, cfg: cfg}
}

// Open acquires the microphone and starts the block-processing goroutine.
// Any failure is reported as an error wrapping [ErrCaptureUnavailable] and
// leaves nothing open.
func (c *Capture) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: capture closed", ErrCaptureUnavailable)
	}
	if c.stream != nil {
		return nil
	}

	stream, err := c.mic.Open(ctx, InputConfig{
		SampleRate: c.cfg.Target.SampleRate,
		Channels:   c.cfg.Target.Channels,
		BlockSize:  c.cfg.BlockSize,
	})
	if err != nil {
		if errors.Is(err, ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if ctx.Err() != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, ctx.Err())
	}

	c.stream = stream
	c.done = make(chan struct{})
	go c.pump(stream, c.done)
	return nil
}

// Forward routes every subsequently processed block to sink. sink is called
// sequentially from the capture goroutine and must not block.
func (c *Capture) Forward(sink func(WireChunk)) {
	c.sink.Store(&sink)
}

// Blocks returns the number of blocks processed so far.
func (c *Capture) Blocks() int64 {
	return c.blocks.Load()
}

// pump converts blocks until the stream's channel is closed.
func (c *Capture) pump(stream InputStream, done chan struct{}) {
	defer close(done)

	format := stream.Format()
	conv := FormatConverter{Target: c.cfg.Target}
	var pos time.Duration

	for block := range stream.Blocks() {
		frame := AudioFrame{
			Data:       FloatToPCM16(block),
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  pos,
		}
		pos += frame.Duration()

		frame, err := conv.Convert(frame)
		if err != nil || len(frame.Data) == 0 {
			continue
		}
		c.blocks.Add(1)

		if sink := c.sink.Load(); sink != nil {
			(*sink)(NewWireChunk(frame))
		}
	}

	if err := stream.Err(); err != nil {
		slog.Warn("audio capture stream ended with error", "err", err)
	}
}

// Close releases the microphone. It is safe to call on an unopened or already
// closed Capture; the device is released exactly once.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream, done := c.stream, c.done
	c.stream = nil
	c.mu.Unlock()

	c.sink.Store(nil)
	if stream == nil {
		return nil
	}
	err := stream.Close()
	<-done
	return err
}
