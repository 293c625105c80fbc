// Package audio defines the audio types, codecs, and device abstractions of
// the voice consultation pipeline.
//
// The two device abstractions are:
//
//   - [Microphone] opens an [InputStream] that delivers fixed-size blocks of
//     floating-point samples from the default (or a named) capture device.
//   - [Speaker] opens an [OutputStream] that pulls rendered samples from a
//     [RenderFunc] on the device's own clock.
//
// Concrete devices live in sub-packages (audio/portaudio); audio/mock provides
// test doubles.
package audio

import (
	"context"
	"errors"
)

// ErrCaptureUnavailable is returned when the microphone cannot be acquired,
// either because access was denied or no capture device exists.
var ErrCaptureUnavailable = errors.New("audio: capture unavailable")

// InputConfig is the requested capture format.
type InputConfig struct {
	// SampleRate in Hz. The device may deliver a different rate; the actual
	// rate is reported by [InputStream.Format].
	SampleRate int

	// Channels is the requested channel count (1 for the voice pipeline).
	Channels int

	// BlockSize is the number of frames per delivered block.
	BlockSize int
}

// InputStream is an open capture device.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Blocks returns the channel of captured blocks, in capture order. Each
	// block is owned by the receiver. The channel is closed when the stream is
	// closed or the device fails; check [InputStream.Err] afterwards.
	Blocks() <-chan []float32

	// Format reports the actual sample rate and channel count of the blocks.
	Format() Format

	// Err returns the error that ended the stream, or nil.
	Err() error

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	// Open acquires the capture device. Errors should wrap
	// [ErrCaptureUnavailable].
	Open(ctx context.Context, cfg InputConfig) (InputStream, error)
}

// OutputConfig is the requested playback format.
type OutputConfig struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// RenderFunc fills out with the next len(out) mono samples of the output
// timeline. It is invoked from the device's audio thread and must not block.
type RenderFunc func(out []float32)

// OutputStream is an open playback device.
type OutputStream interface {
	// Close stops playback and releases the device. Idempotent.
	Close() error
}

// Speaker opens playback streams.
type Speaker interface {
	// Open starts a playback stream that calls render for every device
	// buffer until the stream is closed.
	Open(ctx context.Context, cfg OutputConfig, render RenderFunc) (OutputStream, error)
}
