// Package playback schedules the model's streamed speech gaplessly on an
// output timeline.
//
// A [Scheduler] places each decoded chunk at max(cursor, now) on an [Output]
// and advances its cursor by the chunk's duration, so consecutive chunks play
// back to back however irregularly they arrive. [Scheduler.Interrupt] flushes
// everything that is queued or playing when the server signals barge-in.
//
// [Timeline] is the concrete sample-accurate Output; its Render method plugs
// straight into a device pull callback such as the one used by
// audio/portaudio.Speaker.
package playback

import "time"

// Buffer is a block of decoded mono samples ready for playback.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Voice is a handle to one scheduled buffer.
type Voice interface {
	// Stop silences the buffer immediately, whether it has started or not.
	// The buffer's ended callback does not fire after Stop. Idempotent.
	Stop()
}

// Output is an audio output with its own clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Schedule places buf so that it starts at the absolute clock position
	// max(at, Now()), with the clock read and the placement done atomically,
	// and returns the start actually used. ended, if non-nil, is called once
	// when the buffer has finished playing. It is never called with the
	// output's internal lock held.
	Schedule(buf *Buffer, at time.Duration, ended func()) (Voice, time.Duration)
}
