package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aisnitch/snitch/pkg/audio"
)

// ErrMalformedChunk is returned by [Scheduler.Enqueue] for PCM data that
// cannot be decoded. The chunk is dropped; later chunks are unaffected.
var ErrMalformedChunk = errors.New("playback: malformed chunk")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithFormat sets the sample rate and channel count of incoming PCM.
// Default: 24000 Hz mono. Multi-channel input is downmixed.
func WithFormat(rate, channels int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// WithDropHook registers fn to be called for every chunk rejected as
// malformed. fn must not block.
func WithDropHook(fn func(err error)) Option {
	return func(s *Scheduler) { s.onDrop = fn }
}

// Scheduler places decoded speech chunks back to back on an [Output].
//
// The cursor is the position where the next chunk will start, counted in
// samples so that it never drifts from the output clock. It advances from
// the start the output actually used, and never moves backwards except on
// [Scheduler.Interrupt], which resets it to the output's current time (never
// to zero, since the output clock keeps running for the life of the device).
//
// All exported methods are safe for concurrent use; Enqueue and Interrupt are
// serialised by a single mutex.
type Scheduler struct {
	out      Output
	rate     int
	channels int
	onDrop   func(error)

	mu      sync.Mutex
	cursor  int64 // samples at rate
	next    uint64
	tracked map[uint64]Voice
}

// NewScheduler returns a Scheduler writing to out.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		rate:     audio.OutputSampleRate,
		channels: 1,
		tracked:  make(map[uint64]Voice),
	}
	for _, o := range opts {
		o(s)
	}
	s.cursor = s.toSamples(out.Now())
	return s
}

// Enqueue decodes pcm (little-endian int16) and schedules it to start at
// max(cursor, now). The cursor then advances by the chunk's duration and the
// chunk stays tracked until it has finished playing.
//
// Empty chunks are ignored. Malformed chunks are logged, reported to the drop
// hook, and returned as an error wrapping [ErrMalformedChunk].
func (s *Scheduler) Enqueue(pcm []byte) (time.Duration, error) {
	chans, err := audio.DecodePCM16(pcm, s.channels)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedChunk, err)
		slog.Warn("playback: dropping chunk", "bytes", len(pcm), "err", err)
		if s.onDrop != nil {
			s.onDrop(err)
		}
		return 0, err
	}

	buf := &Buffer{Samples: downmix(chans), SampleRate: s.rate}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.toDuration(max(s.cursor, s.toSamples(s.out.Now())))
	if len(buf.Samples) == 0 {
		return at, nil
	}

	s.next++
	id := s.next
	v, start := s.out.Schedule(buf, at, func() { s.retire(id) })
	s.tracked[id] = v
	s.cursor = s.toSamples(start) + int64(len(buf.Samples))
	return start, nil
}

// Interrupt stops and discards every tracked chunk and resets the cursor to
// the output's current time. The next Enqueue starts immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Stop flushes playback as [Scheduler.Interrupt] does. It is called when the
// session ends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Cursor returns the position at which the next chunk would start, ignoring
// the output clock.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDuration(s.cursor)
}

// Tracked returns the number of chunks currently scheduled or playing.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Backlog returns how much scheduled audio has not been played yet.
func (s *Scheduler) Backlog() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.toDuration(s.cursor)-s.out.Now(), 0)
}

func (s *Scheduler) flushLocked() {
	for id, v := range s.tracked {
		v.Stop()
		delete(s.tracked, id)
	}
	s.cursor = s.toSamples(s.out.Now())
}

// toSamples rounds d to the nearest sample; toDuration truncates, so the pair
// round-trips exactly.
func (s *Scheduler) toSamples(d time.Duration) int64 {
	return (int64(d)*int64(s.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (s *Scheduler) toDuration(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / int64(s.rate))
}

// retire is the ended callback of a scheduled chunk. It runs outside the
// output's lock.
func (s *Scheduler) retire(id uint64) {
	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()
}

// downmix averages channels into one mono slice.
func downmix(chans [][]float32) []float32 {
	if len(chans) == 1 {
		return chans[0]
	}
	if len(chans) == 0 {
		return nil
	}
	out := make([]float32, len(chans[0]))
	for _, ch := range chans {
		for i, s := range ch {
			out[i] += s
		}
	}
	scale := 1 / float32(len(chans))
	for i := range out {
		out[i] *= scale
	}
	return out
}
