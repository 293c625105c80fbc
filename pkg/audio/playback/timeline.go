package playback

import (
	"container/heap"
	"sync"
	"time"
)

var _ Output = (*Timeline)(nil)

// Timeline is a sample-accurate [Output]. Buffers are placed at absolute
// sample positions and mixed by [Timeline.Render], which also advances the
// clock. Nothing happens between Render calls: the clock is driven entirely
// by whoever pulls samples.
//
// All methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered so far
	seq    uint64
	active map[*timelineVoice]struct{}
	ends   endHeap
}

// NewTimeline returns an empty Timeline running at rate samples per second.
func NewTimeline(rate int) *Timeline {
	if rate <= 0 {
		rate = 24000
	}
	return &Timeline{
		rate:   rate,
		active: make(map[*timelineVoice]struct{}),
	}
}

// Now implements [Output].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Schedule implements [Output]. A position in the past is clamped to now.
// Buffers at a different sample rate are played at the timeline rate.
func (t *Timeline) Schedule(buf *Buffer, at time.Duration, ended func()) (Voice, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := max(t.toSamples(at), t.pos)
	t.seq++
	v := &timelineVoice{
		t:       t,
		samples: buf.Samples,
		start:   start,
		end:     start + int64(len(buf.Samples)),
		ended:   ended,
	}
	t.active[v] = struct{}{}
	heap.Push(&t.ends, endEntry{voice: v, end: v.end, seq: t.seq})
	return v, t.toDuration(start)
}

// Render fills out with the mix of every buffer overlapping the next
// len(out) samples, clamped to [-1, 1], and advances the clock. Buffers that
// finish within the rendered span are retired and their ended callbacks run
// in end order after the lock is released.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(out))
	for v := range t.active {
		lo := max(v.start, from)
		hi := min(v.end, to)
		for p := lo; p < hi; p++ {
			out[p-from] += v.samples[p-v.start]
		}
	}
	t.pos = to

	var fired []func()
	for t.ends.Len() > 0 && t.ends[0].end <= to {
		e := heap.Pop(&t.ends).(endEntry)
		if _, ok := t.active[e.voice]; !ok {
			continue
		}
		delete(t.active, e.voice)
		if e.voice.ended != nil {
			fired = append(fired, e.voice.ended)
		}
	}
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	for _, fn := range fired {
		fn()
	}
}

// Active returns the number of buffers scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Timeline) toSamples(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) toDuration(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / int64(t.rate))
}

// timelineVoice is one buffer placed on a Timeline.
type timelineVoice struct {
	t          *Timeline
	samples    []float32
	start, end int64
	ended      func()
}

// Stop implements [Voice]. The end heap entry is discarded lazily by Render.
func (v *timelineVoice) Stop() {
	v.t.mu.Lock()
	delete(v.t.active, v)
	v.t.mu.Unlock()
}
