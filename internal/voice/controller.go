// Package voice runs the voice consultation session: it owns the microphone,
// the live model session, and the playback timeline for exactly one session at
// a time, and keeps a short rolling transcript of the conversation.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aisnitch/snitch/internal/observe"
	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/audio/playback"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

var (
	// ErrDoubleStart is returned by [Controller.Start] while a session is
	// connecting or active.
	ErrDoubleStart = errors.New("voice: session already running")

	// ErrConnection wraps transport failures, both on connect and when an
	// open session drops. There is no automatic reconnect.
	ErrConnection = errors.New("voice: connection failed")

	errServerClosed = errors.New("session closed by server")
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings is the per-session configuration. Changes made with
// [Controller.Reconfigure] apply from the next Start.
type Settings struct {
	Session live.SessionConfig

	// BlockSize is the capture block size in samples. Default: 4096.
	BlockSize int

	// InputSampleRate is the upstream PCM rate. Default: 16000.
	InputSampleRate int

	// OutputSampleRate is the playback rate. Default: 24000.
	OutputSampleRate int

	// TranscriptLines is the size of the rolling transcript. Default: 5.
	TranscriptLines int
}

// WithDefaults returns a copy of s with zero fields set to their defaults.
func (s Settings) WithDefaults() Settings {
	s.Session = s.Session.WithDefaults()
	if s.BlockSize <= 0 {
		s.BlockSize = audio.DefaultBlockSize
	}
	if s.InputSampleRate <= 0 {
		s.InputSampleRate = audio.InputSampleRate
	}
	if s.OutputSampleRate <= 0 {
		s.OutputSampleRate = audio.OutputSampleRate
	}
	if s.TranscriptLines <= 0 {
		s.TranscriptLines = DefaultTranscriptLines
	}
	return s
}

// Config holds the dependencies of a [Controller].
type Config struct {
	Provider   live.Provider
	Microphone audio.Microphone

	// Speaker is optional. Without one, model audio is still scheduled but
	// never rendered.
	Speaker audio.Speaker

	Settings Settings

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State            `json:"state"`
	SessionID  string           `json:"session_id,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitzero"`
	Transcript []TranscriptLine `json:"transcript"`
	BacklogMS  int64            `json:"backlog_ms"`
	LastError  string           `json:"last_error,omitempty"`
}

// Controller manages the lifecycle of the voice session. Only one session
// exists at a time. All exported methods are safe for concurrent use.
type Controller struct {
	provider live.Provider
	mic      audio.Microphone
	speaker  audio.Speaker
	metrics  *observe.Metrics

	mu       sync.Mutex
	settings Settings
	state    State
	cur      *session
	lastErr  error
}

// NewController returns an idle Controller.
func NewController(cfg Config) *Controller {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Controller{
		provider: cfg.Provider,
		mic:      cfg.Microphone,
		speaker:  cfg.Speaker,
		metrics:  m,
		settings: cfg.Settings.WithDefaults(),
	}
}

// session holds everything acquired for one voice session. Fields set during
// acquisition are owned by Start until attached is set under Controller.mu.
type session struct {
	id      string
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc

	// settled is closed once Start has either attached the session or
	// released what it acquired.
	settled  chan struct{}
	loopDone chan struct{}
	attached bool

	transcript *window
	outRate    int

	capture  *audio.Capture
	timeline *playback.Timeline
	sched    *playback.Scheduler
	out      audio.OutputStream
	handle   live.SessionHandle

	releaseOnce sync.Once
	releaseErr  error
	counted     bool
	metrics     *observe.Metrics
}

// Start acquires the microphone, opens playback, and connects the live
// session. Captured audio starts flowing to the model once the session
// reports open.
//
// Start returns [ErrDoubleStart] unless the controller is idle, an error
// wrapping [audio.ErrCaptureUnavailable] when the microphone cannot be
// acquired, and an error wrapping [ErrConnection] when the transport fails.
// On any failure everything acquired so far is released and the controller
// returns to idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return ErrDoubleStart
	}
	settings := c.settings
	connectCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:         uuid.NewString(),
		started:    time.Now().UTC(),
		cancel:     cancel,
		settled:    make(chan struct{}),
		transcript: newWindow(settings.TranscriptLines),
		outRate:    settings.OutputSampleRate,
		metrics:    c.metrics,
	}
	s.ctx = observe.WithSessionID(context.Background(), s.id)
	c.cur = s
	c.state = StateConnecting
	c.lastErr = nil
	c.mu.Unlock()

	err := c.acquire(observe.WithSessionID(connectCtx, s.id), s, settings)

	c.mu.Lock()
	if err == nil && c.cur != s {
		err = fmt.Errorf("voice: start: %w", context.Canceled)
	}
	if err != nil {
		if c.cur == s {
			c.cur = nil
			c.state = StateIdle
		}
		c.mu.Unlock()
		_ = s.release()
		close(s.settled)
		observe.Logger(s.ctx).Warn("voice: start failed", "err", err)
		return err
	}
	s.attached = true
	s.loopDone = make(chan struct{})
	s.counted = true
	c.metrics.ActiveSessions.Add(s.ctx, 1)
	c.mu.Unlock()
	close(s.settled)

	observe.Logger(s.ctx).Info("voice session connecting",
		"voice", settings.Session.Voice,
		"input_rate", settings.InputSampleRate,
		"output_rate", settings.OutputSampleRate,
	)
	go c.run(s)
	return nil
}

// acquire opens the capture path, the playback device, and the transport, in
// that order, recording each on s as it succeeds.
func (c *Controller) acquire(ctx context.Context, s *session, set Settings) error {
	s.capture = audio.NewCapture(c.mic, audio.CaptureConfig{
		BlockSize: set.BlockSize,
		Target:    audio.Format{SampleRate: set.InputSampleRate, Channels: 1},
	})
	if err := s.capture.Open(ctx); err != nil {
		return fmt.Errorf("voice: %w", err)
	}

	s.timeline = playback.NewTimeline(set.OutputSampleRate)
	s.sched = playback.NewScheduler(s.timeline,
		playback.WithFormat(set.OutputSampleRate, 1),
		playback.WithDropHook(func(error) {
			c.metrics.RecordDecodeFailure(s.ctx, "pcm")
		}),
	)
	if c.speaker != nil {
		out, err := c.speaker.Open(ctx, audio.OutputConfig{
			SampleRate: set.OutputSampleRate,
			Channels:   1,
		}, s.timeline.Render)
		if err != nil {
			return fmt.Errorf("voice: open speaker: %w", err)
		}
		s.out = out
	}

	cfg := set.Session
	cfg.OnMalformed = func(error) {
		c.metrics.RecordDecodeFailure(s.ctx, "wire")
	}
	handle, err := c.provider.Connect(ctx, cfg)
	if err != nil {
		c.metrics.RecordProviderError(s.ctx, "live", "connect")
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s.handle = handle
	return nil
}

// run consumes transport events in order until the event stream closes, then
// ends the session.
func (c *Controller) run(s *session) {
	defer close(s.loopDone)
	log := observe.Logger(s.ctx)

	var cause error
	for ev := range s.handle.Events() {
		switch ev.Kind {
		case live.EventOpen:
			c.activate(s)
			log.Info("voice session open")
		case live.EventTranscript:
			if ev.Text != "" {
				s.transcript.add(TranscriptLine{Role: ev.Role, Text: ev.Text})
			}
		case live.EventAudio:
			s.play(ev)
		case live.EventInterrupted:
			s.sched.Interrupt()
			c.metrics.Interruptions.Add(s.ctx, 1)
			log.Debug("voice: playback interrupted")
		case live.EventTurnComplete:
			log.Debug("voice: turn complete")
		case live.EventError:
			cause = ev.Err
			c.metrics.RecordProviderError(s.ctx, "live", "session")
			log.Warn("voice: session error", "err", ev.Err)
		case live.EventClosed:
			log.Debug("voice: session closed by transport")
		}
	}
	c.finish(s, cause)
}

// activate moves a connecting session to active and starts forwarding
// captured audio.
func (c *Controller) activate(s *session) {
	c.mu.Lock()
	if c.cur == s && c.state == StateConnecting {
		c.state = StateActive
	}
	c.mu.Unlock()

	s.capture.Forward(func(chunk audio.WireChunk) {
		if s.handle.Send(chunk) {
			c.metrics.ChunksSent.Add(s.ctx, 1)
			return
		}
		c.metrics.RecordChunkDropped(s.ctx, "send_queue")
	})
}

// play schedules one inbound audio chunk, resampling when the transport
// reports a rate other than the timeline's.
func (s *session) play(ev live.Event) {
	pcm := ev.Audio
	if ev.SampleRate > 0 && ev.SampleRate != s.outRate {
		if len(pcm)%2 == 0 {
			pcm = audio.ResampleMono16(pcm, ev.SampleRate, s.outRate)
		}
	}
	if _, err := s.sched.Enqueue(pcm); err != nil {
		return
	}
	s.metrics.PlaybackBacklog.Record(s.ctx, s.sched.Backlog().Seconds())
}

// finish ends s after its event stream closed. When the session is still
// current this is an implicit Stop.
func (c *Controller) finish(s *session, cause error) {
	c.mu.Lock()
	current := c.cur == s
	if current {
		c.cur = nil
		c.state = StateIdle
		if cause == nil {
			cause = errServerClosed
		}
		c.lastErr = fmt.Errorf("%w: %w", ErrConnection, cause)
	}
	c.mu.Unlock()

	_ = s.release()
	if current {
		observe.Logger(s.ctx).Warn("voice session ended", "err", cause)
	}
}

// Stop ends the current session. It is safe in any state and idempotent. A
// Start still connecting is cancelled and releases what it acquired before
// Stop returns.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.cur
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.cur = nil
	c.state = StateIdle
	c.mu.Unlock()

	s.cancel()
	<-s.settled
	err := s.release()
	if s.loopDone != nil {
		<-s.loopDone
	}
	observe.Logger(s.ctx).Info("voice session stopped")
	return err
}

// release frees every resource of s exactly once. Transport close errors are
// logged only; an already closed transport is not a failure.
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		log := observe.Logger(s.ctx)
		var errs []error
		if s.capture != nil {
			if err := s.capture.Close(); err != nil {
				errs = append(errs, fmt.Errorf("voice: close capture: %w", err))
			}
		}
		if s.handle != nil {
			if err := s.handle.Close(); err != nil {
				log.Warn("voice: close transport", "err", err)
			}
		}
		if s.sched != nil {
			s.sched.Stop()
		}
		if s.out != nil {
			if err := s.out.Close(); err != nil {
				errs = append(errs, fmt.Errorf("voice: close speaker: %w", err))
			}
		}
		s.cancel()
		if s.counted {
			s.metrics.ActiveSessions.Add(s.ctx, -1)
		}
		s.releaseErr = errors.Join(errs...)
		if s.releaseErr != nil {
			log.Warn("voice: release", "err", s.releaseErr)
		}
	})
	return s.releaseErr
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the rolling transcript of the current session, oldest
// first. It is empty when no session is running.
func (c *Controller) Transcript() []TranscriptLine {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.transcript.snapshot()
}

// Snapshot returns the controller's status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Transcript: []TranscriptLine{}}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	s := c.cur
	if s == nil {
		return st
	}
	st.SessionID = s.id
	st.StartedAt = s.started
	st.Transcript = s.transcript.snapshot()
	if s.attached {
		st.BacklogMS = s.sched.Backlog().Milliseconds()
	}
	return st
}

// Reconfigure replaces the session settings. A running session keeps the
// settings it started with.
func (c *Controller) Reconfigure(set Settings) {
	c.mu.Lock()
	c.settings = set.WithDefaults()
	c.mu.Unlock()
	slog.Info("voice: settings updated", "voice", set.Session.Voice)
}

// Settings returns the settings the next session will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}
