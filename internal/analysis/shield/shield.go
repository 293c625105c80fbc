// Package shield watches a stream of screen frames and keeps the latest
// AI-content verdict. Frames are pushed by a capture client; the monitor
// analyses them on demand or at a fixed interval, one at a time.
package shield

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aisnitch/snitch/internal/analysis"
)

// Status labels reported by [Monitor.Status].
const (
	StatusReady    = "READY"
	StatusScanning = "SCANNING..."
	StatusError    = "ERROR"
)

var (
	// ErrBusy is returned by [Monitor.Scan] while another analysis is in
	// flight.
	ErrBusy = errors.New("shield: analysis in progress")

	// ErrNoFrame is returned by a [FrameSource] that has nothing to offer.
	ErrNoFrame = errors.New("shield: no frame available")
)

// FrameAnalyzer judges one JPEG frame. *analysis.Analyzer satisfies it.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, jpeg []byte) (analysis.FrameVerdict, error)
}

// FrameSource yields the frame to analyse next.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
}

// LatestFrame is a [FrameSource] holding the most recently pushed frame.
type LatestFrame struct {
	mu    sync.Mutex
	frame []byte
	at    time.Time
}

// Push replaces the held frame. The slice is retained, not copied.
func (l *LatestFrame) Push(jpeg []byte) {
	l.mu.Lock()
	l.frame = jpeg
	l.at = time.Now()
	l.mu.Unlock()
}

// Frame implements [FrameSource].
func (l *LatestFrame) Frame(context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.frame) == 0 {
		return nil, ErrNoFrame
	}
	return l.frame, nil
}

// Status is the monitor's externally visible state.
type Status struct {
	Label     string                 `json:"label"`
	Verdict   *analysis.FrameVerdict `json:"verdict,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitzero"`
	Scans     int64                  `json:"scans"`
	Skipped   int64                  `json:"skipped"`
}

// Monitor serialises frame analyses and records the outcome of the latest.
type Monitor struct {
	analyzer FrameAnalyzer
	source   FrameSource
	interval time.Duration

	busy    atomic.Bool
	scans   atomic.Int64
	skipped atomic.Int64

	mu     sync.Mutex
	status Status
}

// NewMonitor returns a Monitor that analyses frames from source. interval is
// used by [Monitor.Run]; zero or less means frames are analysed only through
// [Monitor.Scan].
func NewMonitor(an FrameAnalyzer, source FrameSource, interval time.Duration) *Monitor {
	return &Monitor{
		analyzer: an,
		source:   source,
		interval: interval,
		status:   Status{Label: StatusReady},
	}
}

// Scan analyses the current frame and returns the verdict. It returns
// [ErrBusy] without waiting when an analysis is already running.
func (m *Monitor) Scan(ctx context.Context) (analysis.FrameVerdict, error) {
	if !m.busy.CompareAndSwap(false, true) {
		m.skipped.Add(1)
		return analysis.FrameVerdict{}, ErrBusy
	}
	defer m.busy.Store(false)

	frame, err := m.source.Frame(ctx)
	if err != nil {
		return analysis.FrameVerdict{}, err
	}

	m.setStatus(func(s *Status) { s.Label = StatusScanning })
	v, err := m.analyzer.AnalyzeFrame(ctx, frame)
	m.scans.Add(1)
	if err != nil {
		slog.Warn("shield: frame analysis failed", "err", err)
		m.setStatus(func(s *Status) {
			s.Label = StatusError
			s.Error = err.Error()
			s.Verdict = nil
		})
		return analysis.FrameVerdict{}, err
	}

	m.setStatus(func(s *Status) {
		s.Label = v.Label()
		s.Error = ""
		s.Verdict = &v
	})
	return v, nil
}

// Run scans at the configured interval until ctx is done. Ticks that find an
// analysis in flight or no frame are skipped. Run returns immediately when
// no interval is configured.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.busy.Load() {
				m.skipped.Add(1)
				continue
			}
			wg.Go(func() {
				if _, err := m.Scan(ctx); err != nil && !errors.Is(err, ErrNoFrame) && !errors.Is(err, ErrBusy) {
					slog.Debug("shield: scheduled scan failed", "err", err)
				}
			})
		}
	}
}

// Status returns a snapshot of the monitor's state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := m.status
	m.mu.Unlock()
	if st.Verdict != nil {
		v := *st.Verdict
		st.Verdict = &v
	}
	st.Scans = m.scans.Load()
	st.Skipped = m.skipped.Load()
	return st
}

func (m *Monitor) setStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.status.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
}
