package voice

import (
	"sync"

	"github.com/aisnitch/snitch/pkg/provider/live"
)

// DefaultTranscriptLines is the number of transcript lines kept per session.
const DefaultTranscriptLines = 5

// TranscriptLine is one transcribed utterance.
type TranscriptLine struct {
	Role live.Role `json:"role"`
	Text string    `json:"text"`
}

// String renders the line with a speaker label, "You: " for the user and
// "AI: " for the model.
func (l TranscriptLine) String() string {
	if l.Role == live.RoleUser {
		return "You: " + l.Text
	}
	return "AI: " + l.Text
}

// window is a rolling buffer of the most recent transcript lines.
type window struct {
	mu    sync.Mutex
	size  int
	lines []TranscriptLine
}

func newWindow(size int) *window {
	if size <= 0 {
		size = DefaultTranscriptLines
	}
	return &window{size: size}
}

func (w *window) add(line TranscriptLine) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if over := len(w.lines) - w.size; over > 0 {
		w.lines = append(w.lines[:0:0], w.lines[over:]...)
	}
}

func (w *window) snapshot() []TranscriptLine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]TranscriptLine(nil), w.lines...)
}
