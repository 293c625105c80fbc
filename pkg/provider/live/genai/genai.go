// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai).
//
// It offers the same contract as live/gemini but lets the SDK own the wire
// protocol, which keeps the session in step with upstream protocol changes.
// Choose it with providers.live.name = "genai-live".
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gai "google.golang.org/genai"

	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	eventBuffer  = 64
)

// liveSession is the subset of *gai.Session used by this package.
type liveSession interface {
	SendRealtimeInput(input gai.LiveRealtimeInput) error
	Receive() (*gai.LiveServerMessage, error)
	Close() error
}

// connectFunc opens an SDK live session.
type connectFunc func(ctx context.Context, model string, cfg *gai.LiveConnectConfig) (liveSession, error)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the live model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the SDK's API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider using the Gen AI SDK's Live client.
type Provider struct {
	model   string
	baseURL string
	connect connectFunc
}

// New creates a Provider authenticated with apiKey against the Gemini API
// backend.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}

	cc := &gai.ClientConfig{
		APIKey:  apiKey,
		Backend: gai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = gai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := gai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}
	p.connect = func(ctx context.Context, model string, cfg *gai.LiveConnectConfig) (liveSession, error) {
		return client.Live.Connect(ctx, model, cfg)
	}
	return p, nil
}

// Capabilities returns static metadata about the provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           live.DefaultVoices,
	}
}

// Connect opens an SDK live session configured for audio responses.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	cfg = cfg.WithDefaults()

	ls, err := p.connect(ctx, p.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	sess := &session{
		Emitter: live.NewEmitter(eventBuffer),
		ls:      ls,
		sendQ:   make(chan audio.WireChunk, cfg.SendQueue),
		opened:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go sess.receiveLoop()
	go sess.writeLoop()
	return sess, nil
}

// connectConfig maps a session configuration to the SDK's connect options.
func connectConfig(cfg live.SessionConfig) *gai.LiveConnectConfig {
	lc := &gai.LiveConnectConfig{
		ResponseModalities: []gai.Modality{gai.ModalityAudio},
		SpeechConfig: &gai.SpeechConfig{
			VoiceConfig: &gai.VoiceConfig{
				PrebuiltVoiceConfig: &gai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &gai.Content{Parts: []*gai.Part{{Text: cfg.Instructions}}}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &gai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &gai.AudioTranscriptionConfig{}
	}
	return lc
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	*live.Emitter

	ls       liveSession
	sendQ    chan audio.WireChunk
	opened   chan struct{}
	openOnce sync.Once
	done     chan struct{}

	mu         sync.Mutex
	failure    error
	userClosed bool
	closeOnce  sync.Once
}

func (s *session) receiveLoop() {
	var recvErr error
	for {
		msg, err := s.ls.Receive()
		if err != nil {
			recvErr = err
			break
		}
		if !s.handle(msg) {
			break
		}
	}
	s.shutdown()
	s.Finish(s.terminalError(recvErr))
}

func (s *session) terminalError(recvErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.userClosed:
		return nil
	case s.failure != nil:
		return s.failure
	case recvErr != nil:
		return fmt.Errorf("genai: receive: %w", recvErr)
	default:
		return nil
	}
}

// handle emits the events carried by msg. It returns false when the session
// must end.
func (s *session) handle(msg *gai.LiveServerMessage) bool {
	if msg == nil {
		return true
	}
	if msg.SetupComplete != nil {
		s.openOnce.Do(func() {
			close(s.opened)
			s.Open()
		})
	}
	if msg.GoAway != nil {
		slog.Warn("genai: server is about to close the session")
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.Emit(live.Event{Kind: live.EventTranscript, Role: live.RoleModel, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.Emit(live.Event{Kind: live.EventTranscript, Role: live.RoleUser, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			rate, ok := audio.ParsePCMMIMEType(p.InlineData.MIMEType)
			if !ok {
				rate = audio.OutputSampleRate
			}
			if !s.Emit(live.Event{Kind: live.EventAudio, Audio: p.InlineData.Data, SampleRate: rate}) {
				return false
			}
		}
	}
	if sc.Interrupted && !s.Emit(live.Event{Kind: live.EventInterrupted}) {
		return false
	}
	if sc.TurnComplete && !s.Emit(live.Event{Kind: live.EventTurnComplete}) {
		return false
	}
	return true
}

func (s *session) writeLoop() {
	select {
	case <-s.opened:
	case <-s.done:
		return
	}
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.sendQ:
			pcm, err := audio.DecodeBase64(chunk.Data)
			if err != nil {
				slog.Warn("genai: dropping undecodable outbound chunk", "err", err)
				continue
			}
			err = s.ls.SendRealtimeInput(gai.LiveRealtimeInput{
				Media: &gai.Blob{Data: pcm, MIMEType: chunk.MIMEType},
			})
			if err != nil {
				s.mu.Lock()
				if s.failure == nil && !s.userClosed {
					s.failure = fmt.Errorf("genai: send: %w", err)
				}
				s.mu.Unlock()
				s.shutdown()
				return
			}
		}
	}
}

// shutdown stops the writer and closes the SDK session once, which unblocks
// Receive.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ls.Close()
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// Send enqueues chunk for the writer goroutine. It never blocks.
func (s *session) Send(chunk audio.WireChunk) bool {
	if s.State() != live.StateOpen {
		return false
	}
	select {
	case s.sendQ <- chunk:
		return true
	default:
		return false
	}
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.userClosed {
		s.mu.Unlock()
		return nil
	}
	s.userClosed = true
	s.mu.Unlock()

	s.Abort()
	s.shutdown()
	return nil
}
