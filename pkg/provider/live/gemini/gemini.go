// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It holds a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio goes out as base64 PCM media chunks through a bounded
// queue; synthesised speech, transcripts, and interruption signals come back
// as [live.Event] values in the order the server sent them.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithKeepalive overrides the interval between WebSocket pings. A zero or
// negative interval disables keepalive.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	keepalive time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		keepalive: keepaliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           live.DefaultVoices,
	}
}

// Connect dials the Gemini Live endpoint and sends the setup message. The
// session emits [live.EventOpen] once the server acknowledges the setup.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	cfg = cfg.WithDefaults()

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Model audio frames can exceed the library's 32 KiB default.
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		Emitter:     live.NewEmitter(eventBuffer),
		conn:        conn,
		cfg:         cfg,
		sendQ:       make(chan audio.WireChunk, cfg.SendQueue),
		opened:      make(chan struct{}),
		ctx:         sessCtx,
		cancel:      sessCancel,
		keepalive:   p.keepalive,
		onMalformed: cfg.OnMalformed,
	}

	if err := sess.sendSetup(ctx, p.model); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sess.writeLoop() }()
	go func() { defer wg.Done(); sess.keepaliveLoop() }()
	go sess.receiveLoop(&wg)

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	*live.Emitter

	conn        *websocket.Conn
	cfg         live.SessionConfig
	sendQ       chan audio.WireChunk
	opened      chan struct{}
	openOnce    sync.Once
	keepalive   time.Duration
	onMalformed func(error)

	mu         sync.Mutex
	failure    error
	userClosed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(ctx context.Context, model string) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.cfg.Voice},
					},
				},
			},
		},
	}
	if s.cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: s.cfg.Instructions}},
		}
	}
	if s.cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if s.cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return s.writeJSON(ctx, msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and turns them into events.
// It is the only goroutine that emits; it finishes the event stream when it
// exits, after the writer and keepalive goroutines have stopped.
func (s *session) receiveLoop(wg *sync.WaitGroup) {
	var readErr error
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			readErr = err
			break
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}
		if !s.handleServerMessage(&msg) {
			break
		}
	}

	s.cancel()
	wg.Wait()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.Finish(s.terminalError(readErr))
}

// terminalError decides what, if anything, the session reports on exit.
func (s *session) terminalError(readErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.userClosed:
		return nil
	case s.failure != nil:
		return s.failure
	case readErr == nil:
		return nil
	case websocket.CloseStatus(readErr) == websocket.StatusNormalClosure:
		return nil
	default:
		return fmt.Errorf("gemini: read: %w", readErr)
	}
}

// handleServerMessage emits the events carried by msg. It returns false when
// the session must end.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.fail(fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, text))
		return false
	}
	if msg.SetupComplete != nil {
		s.openOnce.Do(func() {
			close(s.opened)
			s.Open()
		})
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server is about to close the session", "timeLeft", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent != nil {
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
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
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := audio.DecodeBase64(p.InlineData.Data)
			if err != nil {
				slog.Warn("gemini: dropping undecodable audio part", "err", err)
				if s.onMalformed != nil {
					s.onMalformed(err)
				}
				continue
			}
			rate, ok := audio.ParsePCMMIMEType(p.InlineData.MIMEType)
			if !ok {
				rate = audio.OutputSampleRate
			}
			if !s.Emit(live.Event{Kind: live.EventAudio, Audio: pcm, SampleRate: rate}) {
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

// writeLoop drains the outbound queue once the server has acknowledged setup.
func (s *session) writeLoop() {
	select {
	case <-s.opened:
	case <-s.ctx.Done():
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.sendQ:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []mediaChunk{{MIMEType: chunk.MIMEType, Data: chunk.Data}},
				},
			}
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.writeJSON(ctx, msg)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.fail(fmt.Errorf("gemini: write: %w", err))
				}
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	if s.keepalive <= 0 {
		return
	}
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil && s.ctx.Err() == nil {
				s.fail(fmt.Errorf("gemini: keepalive: %w", err))
				return
			}
		}
	}
}

// fail records the first transport failure and tears the connection down.
// The receive loop reports it when it exits.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.failure == nil && !s.userClosed {
		s.failure = err
	}
	s.mu.Unlock()
	s.cancel()
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

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.userClosed {
		s.mu.Unlock()
		return nil
	}
	s.userClosed = true
	s.mu.Unlock()

	s.Abort()
	s.cancel()
	return nil
}
