package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aisnitch/snitch/pkg/audio"
	"github.com/aisnitch/snitch/pkg/provider/live"
	"github.com/aisnitch/snitch/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	sendSetupComplete(t, conn)
}

// audioContent builds a serverContent frame with one inline audio part.
func audioContent(data string) map[string]any {
	return map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{
					{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": data}},
				},
			},
		},
	}
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)), gemini.WithKeepalive(0))
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.SessionHandle {
	t.Helper()
	handle, err := newProvider(srv).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

// nextEvent returns the next event of the given kind, skipping others.
func nextEvent(t *testing.T, h live.SessionHandle, kind live.EventKind) live.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %v", kind)
		}
	}
}

// collect reads events until the channel is closed.
func collect(t *testing.T, h live.SessionHandle) []live.Event {
	t.Helper()
	var out []live.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timeout; events so far: %+v", out)
		}
	}
}

// ── Option and setup tests ─────────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.InputSampleRate != 16000 || caps.OutputSampleRate != 24000 {
		t.Errorf("unexpected rates %+v", caps)
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

type setupMsg struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
		OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
	} `json:"setup"`
}

func captureSetup(t *testing.T, cfg live.SessionConfig) setupMsg {
	t.Helper()
	received := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	connect(t, srv, cfg)

	select {
	case msg := <-received:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
	return setupMsg{}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	msg := captureSetup(t, live.SessionConfig{
		Voice:               "Kore",
		Instructions:        "You are an AI authenticity consultant.",
		InputTranscription:  true,
		OutputTranscription: true,
	})

	if !strings.HasPrefix(msg.Setup.Model, "models/") {
		t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
	}
	if m := msg.Setup.GenerationConfig.ResponseModalities; len(m) != 1 || m[0] != "AUDIO" {
		t.Errorf("responseModalities = %v; want [AUDIO]", m)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Kore" {
		t.Errorf("voiceName = %q; want Kore", v)
	}
	if si := msg.Setup.SystemInstruction; si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "You are an AI authenticity consultant." {
		t.Errorf("unexpected system instruction: %+v", si)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("transcription configs should be present")
	}
}

func TestConnect_DefaultVoiceNoTranscription(t *testing.T) {
	t.Parallel()

	msg := captureSetup(t, live.SessionConfig{})
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Zephyr" {
		t.Errorf("voiceName = %q; want Zephyr", v)
	}
	if msg.Setup.SystemInstruction != nil {
		t.Error("systemInstruction should be omitted when empty")
	}
	if msg.Setup.InputAudioTranscription != nil || msg.Setup.OutputAudioTranscription != nil {
		t.Error("transcription configs should be omitted when disabled")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlQuery := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlQuery <- r.URL.RawQuery
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case q := <-urlQuery:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newProvider(srv).Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── State machine ──────────────────────────────────────────────────────────────

func TestOpen_AfterSetupComplete(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-release
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	if got := handle.State(); got != live.StateConnecting {
		t.Fatalf("State before setupComplete = %v; want connecting", got)
	}
	if handle.Send(audio.WireChunk{Data: "AAA=", MIMEType: "audio/pcm;rate=16000"}) {
		t.Error("Send before open should drop the chunk")
	}

	close(release)
	nextEvent(t, handle, live.EventOpen)
	if got := handle.State(); got != live.StateOpen {
		t.Errorf("State after setupComplete = %v; want open", got)
	}
}

// ── Send ──────────────────────────────────────────────────────────────────────

func TestSend_WritesRealtimeInput(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	nextEvent(t, handle, live.EventOpen)

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	chunk := audio.NewWireChunk(audio.AudioFrame{Data: wantPCM, SampleRate: 16000, Channels: 1})
	if !handle.Send(chunk) {
		t.Fatal("Send dropped the chunk")
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSend_AfterClose_Drops(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	nextEvent(t, handle, live.EventOpen)
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if handle.Send(audio.WireChunk{Data: "AQI=", MIMEType: "audio/pcm;rate=16000"}) {
		t.Fatal("Send after Close should drop the chunk")
	}
}

func TestConcurrentSend_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	})

	handle := connect(t, srv, live.SessionConfig{SendQueue: 4})
	nextEvent(t, handle, live.EventOpen)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 16 {
				handle.Send(audio.WireChunk{Data: "AQIDBA==", MIMEType: "audio/pcm;rate=16000"})
			}
		})
	}
	wg.Wait()
}

// ── Events ─────────────────────────────────────────────────────────────────────

func TestEvents_DeliversDecodedAudio(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, audioContent(base64.StdEncoding.EncodeToString(wantPCM)))
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	ev := nextEvent(t, handle, live.EventAudio)
	if string(ev.Audio) != string(wantPCM) {
		t.Errorf("audio = %v; want %v", ev.Audio, wantPCM)
	}
	if ev.SampleRate != 24000 {
		t.Errorf("SampleRate = %d; want 24000", ev.SampleRate)
	}
}

func TestEvents_MalformedAudioDropped(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0x10, 0x20}

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, audioContent("not*base64!"))
		writeJSON(t, conn, audioContent(base64.StdEncoding.EncodeToString(wantPCM)))
		<-conn.CloseRead(context.Background()).Done()
	})

	var malformed atomic.Int32
	handle := connect(t, srv, live.SessionConfig{OnMalformed: func(error) { malformed.Add(1) }})

	ev := nextEvent(t, handle, live.EventAudio)
	if string(ev.Audio) != string(wantPCM) {
		t.Errorf("first delivered audio = %v; want %v", ev.Audio, wantPCM)
	}
	if got := malformed.Load(); got != 1 {
		t.Errorf("malformed callbacks = %d; want 1", got)
	}
	if handle.State() != live.StateOpen {
		t.Errorf("State = %v; malformed audio must not close the session", handle.State())
	}
}

func TestEvents_Transcripts(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"inputTranscription": map[string]any{"text": "is this video real?"}},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"outputTranscription": map[string]any{"text": "Look at the hands."}},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{InputTranscription: true, OutputTranscription: true})

	first := nextEvent(t, handle, live.EventTranscript)
	if first.Role != live.RoleUser || first.Text != "is this video real?" {
		t.Errorf("first transcript = %+v", first)
	}
	second := nextEvent(t, handle, live.EventTranscript)
	if second.Role != live.RoleModel || second.Text != "Look at the hands." {
		t.Errorf("second transcript = %+v", second)
	}
}

func TestEvents_InterruptedAndTurnCompleteInOrder(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, audioContent(base64.StdEncoding.EncodeToString([]byte{1, 0})))
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	want := []live.EventKind{live.EventOpen, live.EventAudio, live.EventInterrupted, live.EventTurnComplete}
	for _, kind := range want {
		select {
		case ev := <-handle.Events():
			if ev.Kind != kind {
				t.Fatalf("event = %v; want %v", ev.Kind, kind)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %v", kind)
		}
	}
}

func TestServerError_ClosesWithError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 429, "message": "quota exceeded"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	evs := collect(t, handle)
	if len(evs) < 2 {
		t.Fatalf("events = %+v", evs)
	}
	errEv, closed := evs[len(evs)-2], evs[len(evs)-1]
	if errEv.Kind != live.EventError || !strings.Contains(errEv.Err.Error(), "quota exceeded") {
		t.Errorf("penultimate event = %+v; want error", errEv)
	}
	if closed.Kind != live.EventClosed {
		t.Errorf("last event = %v; want closed", closed.Kind)
	}
	if handle.State() != live.StateClosed {
		t.Errorf("State = %v; want closed", handle.State())
	}
	if err := handle.Close(); err != nil {
		t.Errorf("Close after remote close = %v; want nil", err)
	}
}

func TestServerDrop_ReportsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "backend crashed")
	})

	handle := connect(t, srv, live.SessionConfig{})
	nextEvent(t, handle, live.EventError)
	nextEvent(t, handle, live.EventClosed)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
	if handle.State() != live.StateClosed {
		t.Errorf("State = %v; want closed", handle.State())
	}
}

func TestClose_ClosesEventChannel(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, live.SessionConfig{})
	_ = handle.Close()

	for _, ev := range collect(t, handle) {
		if ev.Kind == live.EventError {
			t.Errorf("user Close reported an error: %v", ev.Err)
		}
	}
}
