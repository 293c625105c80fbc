package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aisnitch/snitch/internal/analysis"
	"github.com/aisnitch/snitch/internal/analysis/shield"
	"github.com/aisnitch/snitch/internal/health"
	"github.com/aisnitch/snitch/internal/observe"
	"github.com/aisnitch/snitch/internal/resilience"
	"github.com/aisnitch/snitch/internal/voice"
	"github.com/aisnitch/snitch/pkg/audio"
)

// maxBodyBytes bounds request bodies; media attachments arrive base64 encoded.
const maxBodyBytes = 32 << 20

// routes builds the mux:
//
//	GET  /                 welcome text
//	POST /analyze          content analysis (text, link, or media)
//	POST /analyze-frame    one-shot screen-frame verdict
//	POST /voice/start      start the voice consultation
//	POST /voice/stop       stop it
//	GET  /voice/status     controller state and transcript window
//	POST /shield/frame     push the latest screen frame
//	POST /shield/scan      analyse the latest frame now
//	GET  /shield/status    latest shield verdict
//	GET  /healthz, /readyz, /metrics
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleWelcome)
	mux.HandleFunc("POST /analyze", a.handleAnalyze)
	mux.HandleFunc("POST /analyze-frame", a.handleAnalyzeFrame)
	mux.HandleFunc("POST /voice/start", a.withVoice(a.handleVoiceStart))
	mux.HandleFunc("POST /voice/stop", a.withVoice(a.handleVoiceStop))
	mux.HandleFunc("GET /voice/status", a.withVoice(a.handleVoiceStatus))
	mux.HandleFunc("POST /shield/frame", a.handleShieldFrame)
	mux.HandleFunc("POST /shield/scan", a.handleShieldScan)
	mux.HandleFunc("GET /shield/status", a.handleShieldStatus)

	health.New(
		health.Static("config", func() error {
			if a.cfg == nil {
				return errors.New("no config loaded")
			}
			return nil
		}),
		health.Static("analysis", func() error {
			if !a.analyzer.Available() {
				return resilience.ErrCircuitOpen
			}
			return nil
		}),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ─── Request and response bodies ─────────────────────────────────────────────

type attachmentBody struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type analyzeRequest struct {
	Text       string          `json:"text"`
	Attachment *attachmentBody `json:"attachment,omitempty"`
}

type frameRequest struct {
	Image string `json:"image"`
}

type frameResponse struct {
	analysis.FrameVerdict
	Label string `json:"label"`
}

type errorResponse struct {
	Error string `json:"error"`

	// Message is the user-facing text for failed analyses.
	Message string `json:"message,omitempty"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (a *App) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "AI Snitch",
		"welcome": analysis.WelcomeText,
	})
}

// handleAnalyze handles POST /analyze.
func (a *App) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req := analysis.Request{Text: body.Text}
	if body.Attachment != nil {
		data, err := decodeImage(body.Attachment.Data)
		if err != nil || body.Attachment.MIMEType == "" {
			writeError(w, http.StatusBadRequest, "attachment needs base64 data and a mimeType", "")
			return
		}
		req.Attachment = &analysis.Attachment{Data: data, MIMEType: body.Attachment.MIMEType}
	}

	res, err := a.analyzer.Analyze(r.Context(), req)
	if err != nil {
		a.analysisFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAnalyzeFrame handles POST /analyze-frame.
func (a *App) handleAnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	var body frameRequest
	if !decodeBody(w, r, &body) {
		return
	}
	jpeg, err := decodeImage(body.Image)
	if err != nil || len(jpeg) == 0 {
		writeError(w, http.StatusBadRequest, "image must be a base64 JPEG", "")
		return
	}
	v, err := a.analyzer.AnalyzeFrame(r.Context(), jpeg)
	if err != nil {
		a.analysisFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, frameResponse{FrameVerdict: v, Label: v.Label()})
}

func (a *App) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	err := a.voice.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, a.voice.Snapshot())
	case errors.Is(err, voice.ErrDoubleStart):
		writeError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusConflict, "session stopped while connecting", "")
	case errors.Is(err, voice.ErrConnection):
		writeError(w, http.StatusBadGateway, err.Error(), "")
	default:
		// Capture or playback device failures.
		observe.Logger(r.Context()).Error("voice start failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error(), "")
	}
}

func (a *App) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	if err := a.voice.Stop(); err != nil {
		observe.Logger(r.Context()).Warn("voice stop reported an error", "err", err)
	}
	writeJSON(w, http.StatusOK, a.voice.Snapshot())
}

func (a *App) handleVoiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.voice.Snapshot())
}

// handleShieldFrame handles POST /shield/frame. The frame replaces the
// previous one; analysis happens on the sampler's next tick or on
// POST /shield/scan.
func (a *App) handleShieldFrame(w http.ResponseWriter, r *http.Request) {
	var body frameRequest
	if !decodeBody(w, r, &body) {
		return
	}
	jpeg, err := decodeImage(body.Image)
	if err != nil || len(jpeg) == 0 {
		writeError(w, http.StatusBadRequest, "image must be a base64 JPEG", "")
		return
	}
	a.frames.Push(jpeg)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleShieldScan(w http.ResponseWriter, r *http.Request) {
	_, err := a.monitor.Scan(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.monitor.Status())
	case errors.Is(err, shield.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error(), "")
	case errors.Is(err, shield.ErrNoFrame):
		writeError(w, http.StatusConflict, err.Error(), "")
	default:
		a.analysisFailed(w, r, err)
	}
}

func (a *App) handleShieldStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Status())
}

// withVoice answers 503 when no voice controller is configured.
func (a *App) withVoice(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.voice == nil {
			writeError(w, http.StatusServiceUnavailable, "voice consultation is not configured", "")
			return
		}
		next(w, r)
	}
}

// analysisFailed maps an analyzer error onto a status code. Upstream
// failures carry the user-facing failure text.
func (a *App) analysisFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analysis.ErrEmptyRequest), errors.Is(err, analysis.ErrInvalidAttachment):
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	case errors.Is(err, resilience.ErrAllFailed), errors.Is(err, resilience.ErrCircuitOpen):
		observe.Logger(r.Context()).Warn("analysis unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error(), analysis.FailureText)
		return
	}
	observe.Logger(r.Context()).Error("analysis failed", "err", err)
	writeError(w, http.StatusBadGateway, err.Error(), analysis.FailureText)
}

// ─── Encoding helpers ────────────────────────────────────────────────────────

// decodeBody decodes a JSON request body into v. It writes a 400 response and
// returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return false
	}
	return true
}

// decodeImage accepts raw base64 or a data URL ("data:image/jpeg;base64,...").
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	return audio.DecodeBase64(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, userMsg string) {
	writeJSON(w, status, errorResponse{Error: msg, Message: userMsg})
}
