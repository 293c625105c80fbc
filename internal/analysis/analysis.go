// Package analysis asks the remote model whether content is AI-generated or a
// scam. It builds the prompts and response schemas, sends text, links, and
// media to a [Generator], and decodes the structured verdicts.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gai "google.golang.org/genai"

	"github.com/aisnitch/snitch/internal/observe"
	"github.com/aisnitch/snitch/internal/resilience"
)

// DefaultModel is the generateContent model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

// defaultSourceTitle labels grounding sources that carry no title.
const defaultSourceTitle = "External Source"

var (
	// ErrEmptyRequest is returned for a request with neither text nor an
	// attachment.
	ErrEmptyRequest = errors.New("analysis: empty request")

	// ErrInvalidAttachment is returned for media without data or MIME type.
	ErrInvalidAttachment = errors.New("analysis: invalid attachment")

	// ErrMalformedResponse is returned when the model's reply is not the
	// requested JSON object.
	ErrMalformedResponse = errors.New("analysis: malformed model response")
)

// Generator issues one generateContent call. *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*gai.Content, config *gai.GenerateContentConfig) (*gai.GenerateContentResponse, error)
}

// Kind names the analysis performed.
type Kind string

const (
	KindText  Kind = "text"
	KindLink  Kind = "link"
	KindMedia Kind = "media"
	KindFrame Kind = "frame"
)

// Source is a web page the model consulted through search grounding.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Result is the verdict on a piece of chat content.
type Result struct {
	Kind        Kind     `json:"kind"`
	IsAI        bool     `json:"isAI"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Artifacts   []string `json:"artifacts"`
	Sources     []Source `json:"sources,omitempty"`
}

// Attachment is media sent for analysis.
type Attachment struct {
	Data     []byte
	MIMEType string
}

// Request is one chat submission: free text, optionally with an attachment.
type Request struct {
	Text       string
	Attachment *Attachment
}

// Config holds the dependencies of an [Analyzer].
type Config struct {
	Generator Generator

	// Model defaults to [DefaultModel].
	Model string

	// FallbackModels are tried in order when Model fails or its breaker is
	// open.
	FallbackModels []string

	// Breaker tunes the per-model circuit breakers.
	Breaker resilience.CircuitBreakerConfig

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Analyzer runs content and frame analyses. It is safe for concurrent use.
type Analyzer struct {
	gen     Generator
	models  *resilience.FallbackGroup[string]
	metrics *observe.Metrics
}

// New returns an Analyzer for cfg.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Generator == nil {
		return nil, errors.New("analysis: nil generator")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fcfg := resilience.FallbackConfig{CircuitBreaker: cfg.Breaker}
	models := resilience.NewFallbackGroup(cfg.Model, cfg.Model, fcfg)
	for _, name := range cfg.FallbackModels {
		if name != "" && name != cfg.Model {
			models.AddFallback(name, name)
		}
	}
	return &Analyzer{gen: cfg.Generator, models: models, metrics: m}, nil
}

// Available reports whether at least one model's breaker accepts calls.
func (a *Analyzer) Available() bool {
	return a.models.Available()
}

// Analyze dispatches req: an attachment is analysed as media with the text as
// context, text that looks like a URL as a link, anything else as text.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	switch {
	case req.Attachment != nil:
		return a.AnalyzeMedia(ctx, req.Attachment.Data, req.Attachment.MIMEType, text)
	case text == "":
		return Result{}, ErrEmptyRequest
	case IsURL(text):
		return a.AnalyzeLink(ctx, text)
	default:
		return a.AnalyzeText(ctx, text)
	}
}

// AnalyzeText checks text for scam language and synthetic structure.
func (a *Analyzer) AnalyzeText(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyRequest
	}
	return a.verdict(ctx, KindText, []*gai.Part{gai.NewPartFromText(textPrompt(text))})
}

// AnalyzeLink asks the model to research url with search grounding.
func (a *Analyzer) AnalyzeLink(ctx context.Context, url string) (Result, error) {
	if strings.TrimSpace(url) == "" {
		return Result{}, ErrEmptyRequest
	}
	return a.verdict(ctx, KindLink, []*gai.Part{gai.NewPartFromText(linkPrompt(url))})
}

// AnalyzeMedia checks an image or video for AI artifacts and scam indicators.
// note is the user's accompanying text and may be empty.
func (a *Analyzer) AnalyzeMedia(ctx context.Context, data []byte, mimeType, note string) (Result, error) {
	if len(data) == 0 || mimeType == "" {
		return Result{}, ErrInvalidAttachment
	}
	return a.verdict(ctx, KindMedia, []*gai.Part{
		gai.NewPartFromBytes(data, mimeType),
		gai.NewPartFromText(mediaPrompt(note)),
	})
}

func (a *Analyzer) verdict(ctx context.Context, kind Kind, parts []*gai.Part) (Result, error) {
	resp, err := a.generate(ctx, kind, parts, &gai.GenerateContentConfig{
		Tools:            []*gai.Tool{{GoogleSearch: &gai.GoogleSearch{}}},
		ResponseMIMEType: "application/json",
		ResponseSchema:   resultSchema,
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := decodeJSON(resp, &res); err != nil {
		return Result{}, fmt.Errorf("analysis: %s: %w", kind, err)
	}
	res.Kind = kind
	if res.Artifacts == nil {
		res.Artifacts = []string{}
	}
	res.Sources = groundingSources(resp)
	return res, nil
}

// generate sends parts to the first model that accepts them and records the
// call's latency.
func (a *Analyzer) generate(ctx context.Context, kind Kind, parts []*gai.Part, cfg *gai.GenerateContentConfig) (*gai.GenerateContentResponse, error) {
	ctx, span := observe.StartSpan(ctx, "analysis."+string(kind))
	defer span.End()

	contents := []*gai.Content{gai.NewContentFromParts(parts, gai.RoleUser)}
	start := time.Now()
	resp, err := resilience.Execute(ctx, a.models, func(model string) (*gai.GenerateContentResponse, error) {
		return a.gen.GenerateContent(ctx, model, contents, cfg)
	})
	a.metrics.RecordAnalysis(ctx, string(kind), time.Since(start))
	if err != nil {
		span.RecordError(err)
		a.metrics.RecordProviderError(ctx, "genai", string(kind))
		observe.Logger(ctx).Warn("analysis failed", "kind", kind, "err", err)
		return nil, fmt.Errorf("analysis: %s: %w", kind, err)
	}
	return resp, nil
}

// decodeJSON unmarshals the response text into v, tolerating a markdown code
// fence around the object.
func decodeJSON(resp *gai.GenerateContentResponse, v any) error {
	if resp == nil {
		return ErrMalformedResponse
	}
	text := strings.TrimSpace(resp.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

// groundingSources lists the web sources of the first candidate. Sources
// without a URI are dropped.
func groundingSources(resp *gai.GenerateContentResponse) []Source {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}
	var out []Source
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = defaultSourceTitle
		}
		out = append(out, Source{Title: title, URI: chunk.Web.URI})
	}
	return out
}

// NewGenAIGenerator returns the Models service of a Gemini API client.
// baseURL overrides the API endpoint and may be empty.
func NewGenAIGenerator(ctx context.Context, apiKey, baseURL string) (Generator, error) {
	cc := &gai.ClientConfig{APIKey: apiKey, Backend: gai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = gai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := gai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("analysis: create genai client: %w", err)
	}
	return client.Models, nil
}
