package analysis

import (
	"context"
	"fmt"

	gai "google.golang.org/genai"
)

// Verdict labels shown for a screen frame.
const (
	LabelAIDetected = "AI DETECTED"
	LabelHumanMade  = "HUMAN MADE"
)

// FrameVerdict is the model's judgement of one screen frame.
type FrameVerdict struct {
	IsScam      bool    `json:"isScam"`
	Confidence  float64 `json:"confidence"`
	Title       string  `json:"title"`
	Explanation string  `json:"explanation"`
}

// Label returns [LabelAIDetected] for AI, deepfake, or scam content and
// [LabelHumanMade] otherwise.
func (v FrameVerdict) Label() string {
	if v.IsScam {
		return LabelAIDetected
	}
	return LabelHumanMade
}

// AnalyzeFrame judges a JPEG screen capture. Frames are sent without search
// grounding.
func (a *Analyzer) AnalyzeFrame(ctx context.Context, jpeg []byte) (FrameVerdict, error) {
	if len(jpeg) == 0 {
		return FrameVerdict{}, ErrInvalidAttachment
	}
	resp, err := a.generate(ctx, KindFrame, []*gai.Part{
		gai.NewPartFromBytes(jpeg, "image/jpeg"),
		gai.NewPartFromText(framePrompt),
	}, &gai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   frameSchema,
	})
	if err != nil {
		return FrameVerdict{}, err
	}
	var v FrameVerdict
	if err := decodeJSON(resp, &v); err != nil {
		return FrameVerdict{}, fmt.Errorf("analysis: %s: %w", KindFrame, err)
	}
	return v, nil
}
