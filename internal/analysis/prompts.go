package analysis

import (
	"fmt"

	gai "google.golang.org/genai"
)

// WelcomeText greets a new chat before the first analysis.
const WelcomeText = "Hello! I am AI Snitch. Paste a link to a Reel (Instagram/YouTube/TikTok), upload a screenshot, or share news text. I will snitch on AI-generated content and potential SCAMS."

// FailureText is shown to the user in place of a verdict when analysis fails.
const FailureText = "I encountered an error during analysis. This can happen with secure links or complex scam patterns. Try a screenshot if the link doesn't work."

// ConsultantInstruction is the default persona of the voice consultant.
const ConsultantInstruction = "You are an AI authenticity consultant. You help users identify if content like Reels, TikToks, messages, or news is real or AI generated. Talk conversationally. Explain what to look for: inconsistencies, artifacts, unnatural speech patterns, or too-perfect visuals. You are helpful, skeptical of unverified claims, and educational."

const defaultMediaContext = "General verification request"

func textPrompt(text string) string {
	return fmt.Sprintf(`Analyze this text for SCAMS or AI-GEN MISINFORMATION: %q.
Check for phishing language, fake news markers, and synthetic text structure. Provide a JSON response.`, text)
}

func linkPrompt(url string) string {
	return fmt.Sprintf(`The user provided this video/reel/content link: %q.
USE GOOGLE SEARCH to:
1. Verify if this specific video or the content of the link has been debunked as AI-generated, deepfake, or a scam.
2. Check the reputation of the source platform/user.
3. Search for community notes or news articles regarding this specific viral piece.
4. Determine if the video claims are physically possible or known fake news.

Identify the content type (Reel/Post/Video) and provide a JSON response with a verdict on whether it is AI-generated/Fake or Real.`, url)
}

func mediaPrompt(note string) string {
	if note == "" {
		note = defaultMediaContext
	}
	return fmt.Sprintf(`Analyze this media for AUTHENTICITY and SCAM POTENTIAL.
Is it AI generated or real? Check for:
- Phishing/Scam indicators: fake banking apps, crypto giveaway scams, urgency, suspicious URLs.
- Visual AI artifacts: warped hands, inconsistent physics, too-smooth skin, repetitive background patterns.
- Context: %s.

Provide a clear verdict in JSON.`, note)
}

const framePrompt = `TASK: Detect if the content on screen (video/image/reel) is AI-generated (Deepfake) or Real Human Made.
Look for: Liquid warping, AI artifacts in facial features, inconsistent hair/edges, and scam-like text overlays.
Provide a clear title and explanation. Return JSON.`

// resultSchema describes [Result] minus the grounding sources.
var resultSchema = &gai.Schema{
	Type: gai.TypeObject,
	Properties: map[string]*gai.Schema{
		"isAI":        {Type: gai.TypeBoolean},
		"confidence":  {Type: gai.TypeNumber},
		"explanation": {Type: gai.TypeString},
		"artifacts": {
			Type:  gai.TypeArray,
			Items: &gai.Schema{Type: gai.TypeString},
		},
	},
	Required: []string{"isAI", "confidence", "explanation", "artifacts"},
}

// frameSchema describes [FrameVerdict].
var frameSchema = &gai.Schema{
	Type: gai.TypeObject,
	Properties: map[string]*gai.Schema{
		"isScam": {
			Type:        gai.TypeBoolean,
			Description: "True if AI/Deepfake/Scam, False if Human/Real",
		},
		"confidence":  {Type: gai.TypeNumber},
		"title":       {Type: gai.TypeString},
		"explanation": {Type: gai.TypeString},
	},
	Required: []string{"isScam", "confidence", "title", "explanation"},
}
