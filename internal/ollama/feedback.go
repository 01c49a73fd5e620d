package ollama

import (
	"context"
	"fmt"
	"strings"
)

// FeedbackRequest describes one recorded take.
type FeedbackRequest struct {
	Genre         string
	BPM           int
	Transcription string
	DurationSec   float64
	Backing       string
}

// FeedbackGenerator asks the LLM for coaching feedback on a vocal take.
type FeedbackGenerator struct {
	client *Client
}

func NewFeedbackGenerator(client *Client) *FeedbackGenerator {
	return &FeedbackGenerator{client: client}
}

const feedbackSystemPrompt = `You are an encouraging vocal improvisation coach.

A singer just improvised over acapella backing layers (bass, harmony, vocal percussion). You get the genre, tempo, the length of the take and a transcription of what they sang.

Write 2-3 sentences of feedback:
- Start with something specific they did well
- Relate it to the genre and tempo
- End with one concrete thing to try on the next take

Keep it warm and practical. No lists, no headings, no quotes, no preamble.

/no_think`

// Feedback returns coaching text, or empty string on failure so the caller
// can fall back to rule-based feedback.
func (g *FeedbackGenerator) Feedback(ctx context.Context, req FeedbackRequest) string {
	prompt := fmt.Sprintf("Genre: %s\nTempo: %d BPM\nLength: %.1f seconds\nBacking: %s\nTranscription: %s",
		req.Genre, req.BPM, req.DurationSec, req.Backing, req.Transcription)

	text, err := g.client.Generate(ctx, feedbackSystemPrompt, prompt)
	if err != nil {
		g.client.logger.Warn().Err(err).Msg("feedback generation failed")
		return ""
	}

	text = cleanOutput(text)
	if len(text) < 20 {
		g.client.logger.Warn().Str("text", text).Msg("unusable feedback")
		return ""
	}
	return text
}

// cleanOutput strips common LLM artifacts.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)

	// qwen3 thinking leakage
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("</think>"):])
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	prefixes := []string{"Feedback:", "Here's my feedback:", "Here is my feedback:"}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	return strings.TrimSpace(s)
}
