// Package coach turns a recorded take into feedback for the singer.
package coach

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/ollama"
)

const (
	// UntranscribedText stands in for the transcript when speech-to-text fails.
	UntranscribedText = "[Unable to transcribe - vocal sounds detected]"

	// bytesPerSecond approximates compressed voice audio at 16 kbps.
	bytesPerSecond = 2000

	maxTips          = 4
	maxTranscription = 100
)

var ErrNoAudio = errors.New("no audio provided")

// Transcriber converts recorded audio to text.
type Transcriber interface {
	SpeechToText(ctx context.Context, audio []byte, filename string) (string, error)
}

// Advisor produces free-form feedback. An empty result means no opinion.
type Advisor interface {
	Feedback(ctx context.Context, req ollama.FeedbackRequest) string
}

// Take is one recorded improvisation with the session context it was sung in.
type Take struct {
	Audio    []byte
	Filename string
	Genre    string
	BPM      int
	// Backing maps each backing layer to whether it had audio.
	Backing map[string]bool
}

// Feedback is the analysis returned to the singer.
type Feedback struct {
	Feedback      string   `json:"feedback"`
	Tips          []string `json:"tips"`
	Transcription string   `json:"transcription"`
	DurationSec   float64  `json:"duration_sec"`
	Source        string   `json:"source"`
}

// Coach analyzes takes. advisor may be nil.
type Coach struct {
	transcriber Transcriber
	advisor     Advisor
	intn        func(n int) int
	logger      zerolog.Logger
}

func New(transcriber Transcriber, advisor Advisor, logger zerolog.Logger) *Coach {
	return &Coach{
		transcriber: transcriber,
		advisor:     advisor,
		intn:        rand.IntN,
		logger:      logger.With().Str("component", "coach").Logger(),
	}
}

// Analyze transcribes the take and builds feedback for it.
func (c *Coach) Analyze(ctx context.Context, take Take) (Feedback, error) {
	if len(take.Audio) == 0 {
		return Feedback{}, ErrNoAudio
	}

	transcription, err := c.transcriber.SpeechToText(ctx, take.Audio, take.Filename)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transcription failed, continuing with analysis")
		transcription = UntranscribedText
	}

	duration := EstimateDuration(len(take.Audio))
	fb := RuleFeedback(transcription, take.Genre, take.BPM, duration, c.intn)
	fb.Source = "rules"

	if c.advisor != nil {
		text := c.advisor.Feedback(ctx, ollama.FeedbackRequest{
			Genre:         take.Genre,
			BPM:           take.BPM,
			Transcription: transcription,
			DurationSec:   duration,
			Backing:       backingContext(take.Backing),
		})
		if text != "" {
			fb.Feedback = text
			fb.Source = "llm"
		}
	}

	fb.Transcription = truncate(transcription, maxTranscription)
	fb.DurationSec = duration
	c.logger.Info().Str("genre", take.Genre).Float64("duration_sec", duration).Str("source", fb.Source).Msg("take analyzed")
	return fb, nil
}

// EstimateDuration guesses the length of a compressed recording from its size.
func EstimateDuration(size int) float64 {
	return float64(size) / bytesPerSecond
}

var genreOpeners = map[string]string{
	"doo-wop":    "Great choice going with doo-wop! The classic vocal harmonies really shine when you",
	"gospel":     "Gospel is all about soul and emotion! Your improv shows",
	"barbershop": "Barbershop is technically demanding! Your attempt at tight harmonies",
	"lo-fi":      "Lo-fi vibes are all about that chill, relaxed feel. Your vocal adds",
	"jazz":       "Jazz scat singing is pure freedom! Your improvisational choices",
	"pop":        "Pop vocals need to be catchy and memorable! Your performance",
}

var generalTips = []string{
	"Listen to the backing tracks and find the spaces between phrases to add your voice",
	"Match the energy of the backing - if it's building, build with it!",
	"Don't be afraid to make mistakes - that's how you discover new sounds",
	"Try call-and-response: listen, pause, then respond with your voice",
}

// RuleFeedback builds feedback without an LLM. intn picks the general tip.
func RuleFeedback(transcription, genre string, bpm int, durationSec float64, intn func(int) int) Feedback {
	hasWords := len(transcription) > 20
	hasVariety := uniqueWords(transcription) > 5

	main, ok := genreOpeners[genre]
	if !ok {
		main = "Your vocal improv"
	}

	var tips []string
	switch {
	case hasWords && hasVariety:
		main += " demonstrate good variety and creativity. You're exploring different syllables and sounds which is exactly what improv is about!"
		tips = append(tips, "Try varying your pitch more to create melodic interest")
	case hasWords:
		main += " shows commitment to the style. Keep experimenting with different sounds!"
		tips = append(tips, "Experiment with more varied syllables and rhythmic patterns")
	default:
		main += " is a good starting point. Don't be afraid to be bold with your vocal choices!"
		tips = append(tips, `Try humming or using simple syllables like "doo", "bah", "dah"`)
	}

	if durationSec <= 5 {
		tips = append(tips, "Try recording for longer to develop your musical ideas fully")
	}

	if bpm > 120 {
		tips = append(tips, fmt.Sprintf("At %d BPM, try breaking your phrases into shorter bursts for rhythmic precision", bpm))
	} else if bpm < 80 {
		tips = append(tips, fmt.Sprintf("At %d BPM, you have room to add ornaments and vocal embellishments", bpm))
	}

	if len(tips) < 3 {
		tips = append(tips, generalTips[intn(len(generalTips))])
	}
	if len(tips) > maxTips {
		tips = tips[:maxTips]
	}

	return Feedback{Feedback: main, Tips: tips}
}

// uniqueWords counts distinct space-separated tokens, empty tokens included.
func uniqueWords(s string) int {
	seen := make(map[string]struct{})
	for _, w := range strings.Split(strings.ToLower(s), " ") {
		seen[w] = struct{}{}
	}
	return len(seen)
}

func backingContext(backing map[string]bool) string {
	names := make([]string, 0, len(backing))
	for name := range backing {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		state := "not generated"
		if backing[name] {
			state = "present"
		}
		parts = append(parts, name+": "+state)
	}
	return strings.Join(parts, ", ")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
