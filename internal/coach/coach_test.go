package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/ollama"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) SpeechToText(ctx context.Context, audio []byte, filename string) (string, error) {
	return f.text, f.err
}

type fakeAdvisor struct {
	text string
	got  ollama.FeedbackRequest
}

func (f *fakeAdvisor) Feedback(ctx context.Context, req ollama.FeedbackRequest) string {
	f.got = req
	return f.text
}

func first(int) int { return 0 }

func TestRuleFeedbackBranches(t *testing.T) {
	tests := []struct {
		name          string
		transcription string
		wantSuffix    string
		wantTip       string
	}{
		{
			name:          "words and variety",
			transcription: "doo bah dah shoo bee wop skee",
			wantSuffix:    "exactly what improv is about!",
			wantTip:       "Try varying your pitch more to create melodic interest",
		},
		{
			name:          "words only",
			transcription: "doo doo doo doo doo doo doo",
			wantSuffix:    "Keep experimenting with different sounds!",
			wantTip:       "Experiment with more varied syllables and rhythmic patterns",
		},
		{
			name:          "short",
			transcription: "mm",
			wantSuffix:    "bold with your vocal choices!",
			wantTip:       `Try humming or using simple syllables like "doo", "bah", "dah"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := RuleFeedback(tt.transcription, "jazz", 100, 10, first)
			if !strings.HasPrefix(fb.Feedback, "Jazz scat singing is pure freedom!") {
				t.Errorf("feedback = %q", fb.Feedback)
			}
			if !strings.HasSuffix(fb.Feedback, tt.wantSuffix) {
				t.Errorf("feedback = %q, want suffix %q", fb.Feedback, tt.wantSuffix)
			}
			if fb.Tips[0] != tt.wantTip {
				t.Errorf("tips[0] = %q, want %q", fb.Tips[0], tt.wantTip)
			}
		})
	}
}

func TestRuleFeedbackTips(t *testing.T) {
	// Short take at a fast tempo: branch tip, duration tip, BPM tip. No general tip.
	fb := RuleFeedback("mm", "pop", 130, 3, first)
	if len(fb.Tips) != 3 {
		t.Fatalf("tips = %v, want 3", fb.Tips)
	}
	if fb.Tips[1] != "Try recording for longer to develop your musical ideas fully" {
		t.Errorf("tips[1] = %q", fb.Tips[1])
	}
	if fb.Tips[2] != "At 130 BPM, try breaking your phrases into shorter bursts for rhythmic precision" {
		t.Errorf("tips[2] = %q", fb.Tips[2])
	}

	// Long take at a mid tempo gets a general tip.
	fb = RuleFeedback("mm", "pop", 100, 30, func(n int) int { return n - 1 })
	if len(fb.Tips) != 2 || fb.Tips[1] != generalTips[len(generalTips)-1] {
		t.Errorf("tips = %v", fb.Tips)
	}

	fb = RuleFeedback("mm", "barbershop", 70, 30, first)
	if fb.Tips[1] != "At 70 BPM, you have room to add ornaments and vocal embellishments" {
		t.Errorf("slow tip = %q", fb.Tips[1])
	}
}

func TestRuleFeedbackUnknownGenre(t *testing.T) {
	fb := RuleFeedback("", "polka", 100, 10, first)
	if !strings.HasPrefix(fb.Feedback, "Your vocal improv is a good starting point.") {
		t.Errorf("feedback = %q", fb.Feedback)
	}
}

func TestAnalyzeTranscriptionFailure(t *testing.T) {
	c := New(fakeTranscriber{err: errors.New("503")}, nil, zerolog.Nop())
	c.intn = first

	fb, err := c.Analyze(context.Background(), Take{Audio: make([]byte, 20000), Genre: "gospel", BPM: 100})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fb.Transcription != UntranscribedText {
		t.Errorf("transcription = %q", fb.Transcription)
	}
	if fb.DurationSec != 10 {
		t.Errorf("duration = %v, want 10", fb.DurationSec)
	}
	if fb.Source != "rules" {
		t.Errorf("source = %q", fb.Source)
	}
	// The fallback text is long and varied enough to count as words.
	if !strings.Contains(fb.Feedback, "good variety") {
		t.Errorf("feedback = %q", fb.Feedback)
	}
}

func TestAnalyzeUsesAdvisor(t *testing.T) {
	adv := &fakeAdvisor{text: "Lovely phrasing on the turnaround, try leaving more space."}
	c := New(fakeTranscriber{text: strings.Repeat("doo ", 50)}, adv, zerolog.Nop())

	fb, err := c.Analyze(context.Background(), Take{
		Audio:   []byte("webm"),
		Genre:   "jazz",
		BPM:     140,
		Backing: map[string]bool{"rhythm": false, "bass": true},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fb.Feedback != adv.text || fb.Source != "llm" {
		t.Errorf("feedback = %q (%s)", fb.Feedback, fb.Source)
	}
	if len(fb.Tips) == 0 {
		t.Error("rule tips should survive LLM feedback")
	}
	if len([]rune(fb.Transcription)) != maxTranscription {
		t.Errorf("transcription len = %d, want %d", len(fb.Transcription), maxTranscription)
	}
	if adv.got.Backing != "bass: present, rhythm: not generated" {
		t.Errorf("backing = %q", adv.got.Backing)
	}
}

func TestAnalyzeAdvisorNoOpinion(t *testing.T) {
	c := New(fakeTranscriber{text: "doo"}, &fakeAdvisor{}, zerolog.Nop())
	fb, err := c.Analyze(context.Background(), Take{Audio: []byte("x"), Genre: "pop", BPM: 100})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fb.Source != "rules" {
		t.Errorf("source = %q, want rules", fb.Source)
	}
}

func TestAnalyzeNoAudio(t *testing.T) {
	c := New(fakeTranscriber{}, nil, zerolog.Nop())
	if _, err := c.Analyze(context.Background(), Take{}); !errors.Is(err, ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}
