package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/elevenlabs"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/mixer"
	"github.com/satindergrewal/improv/internal/session"
	"github.com/satindergrewal/improv/internal/store"
)

type fakeGenerator struct {
	source string
}

func (g *fakeGenerator) Generate(ctx context.Context, kind layers.Kind, genre string, bpm int) (string, error) {
	return g.source, nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) SpeechToText(ctx context.Context, audio []byte, filename string) (string, error) {
	return "doo bah dah shoo bee wop skee", nil
}

type fakeElevenLabs struct {
	prompt  string
	agentID string
	err     error
}

func (f *fakeElevenLabs) ComposeMusic(ctx context.Context, prompt string, lengthMs int) ([]byte, error) {
	return []byte("ID3"), f.err
}

func (f *fakeElevenLabs) SoundGeneration(ctx context.Context, text string, d, p float64) ([]byte, error) {
	return []byte("mp3"), f.err
}

func (f *fakeElevenLabs) ConversationSignedURL(ctx context.Context, agentID string) (string, error) {
	return "wss://signed/" + agentID, f.err
}

func (f *fakeElevenLabs) ScribeToken(ctx context.Context) (string, error) {
	return "tok", f.err
}

func (f *fakeElevenLabs) UpdateAgentPrompt(ctx context.Context, agentID, prompt string) error {
	f.agentID, f.prompt = agentID, prompt
	return f.err
}

func wavBytes(t *testing.T, n int) []byte {
	t.Helper()
	s := beep.Take(n, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{0.25, 0.25}
		}
		return len(samples), true
	}))
	data, err := audio.EncodeWAV(s, audio.Format)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

type harness struct {
	mux  *http.ServeMux
	ctrl *session.Controller
	el   *fakeElevenLabs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := mixer.New(mixer.Config{}, nil, zerolog.Nop())
	st := store.NewMemoryStore()
	ctrl, err := session.New(session.Config{
		Mixer:        m,
		Generator:    &fakeGenerator{source: audio.EncodeDataURI("audio/wav", wavBytes(t, 4800))},
		Coach:        coach.New(fakeTranscriber{}, nil, zerolog.Nop()),
		Store:        st,
		DefaultGenre: "jazz",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(ctrl.Close)

	el := &fakeElevenLabs{}
	srv := NewServer(ctrl, el, st, "agent-1", zerolog.Nop())
	srv.ListenerCount = func() int { return 2 }
	mux := http.NewServeMux()
	srv.Register(mux)
	return &harness{mux: mux, ctrl: ctrl, el: el}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	sess := body["session"].(map[string]any)
	if sess["genre"] != "jazz" || body["listeners"].(float64) != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestMutationsRequirePost(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/genre", "/api/play", "/api/stop", "/api/reset", "/api/analyze", "/api/recording", "/api/agent/command"} {
		rec, _ := h.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, rec.Code)
		}
	}
}

func TestGenre(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/api/genre", `{"genre":"gospel","bpm":110}`)
	if rec.Code != http.StatusOK || body["bpm"].(float64) != 110 {
		t.Errorf("set genre = %d %v", rec.Code, body)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/genre", `{"genre":"polka"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown genre = %d, want 400", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/genre", `{"genre":"gospel","bpm":300}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bpm out of range = %d, want 400", rec.Code)
	}
}

func TestLayerLifecycle(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodPost, "/api/layers/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate all = %d %s", rec.Code, rec.Body)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/layers/bass/volume", `{"volume":0.4}`)
	if rec.Code != http.StatusOK {
		t.Errorf("volume = %d", rec.Code)
	}
	if g, _ := h.ctrl.Mixer().Gain("bass"); g < 0.399 || g > 0.401 {
		t.Errorf("bass gain = %v", g)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/layers/harmony/mute", `{"muted":true}`)
	if rec.Code != http.StatusOK {
		t.Errorf("mute = %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/play", `{"loop":true}`)
	if rec.Code != http.StatusOK || !h.ctrl.Status().Playing {
		t.Errorf("play = %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodDelete, "/api/layers/rhythm", "")
	if rec.Code != http.StatusOK || h.ctrl.Mixer().Buffer("rhythm") != nil {
		t.Errorf("delete = %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/stop", "")
	if rec.Code != http.StatusOK || h.ctrl.Status().Playing {
		t.Errorf("stop = %d", rec.Code)
	}
}

func TestLayerUnknownKind(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/api/layers/drums/generate", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown kind = %d, want 404", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/layers/user/generate", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("user generate = %d, want 400", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/layers/bass/volume", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing volume = %d, want 400", rec.Code)
	}
}

func TestMetronome(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/api/metronome", `{"enabled":true}`)
	if rec.Code != http.StatusOK || !h.ctrl.Status().Metronome {
		t.Errorf("metronome on = %d", rec.Code)
	}
}

func TestRecordingUploadAndAnalyze(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/recording", bytes.NewReader(wavBytes(t, 48000)))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body)
	}
	if h.ctrl.Mixer().Buffer("user") == nil {
		t.Fatal("user layer not loaded")
	}

	rec2, body := h.do(t, http.MethodPost, "/api/analyze", "")
	if rec2.Code != http.StatusOK {
		t.Fatalf("analyze = %d %s", rec2.Code, rec2.Body)
	}
	if body["success"] != true || body["take_id"] == "" {
		t.Errorf("analyze body = %v", body)
	}
	if !strings.HasPrefix(body["feedback"].(string), "Jazz scat singing") {
		t.Errorf("feedback = %v", body["feedback"])
	}

	rec3, takes := h.do(t, http.MethodGet, "/api/takes", "")
	if rec3.Code != http.StatusOK || len(takes["takes"].([]any)) != 1 {
		t.Errorf("takes = %d %v", rec3.Code, takes)
	}
}

func TestRecordingRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/api/recording", "not audio")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("garbage upload = %d, want 422", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/recording/start", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("start without mic = %d, want 503", rec.Code)
	}
}

func TestAnalyzeWithoutTake(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/api/analyze", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("analyze without take = %d, want 400", rec.Code)
	}
}

func TestAgentCommand(t *testing.T) {
	h := newHarness(t)
	rec, body := h.do(t, http.MethodPost, "/api/agent/command", `{"text":"generate_backing_track upbeat pop"}`)
	if rec.Code != http.StatusOK || body["action"] != string(session.ActionGenerateAll) {
		t.Fatalf("command = %d %v", rec.Code, body)
	}
	if h.ctrl.Status().Genre != "pop" {
		t.Errorf("genre = %s, want pop", h.ctrl.Status().Genre)
	}

	rec, _ = h.do(t, http.MethodPost, "/api/agent/command", `{"text":"hello"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown command = %d, want 400", rec.Code)
	}
}

func TestElevenLabsProxies(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/api/conversation-token", "")
	if body["signedUrl"] != "wss://signed/agent-1" {
		t.Errorf("conversation token = %v", body)
	}
	_, body = h.do(t, http.MethodGet, "/api/scribe-token", "")
	if body["token"] != "tok" {
		t.Errorf("scribe token = %v", body)
	}

	rec, _ := h.do(t, http.MethodPatch, "/api/update-agent", "")
	if rec.Code != http.StatusOK || h.el.prompt != session.AgentPrompt || h.el.agentID != "agent-1" {
		t.Errorf("update agent default = %d", rec.Code)
	}
	h.do(t, http.MethodPatch, "/api/update-agent", `{"prompt":"custom"}`)
	if h.el.prompt != "custom" {
		t.Errorf("prompt = %q", h.el.prompt)
	}

	rec, body = h.do(t, http.MethodPost, "/api/make-music", `{"prompt":"doo-wop","duration_ms":1}`)
	if rec.Code != http.StatusOK || body["duration_ms"].(float64) != elevenlabs.MinMusicLengthMs {
		t.Errorf("make music = %d %v", rec.Code, body)
	}
	if !strings.HasPrefix(body["audioUrl"].(string), "data:audio/mpeg;base64,") {
		t.Errorf("audioUrl = %v", body["audioUrl"])
	}

	rec, _ = h.do(t, http.MethodPost, "/api/sound-generation", `{"text":"clap"}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "audio/mpeg" || rec.Body.String() != "mp3" {
		t.Errorf("sound generation = %d %q", rec.Code, rec.Body)
	}
	rec, _ = h.do(t, http.MethodPost, "/api/sound-generation", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("sound generation without text = %d", rec.Code)
	}
}

func TestUpstreamErrorStatus(t *testing.T) {
	h := newHarness(t)
	h.el.err = &elevenlabs.APIError{Status: http.StatusTooManyRequests, Body: "quota"}
	rec, _ := h.do(t, http.MethodGet, "/api/scribe-token", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	h.el.err = elevenlabs.ErrNoAPIKey
	rec, _ = h.do(t, http.MethodPost, "/api/make-music", `{"prompt":"x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if statusFor(errors.New("boom")) != http.StatusInternalServerError {
		t.Error("unknown errors should map to 500")
	}
}
