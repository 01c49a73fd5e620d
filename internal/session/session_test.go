package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/mixer"
	"github.com/satindergrewal/improv/internal/store"
)

func constant(v float64, n int) beep.Streamer {
	return beep.Take(n, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{v, v}
		}
		return len(samples), true
	}))
}

func wavSource(t *testing.T, n int) string {
	t.Helper()
	uri, err := audio.WAVDataURI(constant(0.5, n), audio.Format)
	if err != nil {
		t.Fatalf("WAVDataURI: %v", err)
	}
	return uri
}

type fakeGenerator struct {
	mu     sync.Mutex
	source string
	fail   map[layers.Kind]error
	calls  []string
}

func (g *fakeGenerator) Generate(ctx context.Context, kind layers.Kind, genre string, bpm int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, string(kind)+"/"+genre)
	if err := g.fail[kind]; err != nil {
		return "", err
	}
	return g.source, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	source    string
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	return nil
}

func (r *fakeRecorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return "", errors.New("not recording")
	}
	r.recording = false
	return r.source, nil
}

func (r *fakeRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

type fakeAnalyzer struct {
	take coach.Take
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, take coach.Take) (coach.Feedback, error) {
	a.take = take
	return coach.Feedback{Feedback: "nice", Tips: []string{"tip"}, DurationSec: 3, Source: "rules"}, nil
}

type harness struct {
	ctrl     *Controller
	mixer    *mixer.Mixer
	gen      *fakeGenerator
	rec      *fakeRecorder
	analyzer *fakeAnalyzer
	store    *store.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	src := wavSource(t, 4800)
	h := &harness{
		mixer:    mixer.New(mixer.Config{}, nil, zerolog.Nop()),
		gen:      &fakeGenerator{source: src},
		rec:      &fakeRecorder{source: src},
		analyzer: &fakeAnalyzer{},
		store:    store.NewMemoryStore(),
	}
	ctrl, err := New(Config{
		Mixer:        h.mixer,
		Generator:    h.gen,
		Recorder:     h.rec,
		Coach:        h.analyzer,
		Store:        h.store,
		DefaultGenre: "jazz",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

func layerInfo(st Status, kind layers.Kind) LayerInfo {
	for _, l := range st.Layers {
		if l.Kind == kind {
			return l
		}
	}
	return LayerInfo{}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewRejectsUnknownGenre(t *testing.T) {
	_, err := New(Config{Mixer: mixer.New(mixer.Config{}, nil, zerolog.Nop()), DefaultGenre: "polka"}, zerolog.Nop())
	if !errors.Is(err, layers.ErrUnknownGenre) {
		t.Errorf("err = %v, want ErrUnknownGenre", err)
	}
}

func TestInitialStatus(t *testing.T) {
	h := newHarness(t)
	st := h.ctrl.Status()
	if st.Genre != "jazz" || st.BPM != 120 {
		t.Errorf("genre/bpm = %s/%d, want jazz/120", st.Genre, st.BPM)
	}
	if len(st.Layers) != len(layers.All) {
		t.Fatalf("layers = %d, want %d", len(st.Layers), len(layers.All))
	}
	for _, l := range st.Layers {
		if l.Status != LayerEmpty || l.Volume != l.Kind.DefaultVolume() {
			t.Errorf("layer %s = %+v", l.Kind, l)
		}
	}
	if st.AudioState != "closed" {
		t.Errorf("audio state = %s, want closed before first use", st.AudioState)
	}
}

func TestGenerateAll(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	st := h.ctrl.Status()
	for _, k := range layers.Generated {
		if l := layerInfo(st, k); l.Status != LayerReady {
			t.Errorf("%s status = %s, want ready", k, l.Status)
		}
		g, ok := h.mixer.Gain(string(k))
		if !ok || !approx(g, k.DefaultVolume()) {
			t.Errorf("%s gain = %v, %v, want %v", k, g, ok, k.DefaultVolume())
		}
	}
	if len(h.gen.calls) != 3 {
		t.Errorf("generator calls = %v", h.gen.calls)
	}
	if len(st.Tracks) != 3 {
		t.Errorf("mixer tracks = %d, want 3", len(st.Tracks))
	}
}

func TestGenerateLayerFailureIsolated(t *testing.T) {
	h := newHarness(t)
	h.gen.fail = map[layers.Kind]error{layers.Harmony: errors.New("quota")}

	err := h.ctrl.GenerateAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("GenerateAll err = %v, want quota", err)
	}
	st := h.ctrl.Status()
	if l := layerInfo(st, layers.Harmony); l.Status != LayerFailed || l.Error != "quota" {
		t.Errorf("harmony = %+v", l)
	}
	if l := layerInfo(st, layers.Bass); l.Status != LayerReady {
		t.Errorf("bass = %+v, want ready", l)
	}
}

func TestRegenerateFailureKeepsPreviousLayer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}

	h.gen.source = "data:audio/mpeg;base64,AAAA"
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("err = %v, want ErrLoadFailed", err)
	}
	l := layerInfo(h.ctrl.Status(), layers.Bass)
	if l.Status != LayerReady || l.Error == "" {
		t.Errorf("bass = %+v, want ready with error recorded", l)
	}
	if h.mixer.Buffer("bass") == nil {
		t.Error("previous buffer was dropped")
	}
}

func TestGenerateLayerRejectsUser(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.GenerateLayer(context.Background(), layers.User); !errors.Is(err, layers.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestSetGenre(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.SetGenre(ctx, "lo-fi", 0); err != nil {
		t.Fatalf("SetGenre: %v", err)
	}
	st := h.ctrl.Status()
	if st.Genre != "lo-fi" || st.BPM != 85 {
		t.Errorf("genre/bpm = %s/%d", st.Genre, st.BPM)
	}
	if err := h.ctrl.SetGenre(ctx, "lo-fi", 200); !errors.Is(err, layers.ErrBPMOutOfRange) {
		t.Errorf("err = %v, want ErrBPMOutOfRange", err)
	}
	if err := h.ctrl.GenerateLayer(ctx, layers.Rhythm); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	if h.gen.calls[0] != "rhythm/lo-fi" {
		t.Errorf("generator got %s", h.gen.calls[0])
	}
}

func TestPlayStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.GenerateAll(ctx); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	h.ctrl.Play(true)
	st := h.ctrl.Status()
	if !st.Playing || !st.Looping {
		t.Errorf("playing/looping = %v/%v", st.Playing, st.Looping)
	}
	for _, k := range layers.Generated {
		if !h.mixer.IsPlaying(string(k)) {
			t.Errorf("%s not playing", k)
		}
	}

	h.ctrl.Stop()
	if h.ctrl.Status().Playing {
		t.Error("still playing after Stop")
	}
}

func TestLayerJoinsWhilePlaying(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	h.ctrl.Play(true)
	if err := h.ctrl.GenerateLayer(ctx, layers.Harmony); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	if !h.mixer.IsPlaying("harmony") {
		t.Error("layer loaded during playback did not join")
	}
}

func render(t *testing.T, m *mixer.Mixer, frames int) {
	t.Helper()
	actx := m.Context()
	if actx == nil {
		t.Fatal("no audio context")
	}
	buf := make([][2]float64, 4096)
	for frames > 0 {
		n := min(frames, len(buf))
		actx.Stream(buf[:n])
		frames -= n
	}
}

func TestLayerWaitsAfterPlaybackEnded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	h.ctrl.Play(false)
	render(t, h.mixer, 4800+100)

	if h.ctrl.Status().Playing {
		t.Error("Status().Playing = true after the only layer ended")
	}
	if err := h.ctrl.GenerateLayer(ctx, layers.Harmony); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	if h.mixer.IsPlaying("harmony") {
		t.Error("layer started alone after playback ended")
	}
}

func TestVolumeAndMute(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.GenerateLayer(context.Background(), layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}

	h.ctrl.SetVolume(layers.Bass, 0.3)
	if g, _ := h.mixer.Gain("bass"); !approx(g, 0.3) {
		t.Errorf("gain = %v, want 0.3", g)
	}
	h.ctrl.SetMuted(layers.Bass, true)
	if g, _ := h.mixer.Gain("bass"); g != 0 {
		t.Errorf("muted gain = %v, want 0", g)
	}
	if l := layerInfo(h.ctrl.Status(), layers.Bass); !l.Muted || !approx(l.Volume, 0.3) {
		t.Errorf("bass = %+v", l)
	}
	h.ctrl.SetMuted(layers.Bass, false)
	if g, _ := h.mixer.Gain("bass"); !approx(g, 0.3) {
		t.Errorf("unmuted gain = %v, want 0.3", g)
	}

	h.ctrl.SetVolume(layers.Bass, 7)
	if l := layerInfo(h.ctrl.Status(), layers.Bass); l.Volume != 1 {
		t.Errorf("volume = %v, want clamped to 1", l.Volume)
	}
}

func TestVolumeSurvivesRegeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ctrl.SetVolume(layers.Harmony, 0.2)
	h.ctrl.SetMuted(layers.Harmony, true)
	if err := h.ctrl.GenerateLayer(ctx, layers.Harmony); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	if g, _ := h.mixer.Gain("harmony"); g != 0 {
		t.Errorf("gain = %v, want muted", g)
	}
	h.ctrl.SetMuted(layers.Harmony, false)
	if g, _ := h.mixer.Gain("harmony"); !approx(g, 0.2) {
		t.Errorf("gain = %v, want 0.2", g)
	}
}

func TestMetronome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.ToggleMetronome(ctx, true); err != nil {
		t.Fatalf("ToggleMetronome: %v", err)
	}
	st := h.ctrl.Status()
	if !st.Metronome || layerInfo(st, layers.Metronome).Status != LayerReady {
		t.Fatalf("metronome not ready: %+v", st)
	}
	buf := h.mixer.Buffer("metronome")
	// 4 bars of 4 beats at 120 BPM.
	if buf == nil || buf.Len() != 16*24000 {
		t.Fatalf("metronome buffer len = %v", buf)
	}

	if err := h.ctrl.SetGenre(ctx, "jazz", 150); err != nil {
		t.Fatalf("SetGenre: %v", err)
	}
	if got := h.mixer.Buffer("metronome").Len(); got != 16*19200 {
		t.Errorf("re-rendered metronome len = %d, want %d", got, 16*19200)
	}

	if err := h.ctrl.ToggleMetronome(ctx, false); err != nil {
		t.Fatalf("ToggleMetronome off: %v", err)
	}
	st = h.ctrl.Status()
	if st.Metronome || h.mixer.Buffer("metronome") != nil {
		t.Error("metronome still loaded")
	}
}

func TestMetronomeLoopsDuringSinglePass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}
	if err := h.ctrl.ToggleMetronome(ctx, true); err != nil {
		t.Fatalf("ToggleMetronome: %v", err)
	}

	h.ctrl.Play(false)
	tracks := h.mixer.Tracks()
	if len(tracks) != 2 || tracks[0].StartFrame != tracks[1].StartFrame {
		t.Fatalf("tracks = %+v, want bass and metronome on one start frame", tracks)
	}

	// Past one full metronome pass: 4 bars at 120 BPM.
	render(t, h.mixer, 16*24000+1000)
	if h.mixer.IsPlaying("bass") {
		t.Error("bass still playing after a single pass")
	}
	if !h.mixer.IsPlaying("metronome") {
		t.Error("metronome stopped after one pass")
	}
	st := h.ctrl.Status()
	if !st.Metronome || !st.Playing || st.Looping {
		t.Errorf("metronome/playing/looping = %v/%v/%v, want true/true/false", st.Metronome, st.Playing, st.Looping)
	}
}

func TestRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !h.ctrl.Status().Recording {
		t.Error("status not recording")
	}
	if err := h.ctrl.StartRecording(ctx); !errors.Is(err, ErrRecordingActive) {
		t.Errorf("second start err = %v, want ErrRecordingActive", err)
	}
	if err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if l := layerInfo(h.ctrl.Status(), layers.User); l.Status != LayerReady || l.Volume != 1 {
		t.Errorf("user layer = %+v", l)
	}
}

func TestRecordingWithoutRecorder(t *testing.T) {
	ctrl, err := New(Config{Mixer: mixer.New(mixer.Config{}, nil, zerolog.Nop()), DefaultGenre: "pop"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()
	if err := ctrl.StartRecording(context.Background()); !errors.Is(err, ErrNoRecorder) {
		t.Errorf("err = %v, want ErrNoRecorder", err)
	}
	if ctrl.Status().Recording {
		t.Error("Recording = true without recorder")
	}
}

func TestAnalyze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ctrl.Analyze(ctx, nil, ""); !errors.Is(err, ErrNoTake) {
		t.Fatalf("err = %v, want ErrNoTake", err)
	}
	if err := h.ctrl.GenerateLayer(ctx, layers.Bass); err != nil {
		t.Fatalf("GenerateLayer: %v", err)
	}

	res, err := h.ctrl.Analyze(ctx, []byte("webm bytes"), "take.webm")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Feedback.Feedback != "nice" || res.TakeID == "" {
		t.Errorf("result = %+v", res)
	}
	got := h.analyzer.take
	if got.Genre != "jazz" || got.BPM != 120 || !got.Backing["bass"] || got.Backing["harmony"] {
		t.Errorf("take = %+v", got)
	}

	takes, _ := h.store.ListTakes(ctx, 0)
	if len(takes) != 1 || takes[0].Feedback != "nice" {
		t.Errorf("stored takes = %+v", takes)
	}
}

func TestAnalyzeUsesLoadedTake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := wavSource(t, 480)
	if err := h.ctrl.LoadRecording(ctx, src, []byte("raw upload")); err != nil {
		t.Fatalf("LoadRecording: %v", err)
	}
	if _, err := h.ctrl.Analyze(ctx, nil, ""); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if string(h.analyzer.take.Audio) != "raw upload" {
		t.Errorf("analyzed audio = %q", h.analyzer.take.Audio)
	}
}

func TestRecordThenAnalyze(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	res, err := h.ctrl.Analyze(ctx, nil, "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.TakeID == "" {
		t.Error("take not stored")
	}

	_, want, err := audio.ParseDataURI(h.rec.source)
	if err != nil {
		t.Fatalf("ParseDataURI: %v", err)
	}
	if got := h.analyzer.take.Audio; len(got) == 0 || string(got) != string(want) {
		t.Errorf("analyzed %d bytes, want the %d recorded bytes", len(got), len(want))
	}
}

func TestStopRecordingRejectsBadSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rec.source = "data:audio/wav;base64,@@@"
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.ctrl.StopRecording(ctx); err == nil {
		t.Error("StopRecording accepted an undecodable take")
	}
	if _, err := h.ctrl.Analyze(ctx, nil, ""); !errors.Is(err, ErrNoTake) {
		t.Errorf("Analyze err = %v, want ErrNoTake", err)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ctrl.SetGenre(ctx, "gospel", 0)
	h.ctrl.GenerateAll(ctx)
	h.ctrl.ToggleMetronome(ctx, true)
	h.ctrl.Play(true)
	h.ctrl.StartRecording(ctx)

	h.ctrl.Reset()

	st := h.ctrl.Status()
	if st.Genre != "jazz" || st.Playing || st.Metronome || st.Recording {
		t.Errorf("status after reset = %+v", st)
	}
	if len(st.Tracks) != 0 {
		t.Errorf("tracks after reset = %d", len(st.Tracks))
	}
	for _, l := range st.Layers {
		if l.Status != LayerEmpty {
			t.Errorf("%s status = %s", l.Kind, l.Status)
		}
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.ctrl.GenerateLayer(context.Background(), layers.Bass)
	h.ctrl.Close()
	if h.mixer.State() != mixer.StateClosed {
		t.Errorf("state = %s, want closed", h.mixer.State())
	}
}
