// Package session drives one improv practice session: it owns the mixer,
// generates and loads the backing layers, records the singer, and hands takes
// to the coach.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/mixer"
	"github.com/satindergrewal/improv/internal/store"
)

var (
	ErrRecordingActive = errors.New("recording already in progress")
	ErrNoRecorder      = errors.New("no microphone recorder available")
	ErrLoadFailed      = errors.New("audio could not be loaded")
	ErrNoTake          = errors.New("no take recorded yet")
)

// MetronomeBars is the length of the rendered click loop.
const MetronomeBars = 4

// LayerGenerator renders a generated layer to a loadable source.
type LayerGenerator interface {
	Generate(ctx context.Context, kind layers.Kind, genre string, bpm int) (string, error)
}

// Recorder captures a take from a local microphone.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (string, error)
	Recording() bool
}

// Analyzer produces feedback on a take.
type Analyzer interface {
	Analyze(ctx context.Context, take coach.Take) (coach.Feedback, error)
}

// LayerStatus is the lifecycle state of one layer.
type LayerStatus string

const (
	LayerEmpty      LayerStatus = "empty"
	LayerGenerating LayerStatus = "generating"
	LayerReady      LayerStatus = "ready"
	LayerFailed     LayerStatus = "failed"
)

type layerState struct {
	status LayerStatus
	volume float64
	muted  bool
	err    string
	// take holds the encoded audio of the user layer for analysis.
	take []byte
}

// LayerInfo is the externally visible state of a layer.
type LayerInfo struct {
	Kind    layers.Kind `json:"kind"`
	Status  LayerStatus `json:"status"`
	Volume  float64     `json:"volume"`
	Muted   bool        `json:"muted"`
	Playing bool        `json:"playing"`
	Error   string      `json:"error,omitempty"`
}

// Status is a snapshot of the session.
type Status struct {
	Genre      string            `json:"genre"`
	BPM        int               `json:"bpm"`
	Playing    bool              `json:"playing"`
	Looping    bool              `json:"looping"`
	Recording  bool              `json:"recording"`
	Metronome  bool              `json:"metronome"`
	AudioState string            `json:"audio_state"`
	Layers     []LayerInfo       `json:"layers"`
	Tracks     []mixer.TrackInfo `json:"tracks"`
}

// AnalyzeResult is the coach's feedback plus the stored take id.
type AnalyzeResult struct {
	coach.Feedback
	TakeID string `json:"take_id"`
}

// Controller is the single owner of the mixer for a session.
type Controller struct {
	mixer     *mixer.Mixer
	generator LayerGenerator
	recorder  Recorder
	coach     Analyzer
	store     store.Store
	logger    zerolog.Logger

	defaultGenre string

	mu        sync.RWMutex
	genre     string
	bpm       int
	looping   bool
	metronome bool
	layers    map[layers.Kind]*layerState
}

// Config holds the session controller's dependencies. Recorder may be nil.
type Config struct {
	Mixer        *mixer.Mixer
	Generator    LayerGenerator
	Recorder     Recorder
	Coach        Analyzer
	Store        store.Store
	DefaultGenre string
}

func New(cfg Config, logger zerolog.Logger) (*Controller, error) {
	g, err := layers.LookupGenre(cfg.DefaultGenre)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		mixer:        cfg.Mixer,
		generator:    cfg.Generator,
		recorder:     cfg.Recorder,
		coach:        cfg.Coach,
		store:        cfg.Store,
		logger:       logger.With().Str("component", "session").Logger(),
		defaultGenre: g.Name,
	}
	c.resetLocked(g)
	return c, nil
}

func (c *Controller) resetLocked(g layers.Genre) {
	c.genre = g.Name
	c.bpm = g.DefaultBPM
	c.looping = false
	c.metronome = false
	c.layers = make(map[layers.Kind]*layerState, len(layers.All))
	for _, k := range layers.All {
		c.layers[k] = &layerState{status: LayerEmpty, volume: k.DefaultVolume()}
	}
}

// Mixer exposes the underlying mixer.
func (c *Controller) Mixer() *mixer.Mixer {
	return c.mixer
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	recording := c.recorder != nil && c.recorder.Recording()

	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Genre:      c.genre,
		BPM:        c.bpm,
		Looping:    c.looping,
		Recording:  recording,
		Metronome:  c.metronome,
		AudioState: c.mixer.State().String(),
		Tracks:     c.mixer.Tracks(),
	}
	for _, k := range layers.All {
		ls := c.layers[k]
		playing := c.mixer.IsPlaying(string(k))
		st.Playing = st.Playing || playing
		st.Layers = append(st.Layers, LayerInfo{
			Kind:    k,
			Status:  ls.status,
			Volume:  ls.volume,
			Muted:   ls.muted,
			Playing: playing,
			Error:   ls.err,
		})
	}
	return st
}

// SetGenre changes the session style. A zero bpm selects the genre default.
// Existing layers are kept; the metronome is re-rendered at the new tempo.
func (c *Controller) SetGenre(ctx context.Context, genre string, bpm int) error {
	g, err := layers.LookupGenre(genre)
	if err != nil {
		return err
	}
	bpm, err = g.ResolveBPM(bpm)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.genre = g.Name
	c.bpm = bpm
	metronome := c.metronome
	c.mu.Unlock()

	c.logger.Info().Str("genre", g.Name).Int("bpm", bpm).Msg("genre set")
	if metronome {
		return c.loadMetronome(ctx)
	}
	return nil
}

// GenerateLayer generates one backing layer and loads it into the mixer.
func (c *Controller) GenerateLayer(ctx context.Context, kind layers.Kind) error {
	if !kind.IsGenerated() {
		return fmt.Errorf("%w: %s cannot be generated", layers.ErrUnknownKind, kind)
	}

	c.mu.Lock()
	genre, bpm := c.genre, c.bpm
	c.layers[kind].status = LayerGenerating
	c.layers[kind].err = ""
	c.mu.Unlock()

	src, err := c.generator.Generate(ctx, kind, genre, bpm)
	if err != nil {
		c.fail(kind, err)
		return err
	}
	if err := c.load(ctx, kind, src); err != nil {
		c.fail(kind, err)
		return err
	}
	return nil
}

// GenerateAll generates every backing layer concurrently. Each layer succeeds
// or fails on its own; the first error is returned.
func (c *Controller) GenerateAll(ctx context.Context) error {
	var g errgroup.Group
	for _, kind := range layers.Generated {
		g.Go(func() error {
			return c.GenerateLayer(ctx, kind)
		})
	}
	return g.Wait()
}

// LoadRecording installs source as the user layer.
func (c *Controller) LoadRecording(ctx context.Context, source string, take []byte) error {
	if err := c.load(ctx, layers.User, source); err != nil {
		c.fail(layers.User, err)
		return err
	}
	c.mu.Lock()
	c.layers[layers.User].take = take
	c.mu.Unlock()
	return nil
}

// StartRecording begins a microphone take. The backing layers keep playing.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	if c.recorder.Recording() {
		return ErrRecordingActive
	}
	// The take outlives the request that started it.
	return c.recorder.Start(context.WithoutCancel(ctx))
}

// StopRecording ends the take and loads it as the user layer. The take is
// kept for Analyze.
func (c *Controller) StopRecording(ctx context.Context) error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	src, err := c.recorder.Stop()
	if err != nil {
		return err
	}
	_, take, err := audio.ParseDataURI(src)
	if err != nil {
		return fmt.Errorf("read take: %w", err)
	}
	return c.LoadRecording(ctx, src, take)
}

// SetVolume sets a layer's volume. It applies to the current and any future
// buffer for the layer.
func (c *Controller) SetVolume(kind layers.Kind, volume float64) {
	c.mu.Lock()
	ls, ok := c.layers[kind]
	if ok {
		ls.volume = clampVolume(volume)
		ls.muted = false
	}
	c.mu.Unlock()
	if ok {
		c.mixer.SetTrackVolume(string(kind), volume)
	}
}

// SetMuted mutes or unmutes a layer.
func (c *Controller) SetMuted(kind layers.Kind, muted bool) {
	c.mu.Lock()
	ls, ok := c.layers[kind]
	if ok {
		ls.muted = muted
	}
	c.mu.Unlock()
	if ok {
		c.mixer.SetTrackMuted(string(kind), muted)
	}
}

// RemoveLayer unloads a layer.
func (c *Controller) RemoveLayer(kind layers.Kind) {
	c.mixer.RemoveTrack(string(kind))
	c.mu.Lock()
	if ls, ok := c.layers[kind]; ok {
		*ls = layerState{status: LayerEmpty, volume: kind.DefaultVolume()}
	}
	if kind == layers.Metronome {
		c.metronome = false
	}
	c.mu.Unlock()
}

// Play starts every loaded layer in sync. The metronome loops regardless.
func (c *Controller) Play(loop bool) {
	c.mixer.Initialize()
	c.mu.Lock()
	c.looping = loop
	c.mu.Unlock()
	c.mixer.PlayAllTracksFunc(func(id string) bool {
		return loop || id == string(layers.Metronome)
	})
	c.logger.Info().Bool("loop", loop).Msg("playback started")
}

// Stop stops every layer.
func (c *Controller) Stop() {
	c.mixer.StopAllTracks()
	c.logger.Info().Msg("playback stopped")
}

// ToggleMetronome renders and loads the click track, or removes it.
func (c *Controller) ToggleMetronome(ctx context.Context, on bool) error {
	if !on {
		c.RemoveLayer(layers.Metronome)
		return nil
	}
	c.mu.Lock()
	c.metronome = true
	c.mu.Unlock()
	return c.loadMetronome(ctx)
}

func (c *Controller) loadMetronome(ctx context.Context) error {
	c.mu.RLock()
	bpm := c.bpm
	c.mu.RUnlock()

	src, err := layers.MetronomeSource(bpm, MetronomeBars, c.mixer.Format())
	if err != nil {
		c.fail(layers.Metronome, err)
		return err
	}
	if err := c.load(ctx, layers.Metronome, src); err != nil {
		c.fail(layers.Metronome, err)
		return err
	}
	return nil
}

// Analyze sends a take to the coach and stores the result. With no audio the
// last loaded user take is analyzed.
func (c *Controller) Analyze(ctx context.Context, data []byte, filename string) (AnalyzeResult, error) {
	c.mu.RLock()
	genre, bpm := c.genre, c.bpm
	backing := make(map[string]bool, len(layers.Generated))
	for _, k := range layers.Generated {
		backing[string(k)] = c.layers[k].status == LayerReady
	}
	if len(data) == 0 {
		data = c.layers[layers.User].take
	}
	c.mu.RUnlock()

	if len(data) == 0 {
		return AnalyzeResult{}, ErrNoTake
	}

	fb, err := c.coach.Analyze(ctx, coach.Take{
		Audio:    data,
		Filename: filename,
		Genre:    genre,
		BPM:      bpm,
		Backing:  backing,
	})
	if err != nil {
		return AnalyzeResult{}, err
	}

	res := AnalyzeResult{Feedback: fb}
	if c.store != nil {
		rec, err := c.store.SaveTake(ctx, store.TakeRecord{
			Genre:         genre,
			BPM:           bpm,
			DurationSec:   fb.DurationSec,
			Transcription: fb.Transcription,
			Feedback:      fb.Feedback,
			Tips:          fb.Tips,
			Source:        fb.Source,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("save take failed")
		} else {
			res.TakeID = rec.ID.String()
		}
	}
	return res, nil
}

// Reset stops playback, unloads every layer, and returns to the default genre.
func (c *Controller) Reset() {
	if c.recorder != nil && c.recorder.Recording() {
		if _, err := c.recorder.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("discard take")
		}
	}
	c.mixer.StopAllTracks()
	for _, k := range layers.All {
		c.mixer.RemoveTrack(string(k))
	}
	g, _ := layers.LookupGenre(c.defaultGenre)
	c.mu.Lock()
	c.resetLocked(g)
	c.mu.Unlock()
	c.logger.Info().Msg("session reset")
}

// Close releases the audio context.
func (c *Controller) Close() {
	if c.recorder != nil && c.recorder.Recording() {
		_, _ = c.recorder.Stop()
	}
	c.mixer.Dispose()
}

// playingExcept reports whether any layer other than kind is sounding.
func (c *Controller) playingExcept(kind layers.Kind) bool {
	for _, k := range layers.All {
		if k != kind && c.mixer.IsPlaying(string(k)) {
			return true
		}
	}
	return false
}

// load installs src as kind and applies the layer's volume and mute state.
// If another layer is sounding the new one joins in.
func (c *Controller) load(ctx context.Context, kind layers.Kind, src string) error {
	if c.mixer.LoadTrack(ctx, string(kind), src) == nil {
		return fmt.Errorf("%w: %s", ErrLoadFailed, kind)
	}

	c.mu.Lock()
	ls := c.layers[kind]
	ls.status = LayerReady
	ls.err = ""
	volume, muted := ls.volume, ls.muted
	loop := c.looping
	c.mu.Unlock()
	playing := c.playingExcept(kind)

	id := string(kind)
	c.mixer.SetTrackVolume(id, volume)
	if muted {
		c.mixer.SetTrackMuted(id, true)
	}
	if playing {
		c.mixer.PlayTrack(id, loop || kind == layers.Metronome)
	}
	c.logger.Info().Str("layer", id).Msg("layer ready")
	return nil
}

// fail records err on the layer. A layer whose previous buffer is still
// loaded stays ready.
func (c *Controller) fail(kind layers.Kind, err error) {
	status := LayerFailed
	if c.mixer.Buffer(string(kind)) != nil {
		status = LayerReady
	}
	c.mu.Lock()
	if ls, ok := c.layers[kind]; ok {
		ls.status = status
		ls.err = err.Error()
	}
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("layer", string(kind)).Msg("layer failed")
}

func clampVolume(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
