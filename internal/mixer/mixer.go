// Package mixer decodes audio sources into in-memory buffers keyed by track
// id and plays them through per-track gain stages into a shared master mix.
package mixer

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
)

// Config tunes the mixer. Zero values fall back to DefaultConfig.
type Config struct {
	SampleRate      beep.SampleRate
	MasterVolume    float64
	FetchTimeout    time.Duration
	MaxSourceBytes  int64
	ResampleQuality int
	LoadConcurrency int
}

// DefaultConfig returns the settings used when a Config field is zero.
func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.Format.SampleRate,
		MasterVolume:    1,
		FetchTimeout:    30 * time.Second,
		MaxSourceBytes:  32 << 20,
		ResampleQuality: 4,
		LoadConcurrency: 4,
	}
}

// Mixer owns one audio context and the tracks wired into it.
type Mixer struct {
	cfg    Config
	format beep.Format
	device Device
	logger zerolog.Logger
	http   *http.Client

	mu       sync.Mutex
	actx     *AudioContext
	contexts int
	tracks   map[string]*Track
	gens     map[string]uint64
	nextGen  uint64
}

// New creates a mixer that renders into device. A nil device leaves the
// graph to be pulled by the caller through Context(). A zero MasterVolume
// means full volume; silence the master with SetMasterVolume(0).
func New(cfg Config, device Device, logger zerolog.Logger) *Mixer {
	def := DefaultConfig()
	if cfg.MasterVolume == 0 {
		cfg.MasterVolume = def.MasterVolume
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxSourceBytes == 0 {
		cfg.MaxSourceBytes = def.MaxSourceBytes
	}
	if cfg.ResampleQuality == 0 {
		cfg.ResampleQuality = def.ResampleQuality
	}
	if cfg.LoadConcurrency == 0 {
		cfg.LoadConcurrency = def.LoadConcurrency
	}

	return &Mixer{
		cfg: cfg,
		format: beep.Format{
			SampleRate:  cfg.SampleRate,
			NumChannels: audio.Channels,
			Precision:   audio.BitDepth / 8,
		},
		device: device,
		logger: logger.With().Str("component", "mixer").Logger(),
		http:   &http.Client{Timeout: cfg.FetchTimeout},
		tracks: make(map[string]*Track),
		gens:   make(map[string]uint64),
	}
}

// Initialize creates the audio context on first use and resumes it if it is
// suspended. Safe for concurrent callers; at most one context is live.
// If the output device cannot be opened the context stays suspended.
func (m *Mixer) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initializeLocked()
}

func (m *Mixer) initializeLocked() {
	if m.actx == nil {
		m.actx = newAudioContext(m.format, m.device, m.cfg.MasterVolume)
		m.contexts++
		m.logger.Debug().Int("sample_rate", int(m.format.SampleRate)).Msg("audio context created")
	}
	if m.actx.State() != StateSuspended {
		return
	}
	if err := m.actx.resume(); err != nil {
		m.logger.Warn().Err(err).Msg("output device unavailable, audio context stays suspended")
		return
	}
	m.logger.Info().Msg("audio context running")
}

// Context returns the live audio context, or nil before Initialize.
func (m *Mixer) Context() *AudioContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actx
}

// State returns the context state; closed when no context exists.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actx == nil {
		return StateClosed
	}
	return m.actx.State()
}

// Frame returns the context's sample clock.
func (m *Mixer) Frame() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actx == nil {
		return 0
	}
	return m.actx.Frame()
}

// Format returns the format every track is decoded into.
func (m *Mixer) Format() beep.Format {
	return m.format
}

// SetMasterVolume sets the master gain, clamped to [0,1].
func (m *Mixer) SetMasterVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MasterVolume = clamp01(v)
	if m.actx != nil {
		m.actx.setMasterVolume(v)
	}
}

// install replaces any track under id with a fresh one. Mixer lock held.
func (m *Mixer) installLocked(id string, buf *beep.Buffer) *Track {
	t := newTrack(id, buf)
	c := m.actx
	c.mu.Lock()
	if old := m.tracks[id]; old != nil {
		old.disconnectLocked()
	}
	c.master.Add(t.out)
	c.mu.Unlock()
	m.tracks[id] = t
	return t
}

// SetTrackVolume clamps volume to [0,1] and applies it. Setting a volume
// clears mute. Unknown ids are ignored.
func (m *Mixer) SetTrackVolume(id string, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	if t == nil {
		return
	}
	t.volume = clamp01(volume)
	t.muted = false
	m.withGraph(t.applyGainLocked)
}

// SetTrackMuted silences a track or restores its last volume.
// Unknown ids are ignored.
func (m *Mixer) SetTrackMuted(id string, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	if t == nil {
		return
	}
	t.muted = muted
	m.withGraph(t.applyGainLocked)
}

// PlayTrack starts id from the beginning, replacing any active connection.
func (m *Mixer) PlayTrack(id string, loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	if t == nil || t.buffer == nil {
		return
	}
	c := m.actx
	c.mu.Lock()
	conn := t.startLocked(c.frame, loop, m.endedFunc(id))
	c.mu.Unlock()
	m.logger.Debug().Str("track", id).Bool("loop", loop).Int64("start_frame", conn.startFrame).Msg("track started")
}

// PlayAllTracks starts every loaded track at one shared start frame.
func (m *Mixer) PlayAllTracks(loop bool) {
	m.PlayAllTracksFunc(func(string) bool { return loop })
}

// PlayAllTracksFunc is PlayAllTracks with the loop flag chosen per track id.
func (m *Mixer) PlayAllTracksFunc(loop func(id string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actx == nil || len(m.tracks) == 0 {
		return
	}

	c := m.actx
	c.mu.Lock()
	start := c.frame
	started := 0
	for id, t := range m.tracks {
		if t.buffer == nil {
			continue
		}
		t.startLocked(start, loop(id), m.endedFunc(id))
		started++
	}
	c.mu.Unlock()

	m.logger.Debug().Int("tracks", started).Int64("start_frame", start).Msg("all tracks started")
}

// StopTrack tears down the active connection. Idempotent.
func (m *Mixer) StopTrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	if t == nil {
		return
	}
	m.withGraph(t.stopLocked)
}

// StopAllTracks stops every loaded track.
func (m *Mixer) StopAllTracks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withGraph(func() {
		for _, t := range m.tracks {
			t.stopLocked()
		}
	})
}

// RemoveTrack stops id, disconnects its gain stage and forgets it. A load
// for id still in flight is discarded when it completes.
func (m *Mixer) RemoveTrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gens, id)
	t := m.tracks[id]
	if t == nil {
		return
	}
	m.withGraph(t.disconnectLocked)
	delete(m.tracks, id)
	m.logger.Debug().Str("track", id).Msg("track removed")
}

// Dispose stops and disconnects everything and closes the audio context and
// output device. A later Initialize builds a fresh context.
func (m *Mixer) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.actx != nil {
		m.withGraph(func() {
			for _, t := range m.tracks {
				t.disconnectLocked()
			}
		})
		if err := m.actx.close(); err != nil {
			m.logger.Warn().Err(err).Msg("close output device")
		}
		m.actx = nil
	}
	m.tracks = make(map[string]*Track)
	m.gens = make(map[string]uint64)
	m.logger.Info().Msg("mixer disposed")
}

// IsPlaying reports whether id has a live connection.
func (m *Mixer) IsPlaying(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	return t != nil && t.playing()
}

// Gain returns the value carried by id's gain stage.
func (m *Mixer) Gain(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tracks[id]
	if t == nil {
		return 0, false
	}
	var g float64
	m.withGraph(func() { g = t.gain.Gain + 1 })
	return g, true
}

// Buffer returns the decoded buffer of id.
func (m *Mixer) Buffer(id string) *beep.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.tracks[id]; t != nil {
		return t.buffer
	}
	return nil
}

// Tracks returns a snapshot of every loaded track, sorted by id.
func (m *Mixer) Tracks() []TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackInfo, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t.info(m.format))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// withGraph runs fn under the graph lock. Mixer lock held.
func (m *Mixer) withGraph(fn func()) {
	if m.actx == nil {
		fn()
		return
	}
	m.actx.mu.Lock()
	defer m.actx.mu.Unlock()
	fn()
}

// endedFunc returns the natural-end hook for a connection of id. It runs on
// the render path with the graph lock held, so the map cleanup is deferred
// to a goroutine to respect the mixer-then-graph lock order.
func (m *Mixer) endedFunc(id string) func(*connection) {
	return func(c *connection) {
		go m.clearEnded(id, c)
	}
}

func (m *Mixer) clearEnded(id string, c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.tracks[id]; t != nil && t.conn == c {
		t.conn = nil
		m.logger.Debug().Str("track", id).Msg("track ended")
	}
}
