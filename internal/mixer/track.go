package mixer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
)

// Track is one independently controllable layer. Fields touched by the
// renderer (gain, bus, out, connection ctrl) are only mutated with the
// context's graph lock held; the rest is guarded by the Mixer lock.
type Track struct {
	id     string
	buffer *beep.Buffer

	bus  *beep.Mixer   // active connection feeds in here
	gain *effects.Gain // persists across play/stop
	out  *beep.Ctrl    // gain stage -> master

	volume float64
	muted  bool
	conn   *connection
}

// connection is one playback instance of a track's buffer.
type connection struct {
	ctrl       *beep.Ctrl
	loop       bool
	startFrame int64
	ended      atomic.Bool
}

// TrackInfo is a snapshot of a loaded track.
type TrackInfo struct {
	ID         string        `json:"id"`
	Duration   time.Duration `json:"duration"`
	Volume     float64       `json:"volume"`
	Muted      bool          `json:"muted"`
	Gain       float64       `json:"gain"`
	Playing    bool          `json:"playing"`
	Looping    bool          `json:"looping"`
	StartFrame int64         `json:"start_frame"`
}

func newTrack(id string, buf *beep.Buffer) *Track {
	bus := &beep.Mixer{}
	gain := &effects.Gain{Streamer: bus}
	return &Track{
		id:     id,
		buffer: buf,
		bus:    bus,
		gain:   gain,
		out:    &beep.Ctrl{Streamer: gain},
		volume: 1,
	}
}

func (t *Track) playing() bool {
	return t.conn != nil && !t.conn.ended.Load()
}

// effectiveGain is the gain the stage should carry given volume and mute.
func (t *Track) effectiveGain() float64 {
	if t.muted {
		return 0
	}
	return t.volume
}

// Graph lock held.
func (t *Track) applyGainLocked() {
	t.gain.Gain = t.effectiveGain() - 1
}

// Graph lock held. onEnd runs on the render path when a non-looping
// connection drains.
func (t *Track) startLocked(frame int64, loop bool, onEnd func(*connection)) *connection {
	t.stopLocked()

	var src beep.Streamer = t.buffer.Streamer(0, t.buffer.Len())
	if loop {
		src = beep.Loop(-1, t.buffer.Streamer(0, t.buffer.Len()))
	}

	c := &connection{loop: loop, startFrame: frame}
	c.ctrl = &beep.Ctrl{Streamer: beep.Seq(src, beep.Callback(func() {
		c.ended.Store(true)
		if onEnd != nil {
			onEnd(c)
		}
	}))}
	t.bus.Add(c.ctrl)
	t.conn = c
	return c
}

// Graph lock held. Idempotent.
func (t *Track) stopLocked() {
	if t.conn == nil {
		return
	}
	t.conn.ctrl.Streamer = nil
	t.conn.ended.Store(true)
	t.conn = nil
}

// Graph lock held.
func (t *Track) disconnectLocked() {
	t.stopLocked()
	t.bus.Clear()
	t.out.Streamer = nil
}

func (t *Track) info(format beep.Format) TrackInfo {
	ti := TrackInfo{
		ID:       t.id,
		Duration: format.SampleRate.D(t.buffer.Len()),
		Volume:   t.volume,
		Muted:    t.muted,
		Gain:     t.effectiveGain(),
		Playing:  t.playing(),
	}
	if ti.Playing {
		ti.Looping = t.conn.loop
		ti.StartFrame = t.conn.startFrame
	}
	return ti
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
