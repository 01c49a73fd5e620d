package mixer

import (
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
)

// State is the lifecycle state of an AudioContext.
type State int32

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Device is an audio output that pulls rendered samples from the graph.
// Open must not call src.Stream synchronously.
type Device interface {
	Open(format beep.Format, src beep.Streamer) error
	Close() error
}

// AudioContext owns the processing graph: every track's gain stage feeds the
// master mixer, which feeds the master gain, which the output device pulls.
// mu is held for every render and every graph mutation.
type AudioContext struct {
	format beep.Format
	device Device

	mu     sync.Mutex
	state  State
	master *beep.Mixer
	gain   *effects.Gain
	frame  int64
}

func newAudioContext(format beep.Format, device Device, masterVolume float64) *AudioContext {
	master := &beep.Mixer{}
	return &AudioContext{
		format: format,
		device: device,
		state:  StateSuspended,
		master: master,
		gain:   &effects.Gain{Streamer: master, Gain: clamp01(masterVolume) - 1},
	}
}

// Stream renders the master mix and advances the sample clock. A context
// that is not running renders silence without advancing the clock.
func (c *AudioContext) Stream(samples [][2]float64) (n int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		for i := range samples {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}

	n, _ = c.gain.Stream(samples)
	c.frame += int64(n)
	return n, true
}

func (c *AudioContext) Err() error { return nil }

// State returns the current lifecycle state.
func (c *AudioContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frame returns the number of frames rendered since the context started.
func (c *AudioContext) Frame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Format returns the processing format of the graph.
func (c *AudioContext) Format() beep.Format {
	return c.format
}

func (c *AudioContext) resume() error {
	if c.State() != StateSuspended {
		return nil
	}
	if c.device != nil {
		if err := c.device.Open(c.format, c); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.state = StateRunning
	c.mu.Unlock()
	return nil
}

func (c *AudioContext) setMasterVolume(v float64) {
	c.mu.Lock()
	c.gain.Gain = clamp01(v) - 1
	c.mu.Unlock()
}

func (c *AudioContext) close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasRunning := c.state == StateRunning
	c.state = StateClosed
	c.master.Clear()
	c.mu.Unlock()

	if wasRunning && c.device != nil {
		return c.device.Close()
	}
	return nil
}
