// Package speaker plays the mixer output on the local sound card.
package speaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog"
)

// Device is a mixer output backed by beep/speaker. The underlying driver is
// process-global, so only one Device should be open at a time.
type Device struct {
	bufferSize time.Duration
	logger     zerolog.Logger

	mu   sync.Mutex
	rate beep.SampleRate
	open bool
}

// New creates a speaker device with the given driver buffer length.
func New(bufferSize time.Duration, logger zerolog.Logger) *Device {
	if bufferSize <= 0 {
		bufferSize = time.Second / 10
	}
	return &Device{
		bufferSize: bufferSize,
		logger:     logger.With().Str("component", "speaker").Logger(),
	}
}

// Open initializes the driver on first use and starts playing src.
func (d *Device) Open(format beep.Format, src beep.Streamer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rate != format.SampleRate {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(d.bufferSize)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		d.rate = format.SampleRate
		d.logger.Info().Int("sample_rate", int(format.SampleRate)).Dur("buffer", d.bufferSize).Msg("speaker initialized")
	}

	speaker.Play(src)
	d.open = true
	return nil
}

// Close stops playback. The driver stays initialized for the next Open.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	speaker.Clear()
	d.open = false
	return nil
}
