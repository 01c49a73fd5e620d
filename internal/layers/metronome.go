package layers

import (
	"fmt"
	"math"

	"github.com/faiface/beep"

	"github.com/satindergrewal/improv/internal/audio"
)

const (
	beatsPerBar = 4

	downbeatHz   = 1000.0
	downbeatGain = 0.3
	beatHz       = 800.0
	beatGain     = 0.15

	clickSeconds  = 0.05
	attackSeconds = 0.002
	decayFloor    = 0.01
)

// clickEnvelope is the click amplitude t seconds after the beat: a short
// smoothstep attack followed by an exponential decay to 1% over the click.
func clickEnvelope(t float64) float64 {
	if t < 0 || t >= clickSeconds {
		return 0
	}
	env := math.Pow(decayFloor, t/clickSeconds)
	if t < attackSeconds {
		env *= audio.Smoothstep(t / attackSeconds)
	}
	return env
}

// MetronomeStreamer renders bars of 4/4 clicks at bpm. The first beat of
// each bar is accented.
func MetronomeStreamer(bpm, bars int, sr beep.SampleRate) (beep.Streamer, error) {
	if bpm <= 0 || bars <= 0 {
		return nil, fmt.Errorf("%w: bpm %d, bars %d", ErrBPMOutOfRange, bpm, bars)
	}
	beatLen := int(math.Round(float64(sr) * 60 / float64(bpm)))
	total := beatLen * beatsPerBar * bars

	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (n int, ok bool) {
		if pos >= total {
			return 0, false
		}
		for i := range samples {
			if pos >= total {
				return i, true
			}
			beat := pos / beatLen
			t := float64(pos%beatLen) / float64(sr)
			freq, gain := beatHz, beatGain
			if beat%beatsPerBar == 0 {
				freq, gain = downbeatHz, downbeatGain
			}
			v := gain * clickEnvelope(t) * math.Sin(2*math.Pi*freq*t)
			samples[i][0] = v
			samples[i][1] = v
			pos++
		}
		return len(samples), true
	}), nil
}

// MetronomeSource renders the click track as a WAV data URI.
func MetronomeSource(bpm, bars int, format beep.Format) (string, error) {
	s, err := MetronomeStreamer(bpm, bars, format.SampleRate)
	if err != nil {
		return "", err
	}
	return audio.WAVDataURI(s, format)
}
