// Package capture records microphone takes through PortAudio.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
)

var (
	ErrRecording    = errors.New("already recording")
	ErrNotRecording = errors.New("not recording")
)

type Config struct {
	SampleRate      int
	FramesPerBuffer int
	Limit           time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.SampleRate,
		FramesPerBuffer: 1024,
		Limit:           30 * time.Second,
	}
}

// Recorder captures mono input from the default device. One take at a time.
type Recorder struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	samples []int16
	err     error
}

func NewRecorder(cfg Config, logger zerolog.Logger) *Recorder {
	return &Recorder{
		cfg:    cfg,
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// Recording reports whether a take is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Start opens the input stream and records until Stop, ctx cancellation, or
// the configured limit.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return ErrRecording
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int32, r.cfg.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), r.cfg.FramesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input: %w", err)
	}

	var cancel context.CancelFunc
	if r.cfg.Limit > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Limit)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	r.cancel = cancel
	r.done = make(chan struct{})
	r.samples = nil
	r.err = nil

	go r.run(ctx, stream, buf, r.done)
	r.logger.Info().Int("sample_rate", r.cfg.SampleRate).Dur("limit", r.cfg.Limit).Msg("recording started")
	return nil
}

// Done is closed when the current take stops for any reason.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

func (r *Recorder) run(ctx context.Context, stream *portaudio.Stream, buf []int32, done chan struct{}) {
	defer close(done)
	defer portaudio.Terminate()
	defer stream.Close()
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			r.logger.Error().Err(err).Msg("read input")
			return
		}
		chunk := ToInt16(buf)
		r.mu.Lock()
		r.samples = append(r.samples, chunk...)
		r.mu.Unlock()
	}
}

// Stop ends the take and returns it as a WAV data URI.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if r.done == nil {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	samples, err := r.samples, r.err
	r.samples, r.err, r.cancel, r.done = nil, nil, nil, nil
	r.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("recording failed: %w", err)
	}
	r.logger.Info().Dur("length", time.Duration(len(samples))*time.Second/time.Duration(r.cfg.SampleRate)).Msg("recording stopped")
	return EncodeTake(samples, r.cfg.SampleRate)
}

// ToInt16 narrows 32-bit device samples to 16 bits.
func ToInt16(in []int32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = int16(s >> 16)
	}
	return out
}

// EncodeTake converts mono samples to a stereo WAV data URI.
func EncodeTake(mono []int16, sampleRate int) (string, error) {
	if len(mono) == 0 {
		return "", audio.ErrEmptyAudio
	}
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[2*i] = s
		stereo[2*i+1] = s
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 2,
		Precision:   2,
	}
	return audio.WAVDataURI(audio.NewPCMStreamer(stereo), format)
}
