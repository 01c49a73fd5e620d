package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"
)

var ErrDeviceOpen = errors.New("device already open")

// FrameDevice is a mixer output that pulls 20ms frames from its source at
// real-time rate and publishes them as interleaved int16 PCM.
type FrameDevice struct {
	logger  zerolog.Logger
	frameCh chan []int16

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	rendered atomic.Int64
}

// NewFrameDevice creates a frame device. The frame channel lives for the
// lifetime of the device and survives Close/Open cycles.
func NewFrameDevice(logger zerolog.Logger) *FrameDevice {
	return &FrameDevice{
		logger:  logger.With().Str("component", "frame_device").Logger(),
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (d *FrameDevice) Frames() <-chan []int16 {
	return d.frameCh
}

// FramesRendered returns the number of frames pulled from the source so far.
func (d *FrameDevice) FramesRendered() int64 {
	return d.rendered.Load()
}

// Open starts the frame clock. The source must be at the processing rate.
func (d *FrameDevice) Open(format beep.Format, src beep.Streamer) error {
	if format.SampleRate != Format.SampleRate {
		return fmt.Errorf("frame device needs %d Hz, got %d Hz", SampleRate, format.SampleRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrDeviceOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, src, d.done)

	d.logger.Debug().Msg("frame clock started")
	return nil
}

// Close stops the frame clock and waits for the render loop to exit.
func (d *FrameDevice) Close() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	d.logger.Debug().Int64("frames", d.rendered.Load()).Msg("frame clock stopped")
	return nil
}

func (d *FrameDevice) run(ctx context.Context, src beep.Streamer, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := RenderFrame(src, buf)
		d.rendered.Add(1)

		select {
		case d.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// RenderFrame pulls len(buf) samples from src and returns them as interleaved
// int16. A short read is padded with silence.
func RenderFrame(src beep.Streamer, buf [][2]float64) []int16 {
	n, _ := src.Stream(buf)
	frame := make([]int16, len(buf)*Channels)
	for i := 0; i < n; i++ {
		frame[i*2] = FloatToInt16(buf[i][0])
		frame[i*2+1] = FloatToInt16(buf[i][1])
	}
	return frame
}
