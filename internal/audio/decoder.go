package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

var (
	ErrUnknownFormat = errors.New("unknown audio format")
	ErrEmptyAudio    = errors.New("empty audio")
)

// Container is the sniffed container type of an encoded source.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerFLAC    Container = "flac"
	ContainerOgg     Container = "ogg"
	ContainerWebM    Container = "webm"
	ContainerMP4     Container = "mp4"
	ContainerAAC     Container = "aac"
)

// Sniff identifies the container from its leading bytes.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return ContainerFLAC
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return ContainerOgg
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return ContainerWebM
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return ContainerMP4
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// Layer bits 01 = MPEG Layer III; 00 = ADTS AAC.
		if (data[1]>>1)&0x3 == 1 {
			return ContainerMP3
		}
		if (data[1]>>1)&0x3 == 0 {
			return ContainerAAC
		}
	}
	return ContainerUnknown
}

// Decode decodes an encoded source held in memory. WAV, MP3, FLAC and Ogg
// Vorbis are decoded natively; browser recording containers go through FFmpeg.
func Decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if len(data) == 0 {
		return nil, beep.Format{}, ErrEmptyAudio
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch c := Sniff(data); c {
	case ContainerWAV:
		s, format, err = wav.Decode(bytes.NewReader(data))
		if err == nil && format.Precision == 2 {
			s = &pcm16Gain{StreamSeekCloser: s}
		}
	case ContainerFLAC:
		s, format, err = flac.Decode(bytes.NewReader(data))
	case ContainerOgg:
		s, format, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	case ContainerMP3:
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case ContainerWebM, ContainerMP4, ContainerAAC:
		return DecodeFFmpeg(data)
	default:
		return nil, beep.Format{}, ErrUnknownFormat
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", Sniff(data), err)
	}
	return s, format, nil
}

// wavPCM16Scale undoes the beep WAV decoder dividing 16-bit samples by
// 1<<16-1 instead of the 1<<15-1 the encoder multiplies by.
const wavPCM16Scale = float64(1<<16-1) / float64(1<<15-1)

// pcm16Gain restores full scale on a 16-bit WAV stream.
type pcm16Gain struct {
	beep.StreamSeekCloser
}

func (p *pcm16Gain) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = p.StreamSeekCloser.Stream(samples)
	for i := range samples[:n] {
		for c := range samples[i] {
			samples[i][c] = math.Max(-1, math.Min(1, samples[i][c]*wavPCM16Scale))
		}
	}
	return n, ok
}

// DecodeFFmpeg pipes an encoded source through FFmpeg and returns interleaved
// stereo PCM at 48kHz as a seekable streamer.
func DecodeFFmpeg(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, beep.Format{}, fmt.Errorf("ffmpeg decode: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("ffmpeg decode: %w", err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}
	if len(samples) < Channels {
		return nil, beep.Format{}, ErrEmptyAudio
	}

	return NewPCMStreamer(samples), Format, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// PCMStreamer streams interleaved stereo int16 samples.
type PCMStreamer struct {
	samples []int16
	pos     int
}

// NewPCMStreamer wraps interleaved stereo samples. A trailing odd sample is ignored.
func NewPCMStreamer(samples []int16) *PCMStreamer {
	return &PCMStreamer{samples: samples[:len(samples)/Channels*Channels]}
}

func (p *PCMStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	total := p.Len()
	if p.pos >= total {
		return 0, false
	}
	for n < len(samples) && p.pos < total {
		i := p.pos * Channels
		samples[n][0] = float64(p.samples[i]) / 32768
		samples[n][1] = float64(p.samples[i+1]) / 32768
		n++
		p.pos++
	}
	return n, true
}

func (p *PCMStreamer) Err() error    { return nil }
func (p *PCMStreamer) Len() int      { return len(p.samples) / Channels }
func (p *PCMStreamer) Position() int { return p.pos }
func (p *PCMStreamer) Close() error  { return nil }

func (p *PCMStreamer) Seek(pos int) error {
	if pos < 0 || pos > p.Len() {
		return fmt.Errorf("seek position %d out of range [0, %d]", pos, p.Len())
	}
	p.pos = pos
	return nil
}
