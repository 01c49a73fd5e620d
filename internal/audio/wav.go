package audio

import (
	"fmt"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// EncodeWAV renders s to a WAV file in memory. wav.Encode needs a seekable
// writer to patch the header, so the data is staged in a temp file.
func EncodeWAV(s beep.Streamer, format beep.Format) ([]byte, error) {
	f, err := os.CreateTemp("", "improv-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := wav.Encode(f, s, format); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return data, nil
}

// WAVDataURI renders s to WAV and wraps it in a data: URI.
func WAVDataURI(s beep.Streamer, format beep.Format) (string, error) {
	data, err := EncodeWAV(s, format)
	if err != nil {
		return "", err
	}
	return EncodeDataURI("audio/wav", data), nil
}
