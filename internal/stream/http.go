package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
)

const defaultMP3Kbps = 192

// MP3Encoder describes the FFmpeg process that turns the PCM mix into MP3.
type MP3Encoder struct {
	Binary      string
	SampleRate  int
	Channels    int
	BitrateKbps int
}

// Args returns the FFmpeg arguments: s16le on stdin, low-latency MP3 on stdout.
func (e MP3Encoder) Args() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(e.SampleRate),
		"-ac", strconv.Itoa(e.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", e.BitrateKbps),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// encoderProc is one running encoder with its pipes.
type encoderProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (e MP3Encoder) start(ctx context.Context) (*encoderProc, error) {
	cmd := exec.CommandContext(ctx, e.Binary, e.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return &encoderProc{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// HTTPHandler serves the session mix as a chunked MP3 stream, one encoder
// process per listener.
type HTTPHandler struct {
	broadcaster *Broadcaster
	encoder     MP3Encoder
	logger      zerolog.Logger
}

// NewHTTPHandler creates an HTTP stream handler. A non-positive bitrate
// selects 192 kbps.
func NewHTTPHandler(b *Broadcaster, bitrateKbps int, logger zerolog.Logger) *HTTPHandler {
	if bitrateKbps <= 0 {
		bitrateKbps = defaultMP3Kbps
	}
	return &HTTPHandler{
		broadcaster: b,
		encoder: MP3Encoder{
			Binary:      "ffmpeg",
			SampleRate:  audio.SampleRate,
			Channels:    audio.Channels,
			BitrateKbps: bitrateKbps,
		},
		logger: logger.With().Str("component", "http_stream").Logger(),
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	enc, err := h.encoder.start(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("mp3 encoder unavailable")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer enc.cmd.Wait()
	defer cancel()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "improv session mix")
	w.Header().Set("ICY-Br", strconv.Itoa(h.encoder.BitrateKbps))

	listener := h.broadcaster.Subscribe("http")
	defer h.broadcaster.Unsubscribe(listener)

	logger := h.logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Info().Int("listeners", h.broadcaster.ListenerCount()).Msg("listener connected")
	defer logger.Info().Msg("listener disconnected")

	go feedPCM(ctx, listener, enc.stdin)

	if err := copyFlushed(w, flusher, enc.stdout); err != nil {
		logger.Warn().Err(err).Msg("mp3 encoder read")
	}
}

// feedPCM writes the listener's frames to w until either side goes away.
func feedPCM(ctx context.Context, l *Listener, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

// copyFlushed copies src to w, flushing after every chunk. A client that
// goes away ends the copy without error.
func copyFlushed(w io.Writer, f http.Flusher, src io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			f.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
