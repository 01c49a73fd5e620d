package mixer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/faiface/beep"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/improv/internal/audio"
)

// LoadTrack decodes source into a buffer and installs it as track id,
// replacing any previous track with that id. source is a data: URI, an
// http(s) or file URL, or a local path.
//
// Failures are logged and reported as a nil buffer; the existing track, if
// any, is left untouched. When several loads for the same id overlap, the
// one issued last wins and earlier ones return nil.
func (m *Mixer) LoadTrack(ctx context.Context, id, source string) *beep.Buffer {
	m.mu.Lock()
	m.initializeLocked()
	m.nextGen++
	gen := m.nextGen
	m.gens[id] = gen
	m.mu.Unlock()

	logger := m.logger.With().Str("track", id).Str("source", describeSource(source)).Logger()

	data, err := m.readSource(ctx, source)
	if err != nil {
		logger.Warn().Err(err).Msg("load track: read source failed")
		return nil
	}
	buf, err := m.decode(data)
	if err != nil {
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("load track: decode failed")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[id] != gen || m.actx == nil {
		logger.Debug().Msg("load track: superseded, discarding")
		return nil
	}
	m.installLocked(id, buf)

	logger.Info().Dur("duration", m.format.SampleRate.D(buf.Len())).Msg("track loaded")
	return buf
}

// LoadTracks loads independent sources concurrently. Every id appears in the
// result; failed loads map to nil.
func (m *Mixer) LoadTracks(ctx context.Context, sources map[string]string) map[string]*beep.Buffer {
	var mu sync.Mutex
	out := make(map[string]*beep.Buffer, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.LoadConcurrency)
	for id, source := range sources {
		g.Go(func() error {
			buf := m.LoadTrack(gctx, id, source)
			mu.Lock()
			out[id] = buf
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Mixer) readSource(ctx context.Context, source string) ([]byte, error) {
	if audio.IsDataURI(source) {
		_, data, err := audio.ParseDataURI(source)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > m.cfg.MaxSourceBytes {
			return nil, fmt.Errorf("source exceeds %d bytes", m.cfg.MaxSourceBytes)
		}
		return data, nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return m.fetch(ctx, source)
	case "file":
		return m.readFile(u.Path)
	case "":
		return m.readFile(source)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func (m *Mixer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}
	return m.readLimited(resp.Body)
}

func (m *Mixer) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	return m.readLimited(f)
}

func (m *Mixer) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, m.cfg.MaxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > m.cfg.MaxSourceBytes {
		return nil, fmt.Errorf("source exceeds %d bytes", m.cfg.MaxSourceBytes)
	}
	return data, nil
}

// decode converts encoded bytes into a buffer at the mixer's sample rate.
func (m *Mixer) decode(data []byte) (*beep.Buffer, error) {
	s, format, err := audio.Decode(data)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != m.format.SampleRate {
		src = beep.Resample(m.cfg.ResampleQuality, format.SampleRate, m.format.SampleRate, s)
	}

	buf := beep.NewBuffer(m.format)
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode stream: %w", err)
	}
	if buf.Len() == 0 {
		return nil, audio.ErrEmptyAudio
	}
	return buf, nil
}

// describeSource keeps inline payloads out of the logs.
func describeSource(source string) string {
	if audio.IsDataURI(source) {
		meta, _, _ := strings.Cut(source, ",")
		return fmt.Sprintf("%s (%d bytes)", meta, len(source))
	}
	if len(source) > 200 {
		return source[:200] + "..."
	}
	return source
}
