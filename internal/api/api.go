// Package api serves the session's JSON HTTP API.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/elevenlabs"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/session"
	"github.com/satindergrewal/improv/internal/store"
)

// MaxUploadBytes bounds recorded takes posted by the browser.
const MaxUploadBytes = 16 << 20

// ElevenLabs is the subset of the ElevenLabs client the API proxies.
type ElevenLabs interface {
	ComposeMusic(ctx context.Context, prompt string, lengthMs int) ([]byte, error)
	SoundGeneration(ctx context.Context, text string, durationSeconds, promptInfluence float64) ([]byte, error)
	ConversationSignedURL(ctx context.Context, agentID string) (string, error)
	ScribeToken(ctx context.Context) (string, error)
	UpdateAgentPrompt(ctx context.Context, agentID, prompt string) error
}

// Server holds the API's dependencies.
type Server struct {
	ctrl    *session.Controller
	el      ElevenLabs
	store   store.Store
	agentID string
	logger  zerolog.Logger

	// ListenerCount reports connected stream listeners. Optional.
	ListenerCount func() int
}

func NewServer(ctrl *session.Controller, el ElevenLabs, st store.Store, agentID string, logger zerolog.Logger) *Server {
	return &Server{
		ctrl:    ctrl,
		el:      el,
		store:   st,
		agentID: agentID,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/genre", s.handleGenre)
	mux.HandleFunc("POST /api/layers/generate", s.handleGenerateAll)
	mux.HandleFunc("POST /api/layers/{kind}/generate", s.handleGenerateLayer)
	mux.HandleFunc("POST /api/layers/{kind}/volume", s.handleVolume)
	mux.HandleFunc("POST /api/layers/{kind}/mute", s.handleMute)
	mux.HandleFunc("DELETE /api/layers/{kind}", s.handleRemoveLayer)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/metronome", s.handleMetronome)
	mux.HandleFunc("/api/recording", s.handleRecording)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/agent/command", s.handleAgentCommand)
	mux.HandleFunc("GET /api/conversation-token", s.handleConversationToken)
	mux.HandleFunc("GET /api/scribe-token", s.handleScribeToken)
	mux.HandleFunc("PATCH /api/update-agent", s.handleUpdateAgent)
	mux.HandleFunc("/api/sound-generation", s.handleSoundGeneration)
	mux.HandleFunc("/api/make-music", s.handleMakeMusic)
	mux.HandleFunc("GET /api/takes", s.handleTakes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

// requirePost mirrors the method guard on every mutating endpoint.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *elevenlabs.APIError
	switch {
	case errors.Is(err, layers.ErrUnknownKind),
		errors.Is(err, layers.ErrUnknownGenre),
		errors.Is(err, layers.ErrBPMOutOfRange),
		errors.Is(err, coach.ErrNoAudio),
		errors.Is(err, session.ErrNoTake):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrRecordingActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoRecorder),
		errors.Is(err, elevenlabs.ErrNoAPIKey):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.Is(err, session.ErrLoadFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	listeners := 0
	if s.ListenerCount != nil {
		listeners = s.ListenerCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   s.ctrl.Status(),
		"genres":    layers.Genres(),
		"listeners": listeners,
	})
}

func (s *Server) handleGenre(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Genre string `json:"genre"`
		BPM   int    `json:"bpm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Genre == "" {
		http.Error(w, "invalid genre", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.SetGenre(r.Context(), req.Genre, req.BPM); err != nil {
		s.fail(w, r, err)
		return
	}
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "genre": st.Genre, "bpm": st.BPM})
}

func (s *Server) kind(w http.ResponseWriter, r *http.Request) (layers.Kind, bool) {
	k, err := layers.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return k, true
}

func (s *Server) handleGenerateLayer(w http.ResponseWriter, r *http.Request) {
	k, ok := s.kind(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.GenerateLayer(r.Context(), k); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": s.ctrl.Status()})
}

func (s *Server) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.GenerateAll(r.Context()); err != nil {
		writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error(), "session": s.ctrl.Status()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": s.ctrl.Status()})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	k, ok := s.kind(w, r)
	if !ok {
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		http.Error(w, "volume required", http.StatusBadRequest)
		return
	}
	s.ctrl.SetVolume(k, *req.Volume)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	k, ok := s.kind(w, r)
	if !ok {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	s.ctrl.SetMuted(k, req.Muted)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "muted": req.Muted})
}

func (s *Server) handleRemoveLayer(w http.ResponseWriter, r *http.Request) {
	k, ok := s.kind(w, r)
	if !ok {
		return
	}
	s.ctrl.RemoveLayer(k)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	req := struct {
		Loop bool `json:"loop"`
	}{Loop: true}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	s.ctrl.Play(req.Loop)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "loop": req.Loop})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMetronome(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.ctrl.ToggleMetronome(r.Context(), req.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "metronome": req.Enabled})
}

// handleRecording takes a browser recording as the raw request body and
// installs it as the user layer.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		http.Error(w, "recording too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, coach.ErrNoAudio)
		return
	}
	mimeType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "audio/webm"
	}
	src := audio.EncodeDataURI(mimeType, data)
	if err := s.ctrl.LoadRecording(r.Context(), src, data); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bytes": len(data)})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.ctrl.StartRecording(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recording": true})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.ctrl.StopRecording(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recording": false})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		AudioBase64 string `json:"userAudioBase64"`
		Filename    string `json:"filename"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadBytes*2)).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	var data []byte
	if req.AudioBase64 != "" {
		var err error
		data, err = base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			http.Error(w, "invalid audio encoding", http.StatusBadRequest)
			return
		}
	}
	res, err := s.ctrl.Analyze(r.Context(), data, req.Filename)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"feedback":      res.Feedback.Feedback,
		"tips":          res.Tips,
		"transcription": res.Transcription,
		"duration_sec":  res.DurationSec,
		"source":        res.Source,
		"take_id":       res.TakeID,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.ctrl.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAgentCommand(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	cmd := session.ParseCommand(req.Text)
	reply, err := s.ctrl.Dispatch(r.Context(), cmd)
	if err != nil {
		status := statusFor(err)
		if cmd.Action == session.ActionNone {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"ok": false, "action": cmd.Action, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": cmd.Action, "reply": reply})
}

func (s *Server) handleConversationToken(w http.ResponseWriter, r *http.Request) {
	url, err := s.el.ConversationSignedURL(r.Context(), s.agentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signedUrl": url})
}

func (s *Server) handleScribeToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.el.ScribeToken(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// handleUpdateAgent installs the given prompt, or the built-in DJ prompt when
// the body carries none.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	if req.Prompt == "" {
		req.Prompt = session.AgentPrompt
	}
	if err := s.el.UpdateAgentPrompt(r.Context(), s.agentID, req.Prompt); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSoundGeneration(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Text            string  `json:"text"`
		DurationSeconds float64 `json:"duration_seconds"`
		PromptInfluence float64 `json:"prompt_influence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Missing required field: text", http.StatusBadRequest)
		return
	}
	data, err := s.el.SoundGeneration(r.Context(), req.Text, req.DurationSeconds, req.PromptInfluence)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

func (s *Server) handleMakeMusic(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Prompt     string `json:"prompt"`
		DurationMs int    `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		http.Error(w, "Missing required field: prompt", http.StatusBadRequest)
		return
	}
	lengthMs := elevenlabs.ClampMusicLength(req.DurationMs)
	data, err := s.el.ComposeMusic(r.Context(), req.Prompt, lengthMs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"audioUrl":    audio.EncodeDataURI("audio/mpeg", data),
		"prompt":      req.Prompt,
		"duration_ms": lengthMs,
	})
}

func (s *Server) handleTakes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	takes, err := s.store.ListTakes(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"takes": takes})
}
