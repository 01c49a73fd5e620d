// Package elevenlabs is a small client for the ElevenLabs music, sound,
// speech-to-text and conversational agent APIs.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	MinMusicLengthMs     = 3000
	MaxMusicLengthMs     = 300000
	DefaultMusicLengthMs = 10000

	DefaultSoundSeconds    = 15
	DefaultPromptInfluence = 0.5

	STTModel = "scribe_v1"
)

var ErrNoAPIKey = errors.New("elevenlabs api key not configured")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs status %d: %s", e.Status, e.Body)
}

// Client communicates with the ElevenLabs REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates an API client. Generation calls can take most of a
// minute, so the timeout is generous.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 3 * time.Minute},
		logger:  logger.With().Str("component", "elevenlabs").Logger(),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ClampMusicLength bounds a requested length; zero selects the default.
func ClampMusicLength(ms int) int {
	if ms == 0 {
		return DefaultMusicLengthMs
	}
	if ms < MinMusicLengthMs {
		return MinMusicLengthMs
	}
	if ms > MaxMusicLengthMs {
		return MaxMusicLengthMs
	}
	return ms
}

type composeRequest struct {
	Prompt        string `json:"prompt"`
	MusicLengthMs int    `json:"music_length_ms"`
}

// ComposeMusic generates music from a text prompt and returns MP3 bytes.
func (c *Client) ComposeMusic(ctx context.Context, prompt string, lengthMs int) ([]byte, error) {
	req := composeRequest{Prompt: prompt, MusicLengthMs: ClampMusicLength(lengthMs)}

	start := time.Now()
	data, err := c.doJSON(ctx, http.MethodPost, "/v1/music", req)
	if err != nil {
		return nil, fmt.Errorf("compose music: %w", err)
	}
	c.logger.Info().Int("length_ms", req.MusicLengthMs).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("music composed")
	return data, nil
}

type soundRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	PromptInfluence float64 `json:"prompt_influence"`
}

// SoundGeneration generates a sound effect from text and returns MP3 bytes.
// Zero duration and influence select the defaults.
func (c *Client) SoundGeneration(ctx context.Context, text string, durationSeconds, promptInfluence float64) ([]byte, error) {
	if durationSeconds == 0 {
		durationSeconds = DefaultSoundSeconds
	}
	if promptInfluence == 0 {
		promptInfluence = DefaultPromptInfluence
	}
	data, err := c.doJSON(ctx, http.MethodPost, "/v1/sound-generation", soundRequest{
		Text:            text,
		DurationSeconds: durationSeconds,
		PromptInfluence: promptInfluence,
	})
	if err != nil {
		return nil, fmt.Errorf("sound generation: %w", err)
	}
	return data, nil
}

type transcriptResp struct {
	Text          string `json:"text"`
	Transcription string `json:"transcription"`
}

// SpeechToText transcribes an audio clip with the scribe model.
func (c *Client) SpeechToText(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "recording.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", STTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write file field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/speech-to-text", mw.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("speech to text: %w", err)
	}

	var result transcriptResp
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if result.Text != "" {
		return result.Text, nil
	}
	return result.Transcription, nil
}

// ConversationSignedURL returns a signed URL for a conversational agent session.
func (c *Client) ConversationSignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("agent id not configured")
	}
	data, err := c.do(ctx, http.MethodGet, "/v1/convai/conversation/get_signed_url?agent_id="+url.QueryEscape(agentID), "", nil)
	if err != nil {
		return "", fmt.Errorf("conversation token: %w", err)
	}
	var result struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode signed url: %w", err)
	}
	return result.SignedURL, nil
}

// ScribeToken returns a single-use token for realtime transcription.
func (c *Client) ScribeToken(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/single-use-token/realtime_scribe", "", nil)
	if err != nil {
		return "", fmt.Errorf("scribe token: %w", err)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode scribe token: %w", err)
	}
	return result.Token, nil
}

// UpdateAgentPrompt replaces the system prompt of a conversational agent.
func (c *Client) UpdateAgentPrompt(ctx context.Context, agentID, prompt string) error {
	if agentID == "" {
		return errors.New("agent id not configured")
	}
	body := map[string]any{
		"conversation_config": map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": prompt},
			},
		},
	}
	if _, err := c.doJSON(ctx, http.MethodPatch, "/v1/convai/agents/"+url.PathEscape(agentID), body); err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	c.logger.Info().Int("prompt_chars", len(prompt)).Msg("agent prompt updated")
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(body))
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("api error")
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
