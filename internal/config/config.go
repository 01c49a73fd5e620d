package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Output modes for the mixer.
const (
	OutputStream  = "stream"  // browser delivery over HTTP MP3 and WebRTC
	OutputSpeaker = "speaker" // local sound card
	OutputNone    = "none"    // no device; graph is idle
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Env      string `env:"ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	Port int `env:"IMPROV_PORT" envDefault:"8080"`

	// ElevenLabs connection
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsAgentID string `env:"ELEVENLABS_AGENT_ID"`
	ElevenLabsBaseURL string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	LayerLengthMs     int    `env:"IMPROV_LAYER_LENGTH_MS" envDefault:"15000"` // generated layer length

	// Mixer
	SampleRate     int           `env:"IMPROV_SAMPLE_RATE" envDefault:"48000"`
	Output         string        `env:"IMPROV_OUTPUT" envDefault:"stream"`
	MasterVolume   float64       `env:"IMPROV_MASTER_VOLUME" envDefault:"1.0"`
	FetchTimeout   time.Duration `env:"IMPROV_FETCH_TIMEOUT" envDefault:"30s"`
	MaxSourceBytes int64         `env:"IMPROV_MAX_SOURCE_BYTES" envDefault:"33554432"`
	SpeakerBuffer  time.Duration `env:"IMPROV_SPEAKER_BUFFER" envDefault:"100ms"`

	// Session behavior
	DefaultGenre string        `env:"IMPROV_DEFAULT_GENRE" envDefault:"jazz"`
	RecordLimit  time.Duration `env:"IMPROV_RECORD_LIMIT" envDefault:"30s"` // auto-stop for mic takes
	Microphone   bool          `env:"IMPROV_MICROPHONE" envDefault:"false"` // record takes from the local input device

	// Stream delivery
	StreamBitrateKbps int      `env:"IMPROV_STREAM_BITRATE_KBPS" envDefault:"192"`
	WebRTCBitrate     int      `env:"IMPROV_WEBRTC_BITRATE" envDefault:"128000"`
	STUNURLs          []string `env:"IMPROV_STUN_URLS" envSeparator:","`

	// Ollama LLM (optional, richer coaching feedback)
	OllamaURL   string `env:"OLLAMA_URL"`
	OllamaModel string `env:"OLLAMA_MODEL" envDefault:"qwen3:8b"`

	// Persistence (empty keeps takes in memory)
	DatabaseURL string `env:"DATABASE_URL"`
}

// Load reads .env files (if present) and then the environment. Variables
// already set in the environment take precedence over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("IMPROV_PORT must be 1-65535, got %d", c.Port)
	}
	switch c.Output {
	case OutputStream, OutputSpeaker, OutputNone:
	default:
		return fmt.Errorf("IMPROV_OUTPUT must be stream, speaker or none, got %q", c.Output)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("IMPROV_SAMPLE_RATE must be 8000-192000, got %d", c.SampleRate)
	}
	if c.Output == OutputStream && c.SampleRate != 48000 {
		return fmt.Errorf("IMPROV_SAMPLE_RATE must be 48000 for stream output, got %d", c.SampleRate)
	}
	if c.MasterVolume < 0 || c.MasterVolume > 1 {
		return fmt.Errorf("IMPROV_MASTER_VOLUME must be 0-1, got %v", c.MasterVolume)
	}
	if c.LayerLengthMs < 3000 || c.LayerLengthMs > 300000 {
		return fmt.Errorf("IMPROV_LAYER_LENGTH_MS must be 3000-300000, got %d", c.LayerLengthMs)
	}
	if c.MaxSourceBytes <= 0 {
		return fmt.Errorf("IMPROV_MAX_SOURCE_BYTES must be positive, got %d", c.MaxSourceBytes)
	}
	if c.RecordLimit <= 0 {
		return fmt.Errorf("IMPROV_RECORD_LIMIT must be positive, got %v", c.RecordLimit)
	}
	return nil
}

// IsDevelopment reports whether ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// HasElevenLabs reports whether generation and transcription are available.
func (c *Config) HasElevenLabs() bool {
	return c.ElevenLabsAPIKey != ""
}
