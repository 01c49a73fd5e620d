package layers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/improv/internal/audio"
)

// Composer renders music from a text prompt.
type Composer interface {
	ComposeMusic(ctx context.Context, prompt string, lengthMs int) ([]byte, error)
}

// Generator produces the generated layers as data: URIs the mixer can load.
type Generator struct {
	composer Composer
	lengthMs int
	logger   zerolog.Logger
}

func NewGenerator(composer Composer, lengthMs int, logger zerolog.Logger) *Generator {
	return &Generator{
		composer: composer,
		lengthMs: lengthMs,
		logger:   logger.With().Str("component", "layers").Logger(),
	}
}

// Generate composes one layer and returns it as an MP3 data URI.
func (g *Generator) Generate(ctx context.Context, kind Kind, genre string, bpm int) (string, error) {
	if !kind.IsGenerated() {
		return "", fmt.Errorf("%w: %s is not generated", ErrUnknownKind, kind)
	}
	prompt, err := Prompt(kind, genre, bpm)
	if err != nil {
		return "", err
	}

	g.logger.Info().Str("layer", string(kind)).Str("genre", genre).Int("bpm", bpm).Msg("generating layer")
	start := time.Now()

	data, err := g.composer.ComposeMusic(ctx, prompt, g.lengthMs)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("generate %s: %w", kind, audio.ErrEmptyAudio)
	}

	g.logger.Info().Str("layer", string(kind)).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("layer generated")
	return audio.EncodeDataURI("audio/mpeg", data), nil
}
