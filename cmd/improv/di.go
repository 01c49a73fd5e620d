package main

import (
	"context"
	"time"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/capture"
	"github.com/satindergrewal/improv/internal/coach"
	"github.com/satindergrewal/improv/internal/config"
	"github.com/satindergrewal/improv/internal/elevenlabs"
	"github.com/satindergrewal/improv/internal/layers"
	"github.com/satindergrewal/improv/internal/mixer"
	"github.com/satindergrewal/improv/internal/ollama"
	"github.com/satindergrewal/improv/internal/session"
	"github.com/satindergrewal/improv/internal/speaker"
	"github.com/satindergrewal/improv/internal/store"
	"github.com/satindergrewal/improv/internal/stream"
)

const ollamaReadyTimeout = 10 * time.Second

func setupDI(cfg *config.Config, logger zerolog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.Provide(injector, newElevenLabs)
	do.Provide(injector, newFrameDevice)
	do.Provide(injector, newBroadcaster)
	do.Provide(injector, newMixer)
	do.Provide(injector, newGenerator)
	do.Provide(injector, newCoach)
	if cfg.Microphone {
		do.Provide(injector, newRecorder)
	}
	store.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func newElevenLabs(i do.Injector) (*elevenlabs.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[zerolog.Logger](i)
	return elevenlabs.NewClient(cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey, logger), nil
}

func newFrameDevice(i do.Injector) (*audio.FrameDevice, error) {
	return audio.NewFrameDevice(do.MustInvoke[zerolog.Logger](i)), nil
}

func newBroadcaster(i do.Injector) (*stream.Broadcaster, error) {
	return stream.NewBroadcaster(do.MustInvoke[zerolog.Logger](i)), nil
}

// newMixer picks the output device from IMPROV_OUTPUT.
func newMixer(i do.Injector) (*mixer.Mixer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[zerolog.Logger](i)

	var device mixer.Device
	switch cfg.Output {
	case config.OutputStream:
		device = do.MustInvoke[*audio.FrameDevice](i)
	case config.OutputSpeaker:
		device = speaker.New(cfg.SpeakerBuffer, logger)
	}

	m := mixer.New(mixer.Config{
		SampleRate:     beep.SampleRate(cfg.SampleRate),
		MasterVolume:   cfg.MasterVolume,
		FetchTimeout:   cfg.FetchTimeout,
		MaxSourceBytes: cfg.MaxSourceBytes,
	}, device, logger)
	if cfg.MasterVolume == 0 {
		m.SetMasterVolume(0)
	}
	return m, nil
}

func newGenerator(i do.Injector) (*layers.Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	client := do.MustInvoke[*elevenlabs.Client](i)
	return layers.NewGenerator(client, cfg.LayerLengthMs, do.MustInvoke[zerolog.Logger](i)), nil
}

// newCoach wires the optional Ollama advisor when the server answers.
func newCoach(i do.Injector) (*coach.Coach, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[zerolog.Logger](i)
	client := do.MustInvoke[*elevenlabs.Client](i)

	var advisor coach.Advisor
	if cfg.OllamaURL != "" {
		oc := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel, logger)
		ctx, cancel := context.WithTimeout(context.Background(), ollamaReadyTimeout)
		if oc.Available(ctx) || oc.WaitForReady(ctx, time.Second) {
			advisor = ollama.NewFeedbackGenerator(oc)
			logger.Info().Str("model", cfg.OllamaModel).Msg("ollama connected, llm feedback enabled")
		} else {
			logger.Warn().Msg("ollama not available, using rule-based feedback")
		}
		cancel()
	} else {
		logger.Info().Msg("ollama not configured (set OLLAMA_URL to enable llm feedback)")
	}

	return coach.New(client, advisor, logger), nil
}

func newRecorder(i do.Injector) (*capture.Recorder, error) {
	cfg := do.MustInvoke[*config.Config](i)
	rc := capture.DefaultConfig()
	rc.SampleRate = cfg.SampleRate
	rc.Limit = cfg.RecordLimit
	return capture.NewRecorder(rc, do.MustInvoke[zerolog.Logger](i)), nil
}
