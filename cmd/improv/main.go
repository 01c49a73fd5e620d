package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/satindergrewal/improv/internal/api"
	"github.com/satindergrewal/improv/internal/audio"
	"github.com/satindergrewal/improv/internal/config"
	"github.com/satindergrewal/improv/internal/elevenlabs"
	"github.com/satindergrewal/improv/internal/logging"
	"github.com/satindergrewal/improv/internal/session"
	"github.com/satindergrewal/improv/internal/store"
	"github.com/satindergrewal/improv/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment(), os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info().Str("output", cfg.Output).Msg("improv starting up")
	if !cfg.HasElevenLabs() {
		logger.Warn().Msg("ELEVENLABS_API_KEY not set, layer generation and transcription will fail")
	}

	injector := setupDI(cfg, logger)
	if err := run(ctx, cfg, injector, logger); err != nil {
		logger.Fatal().Err(err).Msg("improv stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, injector do.Injector, logger zerolog.Logger) error {
	ctrl, err := do.Invoke[*session.Controller](injector)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	st := do.MustInvoke[store.Store](injector)
	el := do.MustInvoke[*elevenlabs.Client](injector)

	mux := http.NewServeMux()
	srv := api.NewServer(ctrl, el, st, cfg.ElevenLabsAgentID, logger)
	srv.Register(mux)

	var webrtcHandler *stream.WebRTCHandler
	if cfg.Output == config.OutputStream {
		frames := do.MustInvoke[*audio.FrameDevice](injector)
		broadcaster := do.MustInvoke[*stream.Broadcaster](injector)
		go broadcaster.Run(ctx, frames.Frames())

		webrtcHandler = stream.NewWebRTCHandler(broadcaster, cfg.WebRTCBitrate, cfg.STUNURLs, logger)
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.StreamBitrateKbps, logger))
		mux.Handle("/offer", webrtcHandler)
		srv.ListenerCount = broadcaster.ListenerCount
	}

	// Open the output now so listeners hear the graph from the first request.
	ctrl.Mixer().Initialize()

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("addr", addr).Msg("improv live")
	err = server.ListenAndServe()

	if webrtcHandler != nil {
		webrtcHandler.Close()
	}
	ctrl.Close()
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		logger.Warn().Str("report", report.Error()).Msg("injector shutdown")
	}

	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
