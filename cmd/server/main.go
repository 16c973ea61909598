package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/server"
	"github.com/amanullahtanweer/lecture-transcriber/internal/sessionlog"
	"github.com/amanullahtanweer/lecture-transcriber/internal/store"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		// logging is not configured yet; the zerolog default writes JSON to stderr
		log.Fatal().Err(err).Str("file", configFile).Msg("Failed to load config")
	}
	logging.Init(cfg.Logging)

	injector := setupDI(cfg)

	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}
	ctrl := do.MustInvoke[*stream.Controller](injector)

	log.Info().
		Str("addr", cfg.Addr()).
		Str("provider", cfg.Stream.Provider).
		Str("capture", cfg.Capture.Backend).
		Str("store", cfg.Store.Driver).
		Msg("Lecture transcriber starting")

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down server...")
	shutdown(cfg, injector, srv, ctrl)
}

// shutdown stops the live session before the transports it publishes to.
func shutdown(cfg *config.Config, injector do.Injector, srv *server.Server, ctrl *stream.Controller) {
	ctrl.Stop(context.Background())
	srv.Stop()

	do.MustInvoke[*events.Hub](injector).Close()
	if err := do.MustInvoke[*events.KafkaPublisher](injector).Close(); err != nil {
		log.Warn().Err(err).Msg("Kafka writers did not close cleanly")
	}
	if cfg.Capture.Backend == config.CaptureAudioSocket {
		do.MustInvoke[*capture.AudioSocketServer](injector).Stop()
	}
	if cfg.Output.SessionLogs {
		sl := do.MustInvoke[*sessionlog.Logger](injector)
		path := sl.Path()
		if err := sl.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Session log did not close cleanly")
		} else if path != "" {
			log.Info().Str("path", path).Msg("Session log closed")
		}
	}
	if err := do.MustInvoke[store.Store](injector).Close(); err != nil {
		log.Warn().Err(err).Msg("Store did not close cleanly")
	}
}
