package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"

	"github.com/amanullahtanweer/lecture-transcriber/internal/artifact"
	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/capture/device"
	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/metrics"
	"github.com/amanullahtanweer/lecture-transcriber/internal/presenter"
	"github.com/amanullahtanweer/lecture-transcriber/internal/provider"
	"github.com/amanullahtanweer/lecture-transcriber/internal/server"
	"github.com/amanullahtanweer/lecture-transcriber/internal/sessionlog"
	"github.com/amanullahtanweer/lecture-transcriber/internal/store"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
)

const storeInitTimeout = 15 * time.Second

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics.DefaultMetrics)

	registerStore(injector)
	registerEvents(injector)
	registerCapture(injector)
	registerProviders(injector)
	registerStream(injector)
	registerServer(injector)

	return injector
}

func registerStore(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (store.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
		defer cancel()

		s, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
		return s, nil
	})

	do.Provide(injector, func(i do.Injector) (presenter.SettingsFunc, error) {
		s := do.MustInvoke[store.Store](i)
		return func(ctx context.Context) (config.Settings, error) {
			return store.LoadSettings(ctx, s)
		}, nil
	})
}

func registerEvents(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*events.Hub, error) {
		return events.NewHub(do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*events.KafkaPublisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return events.NewKafkaPublisher(cfg.Kafka, do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (events.Publisher, error) {
		return events.Multi{
			do.MustInvoke[*events.Hub](i),
			do.MustInvoke[*events.KafkaPublisher](i),
		}, nil
	})
}

func registerCapture(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*capture.AudioSocketServer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		srv := capture.NewAudioSocketServer(cfg.Capture.AudioSocketAddr)
		if err := srv.Start(); err != nil {
			return nil, err
		}
		return srv, nil
	})

	do.Provide(injector, func(i do.Injector) (capture.Opener, error) {
		cfg := do.MustInvoke[*config.Config](i)
		switch cfg.Capture.Backend {
		case config.CapturePortAudio:
			return device.Opener{FramesPerBuffer: cfg.Capture.FramesPerBuffer}, nil
		case config.CaptureAudioSocket:
			srv, err := do.Invoke[*capture.AudioSocketServer](i)
			if err != nil {
				return nil, err
			}
			return srv, nil
		case config.CaptureFile:
			return capture.FileOpener{Path: cfg.Capture.FilePath, Realtime: cfg.Capture.FileRealtime}, nil
		default:
			return nil, fmt.Errorf("unknown capture backend %q", cfg.Capture.Backend)
		}
	})
}

func registerProviders(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*provider.Dispatcher, error) {
		settings := do.MustInvoke[presenter.SettingsFunc](i)
		return provider.New(
			provider.SettingsFunc(settings),
			do.MustInvoke[events.Publisher](i),
			do.MustInvoke[*metrics.Metrics](i),
		), nil
	})
}

func registerStream(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*presenter.Adapter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return presenter.New(*cfg,
			do.MustInvoke[events.Publisher](i),
			do.MustInvoke[presenter.SettingsFunc](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*sessionlog.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return sessionlog.New(cfg.Output.Dir), nil
	})

	do.Provide(injector, func(i do.Injector) (*stream.Controller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		opener, err := do.Invoke[capture.Opener](i)
		if err != nil {
			return nil, err
		}
		adapter := do.MustInvoke[*presenter.Adapter](i)

		listeners := stream.Listeners{adapter}
		if cfg.Output.SessionLogs {
			listeners = append(listeners, do.MustInvoke[*sessionlog.Logger](i))
		}

		var recordings stream.RecordingFactory
		if cfg.Output.SaveRecordings {
			dir := cfg.Output.RecordingsDir
			recordings = func(format capture.Format) (stream.Recording, error) {
				rec, err := artifact.NewRecorder(dir, format)
				if err != nil {
					return nil, err
				}
				return rec, nil
			}
		}

		ctrl := stream.New(stream.Config{
			Format:        cfg.Stream.Format(),
			PreOpenBuffer: cfg.Stream.PreOpenBuffer,
			StopTimeout:   cfg.Stream.StopTimeout,
		}, stream.Deps{
			Capture:    opener,
			Recordings: recordings,
			Listener:   listeners,
			Metrics:    do.MustInvoke[*metrics.Metrics](i),
		})
		adapter.Attach(ctrl)
		return ctrl, nil
	})
}

func registerServer(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*server.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctrl, err := do.Invoke[*stream.Controller](i)
		if err != nil {
			return nil, err
		}
		st, err := do.Invoke[store.Store](i)
		if err != nil {
			return nil, err
		}
		return server.New(*cfg, server.Deps{
			Stream:    do.MustInvoke[*presenter.Adapter](i),
			State:     ctrl,
			Providers: do.MustInvoke[*provider.Dispatcher](i),
			Store:     st,
			Events:    do.MustInvoke[*events.Hub](i),
		}), nil
	})
}
