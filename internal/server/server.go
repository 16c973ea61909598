// Package server exposes the streaming commands, provider dispatch, the
// settings store and the event feed over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/provider"
	"github.com/amanullahtanweer/lecture-transcriber/internal/store"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
)

// Streamer runs the stream-start and stream-stop commands.
type Streamer interface {
	StreamStart(ctx context.Context) string
	StreamStop(ctx context.Context) string
	Transcript() []string
	Partial() string
}

// StreamState reports the live session.
type StreamState interface {
	State() stream.State
	SessionID() string
}

// Dispatcher serves one-shot provider requests.
type Dispatcher interface {
	Transcribe(ctx context.Context, path string) provider.Response
	Interaction(ctx context.Context, system, human string) provider.Response
	Chat(ctx context.Context, messages []provider.Message, override *config.AIConfig, model string) provider.Response
}

// Deps are the components the routes call into.
type Deps struct {
	Stream    Streamer
	State     StreamState
	Providers Dispatcher
	Store     store.Store
	Events    http.Handler
	Gatherer  prometheus.Gatherer
}

type Server struct {
	config        config.ServerConfig
	recordingsDir string
	deps          Deps
	log           zerolog.Logger

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:        cfg.Server,
		recordingsDir: cfg.Output.RecordingsDir,
		deps:          deps,
		log:           logging.WithComponent("http"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", s.ping)

		r.Get("/stream", s.streamStatus)
		r.Post("/stream/start", s.streamStart)
		r.Post("/stream/stop", s.streamStop)
		if s.deps.Events != nil {
			r.Handle("/events", s.deps.Events)
		}

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)

		r.Get("/store/{ns}", s.storeKeys)
		r.Get("/store/{ns}/{key}", s.storeGet)
		r.Put("/store/{ns}/{key}", s.storeSet)
		r.Delete("/store/{ns}/{key}", s.storeDelete)

		r.Post("/transcribe", s.transcribe)
		r.Post("/interactions", s.interaction)
		r.Post("/llm", s.llm)
		r.Post("/recordings", s.saveRecording)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start listens and serves until Stop. It returns nil after a clean stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.listener = listener
	s.mu.Unlock()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Addr is the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests for up to the configured shutdown timeout.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		srv.Close()
	}
}
