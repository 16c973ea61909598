// Package stream owns live transcription sessions: it connects the
// transcription socket, relays captured audio into it, classifies the
// transcripts it returns and shuts everything down on stop.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/metrics"
	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

const (
	StatusStarted = "started"
	StatusStopped = "stopped"

	DefaultPreOpenBuffer = 5 * time.Second
	DefaultStopTimeout   = 5 * time.Second
)

// Credentials select the live provider and authenticate with it.
type Credentials struct {
	Provider  transcriber.Provider
	APIKey    string
	ServerURL string
}

func (c Credentials) validate() error {
	switch c.Provider {
	case transcriber.Vosk:
		if c.ServerURL == "" {
			return missingCredential(c.Provider, "server URL")
		}
	case transcriber.AssemblyAI:
		if c.APIKey == "" {
			return missingCredential(c.Provider, "API key")
		}
	default:
		return &ConfigurationError{
			Provider: c.Provider,
			Reason:   "no live transcription provider configured: " + string(c.Provider),
		}
	}
	return nil
}

// Config is fixed for the controller's lifetime.
type Config struct {
	Format        capture.Format
	PreOpenBuffer time.Duration
	StopTimeout   time.Duration
}

// SocketFactory builds a transcription socket.
type SocketFactory func(opts transcriber.Options, h transcriber.Handlers) (transcriber.Socket, error)

// Recording receives a copy of every captured frame.
type Recording interface {
	Write(frame []byte) error
	Duration() time.Duration
	Close() (string, error)
	Discard() error
}

// RecordingFactory starts a new recording.
type RecordingFactory func(format capture.Format) (Recording, error)

// Deps are the controller's collaborators. Sockets defaults to
// transcriber.New; a nil Recordings disables recording.
type Deps struct {
	Capture    capture.Opener
	Sockets    SocketFactory
	Recordings RecordingFactory
	Listener   Listener
	Metrics    *metrics.Metrics
}

// Controller runs at most one session at a time.
type Controller struct {
	cfg       Config
	capture   capture.Opener
	newSocket SocketFactory
	newRecord RecordingFactory
	listener  Listener
	metrics   *metrics.Metrics
	log       zerolog.Logger

	opMu    sync.Mutex // serializes Start
	mu      sync.Mutex
	current *session
	emitMu  sync.Mutex
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.PreOpenBuffer <= 0 {
		cfg.PreOpenBuffer = DefaultPreOpenBuffer
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if deps.Sockets == nil {
		deps.Sockets = transcriber.New
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	return &Controller{
		cfg:       cfg,
		capture:   deps.Capture,
		newSocket: deps.Sockets,
		newRecord: deps.Recordings,
		listener:  deps.Listener,
		metrics:   deps.Metrics,
		log:       logging.WithComponent("stream"),
	}
}

type session struct {
	info      SessionInfo
	life      *Lifecycle
	socket    transcriber.Socket
	recording bool
	stats     *metrics.SessionMetrics
	log       zerolog.Logger

	remoteMu sync.Mutex
	remoteID string

	opened   chan struct{}
	openOnce sync.Once

	relayCtx  context.Context
	haltRelay context.CancelFunc
	relayDone chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
	stopOnce  sync.Once
	endOnce   sync.Once
}

func (s *session) setRemoteID(id string) {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	s.remoteID = id
}

func (s *session) remote() string {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	return s.remoteID
}

// Start replaces any existing session with a new one and begins connecting.
// It returns once the handshake is under way. Only a missing credential is
// reported synchronously, as a *ConfigurationError; every later failure goes
// to Listener.SessionError.
func (c *Controller) Start(ctx context.Context, creds Credentials) (string, error) {
	if err := creds.validate(); err != nil {
		c.log.Warn().Err(err).Msg("Refusing to start live transcription")
		return err.Error(), err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev != nil {
		prev.log.Info().Msg("Replacing session")
		c.shutdown(ctx, prev)
	}

	s := c.newSession(ctx, creds.Provider)
	sock, err := c.newSocket(transcriber.Options{
		Provider:   creds.Provider,
		APIKey:     creds.APIKey,
		ServerURL:  creds.ServerURL,
		SampleRate: c.cfg.Format.SampleRate,
	}, c.handlers(s))
	if err != nil {
		s.haltRelay()
		cerr := &ConfigurationError{Provider: creds.Provider, Reason: err.Error()}
		return cerr.Error(), cerr
	}
	s.socket = sock

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.deliver(s, func(l Listener) { l.SessionStarting(s.info) })

	if err := s.life.Begin(); err != nil {
		// unreachable for a fresh session
		return err.Error(), err
	}
	c.metrics.SessionsStarted.Inc()
	c.metrics.SessionsActive.Inc()
	c.transition(s, StateConnecting)

	connectCtx := context.WithoutCancel(ctx)
	go c.relay(s)
	go c.connect(connectCtx, s)

	return StatusStarted, nil
}

func (c *Controller) newSession(ctx context.Context, provider transcriber.Provider) *session {
	id := uuid.NewString()
	relayCtx, halt := context.WithCancel(context.WithoutCancel(ctx))
	return &session{
		info: SessionInfo{
			ID:        id,
			Provider:  provider,
			Format:    c.cfg.Format,
			StartTime: time.Now(),
		},
		life:      NewLifecycle(),
		recording: c.newRecord != nil,
		stats:     metrics.NewSessionMetrics(string(provider), id, c.cfg.Format.BytesPerSecond()),
		log:       logging.WithSession(id, string(provider)),
		opened:    make(chan struct{}),
		relayCtx:  relayCtx,
		haltRelay: halt,
		relayDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Stop halts the relay, finalizes the recording and closes the socket. From
// Open it waits for the close, bounded by the stop timeout. With no session
// it does nothing.
func (c *Controller) Stop(ctx context.Context) string {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return StatusStopped
	}
	c.shutdown(ctx, s)
	return StatusStopped
}

// State is the current session's state, or Idle without one.
func (c *Controller) State() State {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.life.State()
}

// SessionID is the id the socket assigned to the current session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ""
	}
	return s.remote()
}

func (c *Controller) shutdown(ctx context.Context, s *session) {
	s.stopOnce.Do(func() {
		s.haltRelay()
		<-s.relayDone

		prev, err := s.life.Close()
		if err != nil {
			s.log.Debug().Str("state", prev.String()).Msg("Stop on ended session")
			c.closeSocket(s)
			return
		}
		if prev == StateClosing {
			return
		}
		c.transition(s, StateClosing)

		if prev == StateConnecting {
			// Close aborts the dial; an open that still arrives is closed in onOpen.
			go c.closeSocket(s)
			return
		}

		closeCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
		defer cancel()
		if err := s.socket.Close(closeCtx); err != nil {
			s.log.Warn().Err(err).Msg("Close handshake did not complete")
		}
		select {
		case <-s.done:
		case <-closeCtx.Done():
		}
		c.closed(s, 1000, "close handshake timed out")
	})
}

func (c *Controller) closeSocket(s *session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()
	if err := s.socket.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close transcription socket")
	}
}

func (c *Controller) connect(ctx context.Context, s *session) {
	s.log.Info().Msg("Connecting to transcription service")
	if err := s.socket.Connect(ctx); err != nil {
		if s.life.State() == StateClosing || errors.Is(err, transcriber.ErrSocketClosed) {
			c.closed(s, 1000, "stopped before open")
			return
		}
		c.fail(s, &ConnectionError{Err: err})
	}
}

func (c *Controller) handlers(s *session) transcriber.Handlers {
	return transcriber.Handlers{
		OnOpen: func(id string) { c.onOpen(s, id) },
		OnTranscript: func(t transcriber.Transcript) {
			c.onTranscript(s, t)
		},
		OnError: func(err error) {
			c.fail(s, &ConnectionError{Err: err})
		},
		OnClose: func(code int, reason string) {
			c.closed(s, code, reason)
		},
	}
}

func (c *Controller) onOpen(s *session, id string) {
	s.setRemoteID(id)
	if err := s.life.Open(); err != nil {
		if errors.Is(err, ErrStopRequested) {
			s.log.Info().Str("remote_session", id).Msg("Socket opened after stop, closing")
			go c.closeSocket(s)
		}
		return
	}

	c.metrics.ConnectLatency.Observe(time.Since(s.info.StartTime).Seconds())
	c.transition(s, StateOpen)
	s.log.Info().Str("remote_session", id).Msg("Session opened")

	s.openOnce.Do(func() { close(s.opened) })
	c.deliver(s, func(l Listener) { l.SessionOpened(id) })
}

func (c *Controller) onTranscript(s *session, t transcriber.Transcript) {
	if t.Text == "" {
		c.metrics.EmptyTranscripts.Inc()
		return
	}
	if !s.life.Delivers() {
		return
	}

	switch t.MessageType {
	case transcriber.PartialTranscript:
		s.stats.AddTranscript(t.Text, false)
		c.metrics.Transcripts.WithLabelValues("partial").Inc()
		c.deliver(s, func(l Listener) { l.PartialTranscript(t.Text) })
	case transcriber.FinalTranscript:
		s.stats.AddTranscript(t.Text, true)
		c.metrics.Transcripts.WithLabelValues("final").Inc()
		s.log.Debug().Str("text", t.Text).Msg("Final transcript")
		c.deliver(s, func(l Listener) { l.FinalTranscript(t.Text) })
	default:
		s.log.Warn().Str("message_type", string(t.MessageType)).Msg("Dropping transcript of unknown type")
	}
}

// fail moves s to Errored and reports err once.
func (c *Controller) fail(s *session, err error) {
	if !s.life.Fail() {
		s.log.Debug().Err(err).Msg("Error after session ended")
		return
	}
	c.metrics.SessionErrors.WithLabelValues(errorType(err)).Inc()
	s.log.Error().Err(err).Msg("Session failed")
	c.transition(s, StateErrored)
	c.deliver(s, func(l Listener) { l.SessionError(err) })
	go c.closeSocket(s)
}

// closed handles the end of the socket. Only the first call counts.
func (c *Controller) closed(s *session, code int, reason string) {
	s.doneOnce.Do(func() {
		if !isNormalClose(code) {
			c.fail(s, &TransportCloseError{Code: code, Reason: reason})
		} else if s.life.Finish() {
			c.transition(s, StateClosed)
		}
		s.log.Info().Int("code", code).Str("reason", reason).Msg("Session closed")
		c.deliver(s, func(l Listener) { l.SessionClosed(code, reason) })
		close(s.done)
	})
}

func (c *Controller) transition(s *session, st State) {
	c.metrics.StateTransitions.WithLabelValues(st.String()).Inc()
	s.log.Debug().Str("state", st.String()).Msg("State changed")
	if !st.IsTerminal() {
		return
	}
	s.endOnce.Do(func() {
		c.metrics.SessionsActive.Dec()
		s.stats.Finalize()
		s.log.Info().EmbedObject(s.stats).Msg("Session summary")
	})
	if !s.recording {
		s.haltRelay()
	}
}

// deliver hands an event to the listener if s is still the current session.
func (c *Controller) deliver(s *session, fn func(Listener)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := c.current == s
	c.mu.Unlock()
	if !current || c.listener == nil {
		return
	}
	fn(c.listener)
}
