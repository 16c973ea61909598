package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

// AudioSocketRate is the only format Asterisk AudioSocket carries: 8kHz signed linear mono.
const AudioSocketRate = 8000

// AudioSocketServer accepts Asterisk AudioSocket calls and hands each one to
// the next Open. At most one call waits for a capture; extra calls are hung up.
type AudioSocketServer struct {
	addr     string
	listener net.Listener
	calls    chan net.Conn
	shutdown chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewAudioSocketServer(addr string) *AudioSocketServer {
	return &AudioSocketServer{
		addr:     addr,
		calls:    make(chan net.Conn, 1),
		shutdown: make(chan struct{}),
		log:      logging.WithComponent("audiosocket"),
	}
}

// Start binds the listener and runs the accept loop in the background.
func (s *AudioSocketServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("AudioSocket capture listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *AudioSocketServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *AudioSocketServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Error().Err(err).Msg("Accept error")
				continue
			}
		}

		select {
		case s.calls <- conn:
			s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("Call queued for capture")
		default:
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("Capture busy, hanging up call")
			_, _ = conn.Write(audiosocket.HangupMessage())
			conn.Close()
		}
	}
}

// Stop closes the listener and any call still waiting.
func (s *AudioSocketServer) Stop() {
	close(s.shutdown)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	select {
	case conn := <-s.calls:
		conn.Close()
	default:
	}
}

// Open waits for the next call and returns it as a capture source.
func (s *AudioSocketServer) Open(ctx context.Context, format Format) (Source, error) {
	if format.SampleRate != AudioSocketRate || format.Channels != 1 {
		return nil, fmt.Errorf("audiosocket carries %dHz mono, requested %dHz/%dch",
			AudioSocketRate, format.SampleRate, format.Channels)
	}

	var conn net.Conn
	select {
	case conn = <-s.calls:
	case <-s.shutdown:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// A caller that never sends its id must not outlive ctx or Stop.
	unblock := make(chan struct{})
	abort := context.AfterFunc(ctx, func() { conn.Close() })
	go func() {
		select {
		case <-s.shutdown:
			conn.Close()
		case <-unblock:
		}
	}()
	id, err := audiosocket.GetID(conn)
	close(unblock)
	if !abort() || err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		select {
		case <-s.shutdown:
			return nil, ErrStopped
		default:
		}
		return nil, fmt.Errorf("failed to read call id: %w", err)
	}

	src := &audioSocketSource{
		id:     id,
		conn:   conn,
		frames: make(chan []byte, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    s.log.With().Str("call", id.String()).Logger(),
	}
	go src.run()

	src.log.Info().Msg("Call capture started")
	return src, nil
}

type audioSocketSource struct {
	id       uuid.UUID
	conn     net.Conn
	frames   chan []byte
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

func (src *audioSocketSource) Frames() <-chan []byte {
	return src.frames
}

func (src *audioSocketSource) run() {
	defer close(src.done)
	defer close(src.frames)

	for {
		msg, err := audiosocket.NextMessage(src.conn)
		if err != nil {
			select {
			case <-src.stop:
			default:
				if !errors.Is(err, io.EOF) {
					src.log.Error().Err(err).Msg("Failed to read message")
				}
			}
			return
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			payload := msg.Payload()
			if len(payload) == 0 {
				continue
			}
			frame := make([]byte, len(payload))
			copy(frame, payload)
			select {
			case src.frames <- frame:
			case <-src.stop:
				return
			}

		case audiosocket.KindHangup:
			src.log.Info().Msg("Received hangup")
			return

		case audiosocket.KindError:
			src.log.Error().Int("code", int(msg.ErrorCode())).Msg("Received error message")
			return

		case audiosocket.KindDTMF:
			if p := msg.Payload(); len(p) > 0 {
				src.log.Debug().Str("digit", string(p[0])).Msg("DTMF")
			}
		}
	}
}

// Stop hangs up the call and waits for the reader to exit.
func (src *audioSocketSource) Stop() error {
	var err error
	src.stopOnce.Do(func() {
		close(src.stop)
		_, _ = src.conn.Write(audiosocket.HangupMessage())
		err = src.conn.Close()
	})
	<-src.done
	return err
}
