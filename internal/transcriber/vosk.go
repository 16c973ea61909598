package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

type VoskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
	Partial string `json:"partial"`
}

type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

// VoskSocket streams audio to a self-hosted Vosk server. Vosk has no session
// handshake, so the socket opens as soon as the websocket is up.
type VoskSocket struct {
	serverURL  string
	sampleRate int
	handlers   Handlers

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	cancelDial context.CancelFunc
	hs         handshake
	pending    []byte

	stopSending chan struct{}
	senderDone  chan struct{}
	readDone    chan struct{}
	closeOnce   sync.Once
	log         zerolog.Logger
}

func NewVoskSocket(opts Options, h Handlers) *VoskSocket {
	return &VoskSocket{
		serverURL:   strings.TrimRight(opts.ServerURL, "/"),
		sampleRate:  opts.SampleRate,
		handlers:    h,
		stopSending: make(chan struct{}),
		senderDone:  make(chan struct{}),
		readDone:    make(chan struct{}),
		log:         logging.WithComponent("vosk"),
	}
}

func (vt *VoskSocket) Connect(ctx context.Context) error {
	vt.mu.Lock()
	if vt.closed {
		vt.mu.Unlock()
		return ErrSocketClosed
	}
	dialCtx, cancel := context.WithCancel(ctx)
	vt.cancelDial = cancel
	vt.mu.Unlock()
	defer cancel()

	url := fmt.Sprintf("%s/ws?sample_rate=%d", vt.serverURL, vt.sampleRate)
	conn, _, err := vt.hs.dial(dialCtx, websocket.DefaultDialer, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Vosk server: %w", err)
	}

	var cfg voskConfig
	cfg.Config.SampleRate = vt.sampleRate
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to configure Vosk: %w", err)
	}

	vt.mu.Lock()
	defer vt.mu.Unlock()
	if vt.closed {
		conn.Close()
		return ErrSocketClosed
	}
	vt.conn = conn
	go vt.handleResults(conn, uuid.NewString())
	go vt.audioSender(conn)
	return nil
}

func (vt *VoskSocket) Send(frame []byte) error {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if vt.closed {
		return ErrSocketClosed
	}
	vt.pending = append(vt.pending, frame...)
	return nil
}

func (vt *VoskSocket) takePending() []byte {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	out := vt.pending
	vt.pending = nil
	return out
}

func (vt *VoskSocket) audioSender(conn *websocket.Conn) {
	defer close(vt.senderDone)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if data := vt.takePending(); len(data) > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				vt.log.Warn().Err(err).Msg("Failed to send audio to Vosk")
			}
		}
	}
	for {
		select {
		case <-ticker.C:
			flush()
		case <-vt.stopSending:
			flush()
			return
		}
	}
}

func (vt *VoskSocket) handleResults(conn *websocket.Conn, sessionID string) {
	defer close(vt.readDone)

	vt.handlers.emitOpen(sessionID)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			vt.finishRead(err)
			return
		}

		var result VoskResult
		if err := json.Unmarshal(message, &result); err != nil {
			vt.log.Warn().Err(err).Msg("Failed to parse Vosk result")
			continue
		}

		switch {
		case result.Partial != "":
			vt.handlers.emitTranscript(Transcript{MessageType: PartialTranscript, Text: result.Partial})
		case result.Text != "":
			vt.handlers.emitTranscript(Transcript{MessageType: FinalTranscript, Text: result.Text})
		}
	}
}

func (vt *VoskSocket) finishRead(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		vt.handlers.emitClose(closeErr.Code, closeErr.Text)
		return
	}

	vt.mu.Lock()
	closing := vt.closed
	vt.mu.Unlock()
	if closing {
		vt.handlers.emitClose(websocket.CloseNormalClosure, "closed by client")
		return
	}

	vt.handlers.emitError(fmt.Errorf("Vosk websocket error: %w", err))
	vt.handlers.emitClose(websocket.CloseAbnormalClosure, err.Error())
}

func (vt *VoskSocket) Close(ctx context.Context) error {
	var err error
	vt.closeOnce.Do(func() {
		err = vt.shutdown(ctx)
	})
	return err
}

func (vt *VoskSocket) shutdown(ctx context.Context) error {
	vt.mu.Lock()
	vt.closed = true
	conn := vt.conn
	cancel := vt.cancelDial
	vt.mu.Unlock()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		vt.hs.abort()
		return nil
	}

	close(vt.stopSending)
	<-vt.senderDone

	// Send EOF to Vosk to get final results
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		vt.log.Debug().Err(err).Msg("Failed to send EOF to Vosk")
	}

	var waitErr error
	select {
	case <-vt.readDone:
	case <-ctx.Done():
		waitErr = fmt.Errorf("Vosk close handshake: %w", ctx.Err())
	}

	closeErr := conn.Close()
	<-vt.readDone
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}
