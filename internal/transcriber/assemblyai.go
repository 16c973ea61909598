package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

const (
	AssemblyAIWebSocketURL = "wss://streaming.assemblyai.com/v3/ws"
	// AssemblyAI requires chunks between 50ms and 1000ms
	MinChunkDurationMs = 50
	MaxChunkDurationMs = 1000

	sendInterval = 50 * time.Millisecond
)

// AssemblyAI message types
type AssemblyAIMessage struct {
	Type               string  `json:"type"`
	ID                 string  `json:"id,omitempty"`
	ExpiresAt          int64   `json:"expires_at,omitempty"`
	Transcript         string  `json:"transcript,omitempty"`
	TurnIsFormatted    bool    `json:"turn_is_formatted,omitempty"`
	EndOfTurn          bool    `json:"end_of_turn,omitempty"`
	AudioDurationSec   float64 `json:"audio_duration_seconds,omitempty"`
	SessionDurationSec float64 `json:"session_duration_seconds,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// AssemblyAISocket streams audio to AssemblyAI's v3 realtime API.
// Formatted turns are final transcripts; unformatted turns are partials.
type AssemblyAISocket struct {
	endpoint    string
	apiKey      string
	inputRate   int
	targetRate  int
	handlers    Handlers
	dialer      *websocket.Dialer
	minChunk    int
	maxChunk    int
	audioBuffer []byte
	bufferMu    sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	cancelDial context.CancelFunc
	hs         handshake
	sessionID  string

	stopSending chan struct{}
	senderDone  chan struct{}
	readDone    chan struct{}
	closeOnce   sync.Once
	log         zerolog.Logger
}

func NewAssemblyAISocket(opts Options, h Handlers) *AssemblyAISocket {
	endpoint := opts.ServerURL
	if endpoint == "" {
		endpoint = AssemblyAIWebSocketURL
	}

	// AssemblyAI expects 16kHz, so 8kHz input is upsampled
	targetRate := opts.SampleRate
	if targetRate == 8000 || targetRate == 0 {
		targetRate = 16000
	}
	bytesPerMs := targetRate * 2 / 1000

	return &AssemblyAISocket{
		endpoint:    endpoint,
		apiKey:      opts.APIKey,
		inputRate:   opts.SampleRate,
		targetRate:  targetRate,
		handlers:    h,
		dialer:      websocket.DefaultDialer,
		minChunk:    MinChunkDurationMs * bytesPerMs,
		maxChunk:    (MaxChunkDurationMs - MinChunkDurationMs) * bytesPerMs,
		audioBuffer: make([]byte, 0, 8000),
		stopSending: make(chan struct{}),
		senderDone:  make(chan struct{}),
		readDone:    make(chan struct{}),
		log:         logging.WithComponent("assemblyai"),
	}
}

func (at *AssemblyAISocket) url() (string, error) {
	u, err := url.Parse(at.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid AssemblyAI endpoint: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(at.targetRate))
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (at *AssemblyAISocket) Connect(ctx context.Context) error {
	at.mu.Lock()
	if at.closed {
		at.mu.Unlock()
		return ErrSocketClosed
	}
	dialCtx, cancel := context.WithCancel(ctx)
	at.cancelDial = cancel
	at.mu.Unlock()
	defer cancel()

	target, err := at.url()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Add("Authorization", at.apiKey)

	conn, resp, err := at.hs.dial(dialCtx, at.dialer, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to AssemblyAI (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	at.mu.Lock()
	defer at.mu.Unlock()
	if at.closed {
		conn.Close()
		return ErrSocketClosed
	}
	at.conn = conn
	go at.handleResults(conn)
	go at.audioSender(conn)

	at.log.Debug().Int("sampleRate", at.targetRate).Msg("AssemblyAI websocket connected")
	return nil
}

func (at *AssemblyAISocket) audioSender(conn *websocket.Conn) {
	defer close(at.senderDone)

	// Send audio every 50ms to minimize latency while respecting AssemblyAI limits
	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			at.sendBufferedAudio(conn)
		case <-at.stopSending:
			at.sendBufferedAudio(conn)
			return
		}
	}
}

func (at *AssemblyAISocket) sendBufferedAudio(conn *websocket.Conn) {
	at.bufferMu.Lock()
	defer at.bufferMu.Unlock()

	for len(at.audioBuffer) >= at.minChunk {
		chunkSize := len(at.audioBuffer)
		if chunkSize > at.maxChunk {
			chunkSize = at.maxChunk
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, at.audioBuffer[:chunkSize]); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				at.log.Warn().Err(err).Msg("Failed to send audio to AssemblyAI")
			}
			// Clear buffer on error to avoid infinite loop
			at.audioBuffer = at.audioBuffer[:0]
			return
		}

		at.audioBuffer = at.audioBuffer[chunkSize:]
	}
}

// Send queues a frame for the next chunk. It never touches the network.
func (at *AssemblyAISocket) Send(frame []byte) error {
	at.mu.Lock()
	closed := at.closed
	at.mu.Unlock()
	if closed {
		return ErrSocketClosed
	}

	processed := frame
	if at.inputRate == 8000 {
		processed = Resample8to16(frame)
	}

	at.bufferMu.Lock()
	at.audioBuffer = append(at.audioBuffer, processed...)
	at.bufferMu.Unlock()
	return nil
}

func (at *AssemblyAISocket) handleResults(conn *websocket.Conn) {
	defer close(at.readDone)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			at.finishRead(err)
			return
		}

		var msg AssemblyAIMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			at.log.Warn().Err(err).Msg("Failed to parse AssemblyAI message")
			continue
		}

		if msg.Error != "" {
			at.handlers.emitError(fmt.Errorf("AssemblyAI error: %s", msg.Error))
			continue
		}

		switch msg.Type {
		case "Begin":
			at.mu.Lock()
			at.sessionID = msg.ID
			at.mu.Unlock()
			at.log.Info().Str("sessionId", msg.ID).Msg("AssemblyAI session started")
			at.handlers.emitOpen(msg.ID)

		case "Turn":
			kind := PartialTranscript
			if msg.TurnIsFormatted {
				kind = FinalTranscript
			}
			at.handlers.emitTranscript(Transcript{MessageType: kind, Text: msg.Transcript})

		case "Termination":
			at.log.Info().
				Float64("audioSeconds", msg.AudioDurationSec).
				Float64("sessionSeconds", msg.SessionDurationSec).
				Msg("AssemblyAI session terminated")
		}
	}
}

// finishRead maps the read loop's terminal error to handler calls.
func (at *AssemblyAISocket) finishRead(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			at.log.Warn().Int("code", closeErr.Code).Str("reason", closeErr.Text).Msg("AssemblyAI closed abnormally")
		}
		at.handlers.emitClose(closeErr.Code, closeErr.Text)
		return
	}

	at.mu.Lock()
	closing := at.closed
	at.mu.Unlock()
	if closing {
		at.handlers.emitClose(websocket.CloseNormalClosure, "closed by client")
		return
	}

	at.log.Error().Err(err).Msg("AssemblyAI websocket error")
	at.handlers.emitError(fmt.Errorf("AssemblyAI websocket error: %w", err))
	at.handlers.emitClose(websocket.CloseAbnormalClosure, err.Error())
}

// SessionID returns the id from the Begin message, if any.
func (at *AssemblyAISocket) SessionID() string {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.sessionID
}

func (at *AssemblyAISocket) Close(ctx context.Context) error {
	var err error
	at.closeOnce.Do(func() {
		err = at.shutdown(ctx)
	})
	return err
}

func (at *AssemblyAISocket) shutdown(ctx context.Context) error {
	at.mu.Lock()
	at.closed = true
	conn := at.conn
	cancel := at.cancelDial
	at.mu.Unlock()

	if conn == nil {
		// Not connected yet: abort any dial in flight.
		if cancel != nil {
			cancel()
		}
		at.hs.abort()
		return nil
	}

	close(at.stopSending)
	<-at.senderDone

	// Send any remaining audio in buffer (even if less than minimum)
	at.bufferMu.Lock()
	if len(at.audioBuffer) > 0 {
		_ = conn.WriteMessage(websocket.BinaryMessage, at.audioBuffer)
		at.audioBuffer = at.audioBuffer[:0]
	}
	at.bufferMu.Unlock()

	terminate, _ := json.Marshal(AssemblyAIMessage{Type: "Terminate"})
	if err := conn.WriteMessage(websocket.TextMessage, terminate); err != nil {
		at.log.Debug().Err(err).Msg("Terminate not sent")
	}

	// AssemblyAI answers Terminate with Termination and a close frame.
	var waitErr error
	select {
	case <-at.readDone:
	case <-ctx.Done():
		waitErr = fmt.Errorf("AssemblyAI close handshake: %w", ctx.Err())
	}

	closeErr := conn.Close()
	<-at.readDone
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}
