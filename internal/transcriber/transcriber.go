// Package transcriber implements realtime speech-to-text sockets.
//
// A Socket is created with a set of Handlers and then connected. Handlers are
// invoked from the socket's single read goroutine, in the order the service
// delivered the messages:
//
//	Connect ──ok──> OnOpen(id) ─> OnTranscript(...)* ─> OnClose(code, reason)
//	   │                              │
//	   └──err (no handlers run)       └── OnError(err) for read/protocol failures
//
// OnClose runs at most once, and only after a successful Connect.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrSocketClosed is returned by Connect and Send once Close has been called.
var ErrSocketClosed = errors.New("transcription socket closed")

// MessageType discriminates transcript events.
type MessageType string

const (
	PartialTranscript MessageType = "PartialTranscript"
	FinalTranscript   MessageType = "FinalTranscript"
)

// Transcript is one inbound transcript event.
type Transcript struct {
	MessageType MessageType `json:"message_type"`
	Text        string      `json:"text"`
}

// Handlers receive socket events. Nil handlers are skipped.
type Handlers struct {
	OnOpen       func(sessionID string)
	OnTranscript func(t Transcript)
	OnError      func(err error)
	OnClose      func(code int, reason string)
}

func (h Handlers) emitOpen(id string) {
	if h.OnOpen != nil {
		h.OnOpen(id)
	}
}

func (h Handlers) emitTranscript(t Transcript) {
	if h.OnTranscript != nil {
		h.OnTranscript(t)
	}
}

func (h Handlers) emitError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) emitClose(code int, reason string) {
	if h.OnClose != nil {
		h.OnClose(code, reason)
	}
}

// Socket is a duplex connection to a realtime transcription service.
type Socket interface {
	// Connect performs the handshake. It does not wait for the session to open.
	Connect(ctx context.Context) error
	// Send queues one audio frame. It never blocks on the network.
	Send(frame []byte) error
	// Close runs the close handshake and waits for the read loop to finish or
	// ctx to expire. It is safe before, during and after Connect, and idempotent.
	Close(ctx context.Context) error
}

// Provider is the closed set of live transcription services.
type Provider string

const (
	AssemblyAI Provider = "AssemblyAI"
	Vosk       Provider = "Vosk"
)

// Providers lists every supported live provider.
var Providers = []Provider{AssemblyAI, Vosk}

// ParseProvider resolves a provider name case-insensitively.
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers {
		if strings.EqualFold(string(p), name) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown transcription provider: %q", name)
}

// Options configure a new socket.
type Options struct {
	Provider   Provider
	APIKey     string // AssemblyAI
	ServerURL  string // Vosk, or an AssemblyAI endpoint override
	SampleRate int    // rate of the frames passed to Send
}

// New builds the socket for opts.Provider.
func New(opts Options, h Handlers) (Socket, error) {
	switch opts.Provider {
	case AssemblyAI:
		return NewAssemblyAISocket(opts, h), nil
	case Vosk:
		return NewVoskSocket(opts, h), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider: %q", opts.Provider)
	}
}

// handshake tracks the TCP connection under a websocket dial. Cancelling the
// dial context only stops the TCP connect; abort also unblocks an upgrade
// that is waiting on the server's response.
type handshake struct {
	mu      sync.Mutex
	raw     net.Conn
	aborted bool
}

func (hs *handshake) dial(ctx context.Context, base *websocket.Dialer, target string, header http.Header) (*websocket.Conn, *http.Response, error) {
	d := *base
	netDial := d.NetDialContext
	if netDial == nil {
		var nd net.Dialer
		netDial = nd.DialContext
	}
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		hs.mu.Lock()
		defer hs.mu.Unlock()
		if hs.aborted {
			c.Close()
			return nil, ErrSocketClosed
		}
		hs.raw = c
		return c, nil
	}
	return d.DialContext(ctx, target, header)
}

// abort closes the connection of a dial in flight. Only call it while no
// websocket.Conn has been handed out.
func (hs *handshake) abort() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.aborted = true
	if hs.raw != nil {
		hs.raw.Close()
	}
}
