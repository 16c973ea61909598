package transcriber

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// recorder collects handler calls in order.
type recorder struct {
	mu      sync.Mutex
	events  []string
	audio   int
	opened  chan string
	closed  chan int
	errored chan error
}

func newRecorder() *recorder {
	return &recorder{
		opened:  make(chan string, 1),
		closed:  make(chan int, 1),
		errored: make(chan error, 4),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnOpen: func(id string) {
			r.add("open:" + id)
			r.opened <- id
		},
		OnTranscript: func(t Transcript) {
			r.add(string(t.MessageType) + ":" + t.Text)
		},
		OnError: func(err error) {
			r.add("error")
			r.errored <- err
		},
		OnClose: func(code int, reason string) {
			r.add("close")
			r.closed <- code
		},
	}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// fakeAssemblyAI plays a short session and reports received audio bytes on done.
func fakeAssemblyAI(t *testing.T, closeCode int, done chan<- int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("sample_rate") != "16000" || r.URL.Query().Get("format_turns") != "true" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(AssemblyAIMessage{Type: "Begin", ID: "sid-1"})
		conn.WriteJSON(AssemblyAIMessage{Type: "Turn", Transcript: "hel"})
		conn.WriteJSON(AssemblyAIMessage{Type: "Turn", Transcript: "hello", TurnIsFormatted: true, EndOfTurn: true})

		received := 0
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				done <- received
				return
			}
			if kind == websocket.BinaryMessage {
				received += len(data)
				continue
			}
			if strings.Contains(string(data), "Terminate") {
				conn.WriteJSON(AssemblyAIMessage{Type: "Termination", AudioDurationSec: 1})
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, "bye"))
				done <- received
				// wait for the client to drop the connection
				conn.SetReadDeadline(time.Now().Add(time.Second))
				conn.ReadMessage()
				return
			}
		}
	}))
}

// stalledUpgrade accepts the upgrade request but never answers it.
func stalledUpgrade() (srv *httptest.Server, entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{}, 1)
	release = make(chan struct{})
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	return srv, in, release
}

// connectAborted asserts that Close unblocks a Connect stuck in the upgrade.
func connectAborted(t *testing.T, sock Socket, entered <-chan struct{}) {
	t.Helper()
	connectErr := make(chan error, 1)
	go func() { connectErr <- sock.Connect(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade request never arrived")
	}
	if err := sock.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-connectErr:
		if err == nil {
			t.Fatal("Connect succeeded after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect still blocked in the upgrade after Close")
	}
}

func TestAssemblyAISocketSession(t *testing.T) {
	done := make(chan int, 1)
	srv := fakeAssemblyAI(t, websocket.CloseNormalClosure, done)
	defer srv.Close()

	rec := newRecorder()
	sock := NewAssemblyAISocket(Options{APIKey: "test-key", ServerURL: wsURL(srv), SampleRate: 16000}, rec.handlers())

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case id := <-rec.opened:
		if id != "sid-1" {
			t.Errorf("session id = %q, want sid-1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no open event")
	}

	frame := make([]byte, 3200)
	for i := 0; i < 5; i++ {
		if err := sock.Send(frame); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// A short tail below the minimum chunk is flushed on close.
	sock.Send(make([]byte, 100))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sock.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := <-done; got != 16100 {
		t.Errorf("server received %d audio bytes, want 16100", got)
	}
	select {
	case code := <-rec.closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("close code = %d, want 1000", code)
		}
	default:
		t.Fatal("OnClose not called before Close returned")
	}

	want := []string{"open:sid-1", "PartialTranscript:hel", "FinalTranscript:hello", "close"}
	got := rec.snapshot()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}

	if err := sock.Send(frame); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("Send after Close = %v, want ErrSocketClosed", err)
	}
	if err := sock.Close(ctx); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestAssemblyAISocketAbnormalClose(t *testing.T) {
	done := make(chan int, 1)
	srv := fakeAssemblyAI(t, 4001, done)
	defer srv.Close()

	rec := newRecorder()
	sock := NewAssemblyAISocket(Options{APIKey: "test-key", ServerURL: wsURL(srv), SampleRate: 16000}, rec.handlers())
	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-rec.opened

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sock.Close(ctx)

	select {
	case code := <-rec.closed:
		if code != 4001 {
			t.Errorf("close code = %d, want 4001", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
}

func TestAssemblyAISocketRejectedKey(t *testing.T) {
	srv := fakeAssemblyAI(t, websocket.CloseNormalClosure, make(chan int, 1))
	defer srv.Close()

	rec := newRecorder()
	sock := NewAssemblyAISocket(Options{APIKey: "wrong", ServerURL: wsURL(srv), SampleRate: 16000}, rec.handlers())
	err := sock.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not carry the HTTP status", err)
	}
	if len(rec.snapshot()) != 0 {
		t.Errorf("handlers ran on failed connect: %v", rec.snapshot())
	}
}

func TestAssemblyAISocketCloseBeforeConnect(t *testing.T) {
	sock := NewAssemblyAISocket(Options{APIKey: "k", ServerURL: "ws://127.0.0.1:1", SampleRate: 16000}, Handlers{})
	if err := sock.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sock.Connect(context.Background()); !errors.Is(err, ErrSocketClosed) {
		t.Fatalf("Connect after Close = %v, want ErrSocketClosed", err)
	}
}

func TestAssemblyAISocketCloseDuringUpgrade(t *testing.T) {
	srv, entered, release := stalledUpgrade()
	defer srv.Close()
	defer close(release)

	sock := NewAssemblyAISocket(Options{APIKey: "test-key", ServerURL: wsURL(srv), SampleRate: 16000}, Handlers{})
	connectAborted(t, sock, entered)
}

func TestAssemblyAISocketUpsamplesNarrowband(t *testing.T) {
	sock := NewAssemblyAISocket(Options{APIKey: "k", SampleRate: 8000}, Handlers{})
	if sock.targetRate != 16000 {
		t.Fatalf("target rate = %d, want 16000", sock.targetRate)
	}
	sock.Send(make([]byte, 320))
	if got := len(sock.audioBuffer); got != 640 {
		t.Errorf("buffered %d bytes, want 640", got)
	}
}

func TestResample8to16(t *testing.T) {
	in := make([]byte, 6)
	for i, s := range []int16{100, 200, -32768} {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}
	out := Resample8to16(in)

	want := []int16{100, 150, 200, -16284, -32768, -32768}
	if len(out) != len(want)*2 {
		t.Fatalf("got %d bytes, want %d", len(out), len(want)*2)
	}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(out[i*2:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}

	if Resample8to16(nil) != nil {
		t.Error("empty input should produce no output")
	}
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		name    string
		want    Provider
		wantErr bool
	}{
		{"AssemblyAI", AssemblyAI, false},
		{"assemblyai", AssemblyAI, false},
		{"vosk", Vosk, false},
		{"Deepgram", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseProvider(tc.name)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
