// Package sessionlog writes one JSONL file per streaming session.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
)

type record struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id"`
	Provider  string            `json:"provider,omitempty"`
	Text      string            `json:"text,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger is a stream.Listener. Each session gets its own file, kept open
// until the next session starts so late events such as recording_saved
// land in the right place.
type Logger struct {
	dir string
	now func() time.Time
	log zerolog.Logger

	mu       sync.Mutex
	file     *os.File
	session  string
	partials int
	finals   int
}

// New writes session logs under dir.
func New(dir string) *Logger {
	if dir == "" {
		dir = "."
	}
	return &Logger{
		dir: dir,
		now: time.Now,
		log: logging.WithComponent("sessionlog"),
	}
}

// Path returns the current session's file, if any.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close closes the current file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Logger) closeLocked() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) open(info stream.SessionInfo) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	shortID := info.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	name := filepath.Join(l.dir, fmt.Sprintf("%s_session_%s.jsonl", info.StartTime.Format("20060102_150405"), shortID))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func (l *Logger) writeLocked(rec record) {
	if l.file == nil {
		return
	}
	rec.Timestamp = l.now().Format(time.RFC3339Nano)
	rec.SessionID = l.session
	rec.Text = strings.TrimSpace(rec.Text)
	if err := json.NewEncoder(l.file).Encode(rec); err != nil {
		l.log.Warn().Err(err).Msg("Failed to write session log")
	}
}

func (l *Logger) write(rec record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(rec)
}

func (l *Logger) SessionStarting(info stream.SessionInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.closeLocked(); err != nil {
		l.log.Warn().Err(err).Msg("Failed to close previous session log")
	}
	l.session = info.ID
	l.partials, l.finals = 0, 0
	if err := l.open(info); err != nil {
		l.log.Error().Err(err).Str("session", info.ID).Msg("Session log disabled")
		return
	}
	l.writeLocked(record{
		Event:    "session_start",
		Provider: string(info.Provider),
		Details: map[string]string{
			"sample_rate": strconv.Itoa(info.Format.SampleRate),
			"channels":    strconv.Itoa(info.Format.Channels),
		},
	})
}

func (l *Logger) SessionOpened(sessionID string) {
	l.write(record{Event: "session_open", Details: map[string]string{"provider_session": sessionID}})
}

// Partials are only counted; the count is written when the session closes.
func (l *Logger) PartialTranscript(text string) {
	l.mu.Lock()
	l.partials++
	l.mu.Unlock()
}

func (l *Logger) FinalTranscript(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finals++
	l.writeLocked(record{Event: "final", Text: text})
}

func (l *Logger) SessionClosed(code int, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(record{Event: "session_closed", Details: map[string]string{
		"code":     strconv.Itoa(code),
		"reason":   reason,
		"partials": strconv.Itoa(l.partials),
		"finals":   strconv.Itoa(l.finals),
	}})
}

func (l *Logger) SessionError(err error) {
	l.write(record{Event: "error", Text: err.Error()})
}

func (l *Logger) RecordingSaved(path string) {
	l.write(record{Event: "recording_saved", Details: map[string]string{"path": path}})
}
