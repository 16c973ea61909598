package stream

import (
	"time"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

// SessionInfo describes a session as it starts.
type SessionInfo struct {
	ID        string
	Provider  transcriber.Provider
	Format    capture.Format
	StartTime time.Time
}

// Listener receives session events. Calls are serialized and only made for
// the current session, in the order the socket delivered them.
// SessionStarting always precedes every other event of a session.
type Listener interface {
	SessionStarting(info SessionInfo)
	SessionOpened(sessionID string)
	PartialTranscript(text string)
	FinalTranscript(text string)
	SessionClosed(code int, reason string)
	SessionError(err error)
	RecordingSaved(path string)
}

// Listeners fans events out to each listener in order.
type Listeners []Listener

func (ls Listeners) SessionStarting(info SessionInfo) {
	for _, l := range ls {
		l.SessionStarting(info)
	}
}

func (ls Listeners) SessionOpened(sessionID string) {
	for _, l := range ls {
		l.SessionOpened(sessionID)
	}
}

func (ls Listeners) PartialTranscript(text string) {
	for _, l := range ls {
		l.PartialTranscript(text)
	}
}

func (ls Listeners) FinalTranscript(text string) {
	for _, l := range ls {
		l.FinalTranscript(text)
	}
}

func (ls Listeners) SessionClosed(code int, reason string) {
	for _, l := range ls {
		l.SessionClosed(code, reason)
	}
}

func (ls Listeners) SessionError(err error) {
	for _, l := range ls {
		l.SessionError(err)
	}
}

func (ls Listeners) RecordingSaved(path string) {
	for _, l := range ls {
		l.RecordingSaved(path)
	}
}
