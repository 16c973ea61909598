package stream

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of one streaming session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateErrored:
		return "Errored"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true for Closed and Errored.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

// Errors for invalid state transitions.
var (
	ErrSessionEnded  = errors.New("session has ended")
	ErrStopRequested = errors.New("stop requested before open")
	ErrNotIdle       = errors.New("session already started")
)

// Lifecycle is the state machine of a single session. A session never
// leaves a terminal state; a new Start builds a new Lifecycle.
//
//	Idle ──Begin──> Connecting ──Open──> Open
//	                   │                   │
//	                   └──────Close────────┴──> Closing ──Finish──> Closed
//
//	any non-terminal ──Fail──> Errored
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in Idle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Begin moves Idle to Connecting.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return ErrNotIdle
	}
	l.state = StateConnecting
	return nil
}

// Open moves Connecting to Open. When a stop already moved the session to
// Closing it returns ErrStopRequested and the caller must close the socket.
func (l *Lifecycle) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateOpen
		return nil
	case StateClosing:
		return ErrStopRequested
	case StateClosed, StateErrored:
		return ErrSessionEnded
	default:
		return fmt.Errorf("unexpected open in state %v", l.state)
	}
}

// Close moves Connecting or Open to Closing and returns the state it left.
func (l *Lifecycle) Close() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	switch prev {
	case StateConnecting, StateOpen:
		l.state = StateClosing
		return prev, nil
	case StateClosing:
		return prev, nil
	default:
		return prev, ErrSessionEnded
	}
}

// Finish marks a normal close. It returns false if the session was already terminal.
func (l *Lifecycle) Finish() bool {
	return l.terminate(StateClosed)
}

// Fail marks the session Errored. It returns false if the session was already terminal.
func (l *Lifecycle) Fail() bool {
	return l.terminate(StateErrored)
}

func (l *Lifecycle) terminate(to State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = to
	return true
}

// Delivers reports whether transcripts may still be forwarded.
func (l *Lifecycle) Delivers() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen || l.state == StateClosing
}
