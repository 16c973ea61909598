package stream

import (
	"errors"
	"testing"
)

func TestLifecycleTransitions(t *testing.T) {
	l := NewLifecycle()
	if err := l.Open(); err == nil {
		t.Error("Open from Idle should fail")
	}
	if err := l.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Begin(); !errors.Is(err, ErrNotIdle) {
		t.Errorf("second Begin = %v, want ErrNotIdle", err)
	}
	if l.Delivers() {
		t.Error("Connecting must not deliver transcripts")
	}
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	prev, err := l.Close()
	if err != nil || prev != StateOpen {
		t.Fatalf("Close = %v, %v", prev, err)
	}
	if !l.Delivers() {
		t.Error("Closing should still deliver transcripts")
	}
	if !l.Finish() {
		t.Fatal("Finish from Closing failed")
	}
	if l.Fail() || l.State() != StateClosed {
		t.Errorf("terminal state changed to %v", l.State())
	}
	if _, err := l.Close(); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Close after Closed = %v, want ErrSessionEnded", err)
	}
}

func TestLifecycleOpenAfterStop(t *testing.T) {
	l := NewLifecycle()
	l.Begin()
	if prev, _ := l.Close(); prev != StateConnecting {
		t.Fatalf("Close left %v, want Connecting", prev)
	}
	if err := l.Open(); !errors.Is(err, ErrStopRequested) {
		t.Errorf("Open after stop = %v, want ErrStopRequested", err)
	}
	if l.State() != StateClosing {
		t.Errorf("state = %v, want Closing", l.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateIdle, "Idle", false},
		{StateConnecting, "Connecting", false},
		{StateOpen, "Open", false},
		{StateClosing, "Closing", false},
		{StateClosed, "Closed", true},
		{StateErrored, "Errored", true},
		{State(42), "Unknown(42)", false},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.state.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
			if got := tc.state.IsTerminal(); got != tc.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tc.terminal)
			}
		})
	}
}

func TestFrameBuffer(t *testing.T) {
	b := NewFrameBuffer(6)
	if d := b.Push([]byte{1, 1}); d != 0 {
		t.Errorf("dropped %d", d)
	}
	b.Push([]byte{2, 2})
	b.Push([]byte{3, 3})
	if d := b.Push([]byte{4, 4}); d != 1 {
		t.Errorf("dropped %d, want 1", d)
	}
	if b.Len() != 3 || b.Size() != 6 {
		t.Errorf("len %d size %d, want 3 and 6", b.Len(), b.Size())
	}

	frames := b.Drain()
	for i, f := range frames {
		if f[0] != byte(i+2) {
			t.Errorf("frame %d = %v", i, f)
		}
	}
	if b.Len() != 0 || b.Size() != 0 {
		t.Error("Drain left frames behind")
	}

	// An oversized frame replaces everything but is kept.
	b.Push([]byte{1})
	if d := b.Push(make([]byte, 10)); d != 1 || b.Len() != 1 {
		t.Errorf("oversized push dropped %d, len %d", d, b.Len())
	}
}
