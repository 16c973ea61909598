package sessionlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

func readRecords(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func info(id string) stream.SessionInfo {
	return stream.SessionInfo{
		ID:        id,
		Provider:  transcriber.AssemblyAI,
		Format:    capture.Format{SampleRate: 16000, Channels: 1},
		StartTime: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestSessionLogRecordsLifecycle(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.SessionStarting(info("0123456789abcdef"))
	path := l.Path()
	if want := filepath.Join(dir, "20240301_093000_session_01234567.jsonl"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}

	l.SessionOpened("remote-1")
	l.PartialTranscript("hel")
	l.PartialTranscript("hello")
	l.FinalTranscript("  hello world ")
	l.SessionError(errors.New("boom"))
	l.SessionClosed(1000, "")
	l.RecordingSaved("/tmp/rec.wav")

	recs := readRecords(t, path)
	var kinds []string
	for _, r := range recs {
		kinds = append(kinds, r.Event)
		if r.SessionID != "0123456789abcdef" {
			t.Errorf("%s session = %q", r.Event, r.SessionID)
		}
	}
	want := "session_start,session_open,final,error,session_closed,recording_saved"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if recs[2].Text != "hello world" {
		t.Errorf("final text = %q", recs[2].Text)
	}
	closed := recs[4].Details
	if closed["partials"] != "2" || closed["finals"] != "1" || closed["code"] != "1000" {
		t.Errorf("close details = %v", closed)
	}
}

func TestSessionLogRotatesPerSession(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	defer l.Close()

	l.SessionStarting(info("aaaaaaaa-1"))
	first := l.Path()
	l.FinalTranscript("one")

	next := info("bbbbbbbb-2")
	next.StartTime = next.StartTime.Add(time.Minute)
	l.SessionStarting(next)
	l.FinalTranscript("two")

	if l.Path() == first {
		t.Fatal("second session reused the first file")
	}
	if recs := readRecords(t, first); len(recs) != 2 || recs[1].Text != "one" {
		t.Fatalf("first file = %+v", recs)
	}
	recs := readRecords(t, l.Path())
	if len(recs) != 2 || recs[1].Text != "two" || recs[1].SessionID != "bbbbbbbb-2" {
		t.Fatalf("second file = %+v", recs)
	}
}

func TestSessionLogIgnoresEventsWithoutSession(t *testing.T) {
	l := New(t.TempDir())
	l.FinalTranscript("orphan")
	l.SessionClosed(1000, "")
	if l.Path() != "" {
		t.Fatal("file opened without a session")
	}
}
