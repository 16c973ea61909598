// Package artifact writes the files a session leaves behind: the WAV
// recording, the transcript text and uploaded audio.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Stamp formats t as YYYYMMDD_HHMMSS_mmm for file names.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// Meta describes the session a transcript belongs to.
type Meta struct {
	SessionID  string
	Provider   string
	StartTime  time.Time
	EndTime    time.Time
	SampleRate int
}

// SaveTranscript writes the finalized lines with a metadata header and
// returns the file path.
func SaveTranscript(dir string, meta Meta, lines []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	shortID := meta.SessionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.txt",
		meta.StartTime.Format("20060102_150405"),
		strings.ToLower(meta.Provider),
		shortID,
	))

	header := fmt.Sprintf("Session ID: %s\nProvider: %s\nStart Time: %s\nDuration: %v\nSample Rate: %dHz\n\n---TRANSCRIPT---\n\n",
		meta.SessionID,
		meta.Provider,
		meta.StartTime.Format("2006-01-02 15:04:05"),
		meta.EndTime.Sub(meta.StartTime).Round(time.Millisecond),
		meta.SampleRate,
	)

	content := header + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}
	return filename, nil
}

// ErrInvalidExtension rejects upload extensions that would escape the directory.
var ErrInvalidExtension = errors.New("invalid file extension")

// SaveUpload stores an uploaded recording as recording_<stamp>.<ext>.
func SaveUpload(dir, ext string, r io.Reader) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "mp3"
	}
	if strings.ContainsAny(ext, `/\`) {
		return "", fmt.Errorf("%w %q", ErrInvalidExtension, ext)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("recording_%s.%s", Stamp(time.Now()), ext))
	f, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to save the file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(filename)
		return "", fmt.Errorf("failed to save the file: %w", err)
	}
	return filename, f.Close()
}
