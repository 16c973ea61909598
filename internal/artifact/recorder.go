package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
)

// Recorder streams PCM frames into a WAV file.
type Recorder struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	encoder *wav.Encoder
	format  capture.Format
	bytes   int
	closed  bool
}

// NewRecorder creates recording_<stamp>.wav under dir.
func NewRecorder(dir string, format capture.Format) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("recording_%s.wav", Stamp(time.Now())))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	return &Recorder{
		path:    path,
		file:    f,
		encoder: wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1),
		format:  format,
	}, nil
}

// Path is the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Write appends one frame.
func (r *Recorder) Write(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.format.Channels,
			SampleRate:  r.format.SampleRate,
		},
		Data:           capture.BytesToInts(frame),
		SourceBitDepth: 16,
	}
	if err := r.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	r.bytes += len(frame)
	return nil
}

// Duration is the recorded play time so far.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Duration(r.bytes)
}

// Close finalizes the WAV header and returns the file path.
func (r *Recorder) Close() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.path, nil
	}
	r.closed = true

	err := r.encoder.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to finalize recording: %w", err)
	}
	return r.path, nil
}

// Discard closes the recording and removes the file.
func (r *Recorder) Discard() error {
	if _, err := r.Close(); err != nil {
		os.Remove(r.path)
		return err
	}
	return os.Remove(r.path)
}
