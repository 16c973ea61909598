// Package capture provides sources of raw PCM audio frames.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// ErrStopped is returned when opening a source that was stopped before it produced audio.
var ErrStopped = errors.New("capture stopped")

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// BytesFor returns the number of bytes covering d of audio.
func (f Format) BytesFor(d time.Duration) int {
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Source is a running capture. Frames is closed once the producer has exited,
// either because Stop was called or because the input ended.
type Source interface {
	Frames() <-chan []byte
	Stop() error
}

// Opener starts a new capture in the requested format.
type Opener interface {
	Open(ctx context.Context, format Format) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, format Format) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, format Format) (Source, error) {
	return f(ctx, format)
}

// Int16ToBytes packs samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInts unpacks little-endian PCM into ints. A trailing odd byte is ignored.
func BytesToInts(frame []byte) []int {
	out := make([]int, len(frame)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(frame[i*2:])))
	}
	return out
}
