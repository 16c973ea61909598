// Package device captures from the default input device. It needs cgo and
// the PortAudio C library, so it lives apart from the pure-Go capture back ends.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

// DefaultFramesPerBuffer is 64ms at 16kHz.
const DefaultFramesPerBuffer = 1024

// Opener opens the default input device.
type Opener struct {
	FramesPerBuffer int
}

func (o Opener) Open(ctx context.Context, format capture.Format) (capture.Source, error) {
	framesPerBuffer := o.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	in := make([]int16, framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	src := &deviceSource{
		stream: stream,
		in:     in,
		frames: make(chan []byte, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    logging.WithComponent("capture-device"),
	}
	go src.run()

	src.log.Info().
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Int("framesPerBuffer", framesPerBuffer).
		Msg("Device capture started")
	return src, nil
}

type deviceSource struct {
	stream   *portaudio.Stream
	in       []int16
	frames   chan []byte
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

func (src *deviceSource) Frames() <-chan []byte {
	return src.frames
}

func (src *deviceSource) run() {
	defer close(src.done)
	defer close(src.frames)

	dropped := 0
	for {
		select {
		case <-src.stop:
			return
		default:
		}

		if err := src.stream.Read(); err != nil {
			// Input overflow is reported as an error but the buffer is still usable.
			if err != portaudio.InputOverflowed {
				src.log.Error().Err(err).Msg("Stream read error")
				return
			}
			src.log.Warn().Msg("Input overflowed")
		}

		frame := capture.Int16ToBytes(src.in)
		select {
		case src.frames <- frame:
		case <-src.stop:
			return
		default:
			// The device cannot wait for a slow consumer.
			dropped++
			src.log.Warn().Int("dropped", dropped).Msg("Capture consumer behind, frame dropped")
		}
	}
}

func (src *deviceSource) Stop() error {
	src.stopOnce.Do(func() { close(src.stop) })
	<-src.done

	err := src.stream.Stop()
	if cerr := src.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
