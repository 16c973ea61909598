package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
)

// FileChunk is the play time of each frame a FileOpener emits.
const FileChunk = 100 * time.Millisecond

// FileOpener replays a 16-bit PCM WAV file as a capture source.
type FileOpener struct {
	Path string
	// Realtime paces frames at the file's play rate; otherwise frames are
	// produced as fast as they are consumed.
	Realtime bool
}

func (o FileOpener) Open(ctx context.Context, format Format) (Source, error) {
	file, err := os.Open(o.Path)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("not a valid WAV file: %s", o.Path)
	}
	if decoder.BitDepth != 16 {
		file.Close()
		return nil, fmt.Errorf("unsupported bit depth %d in %s", decoder.BitDepth, o.Path)
	}
	if int(decoder.SampleRate) != format.SampleRate || int(decoder.NumChans) != format.Channels {
		file.Close()
		return nil, fmt.Errorf("%s is %dHz/%dch, requested %dHz/%dch",
			o.Path, decoder.SampleRate, decoder.NumChans, format.SampleRate, format.Channels)
	}

	src := &fileSource{
		file:     file,
		decoder:  decoder,
		format:   format,
		realtime: o.Realtime,
		frames:   make(chan []byte, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      logging.WithComponent("capture-file").With().Str("path", o.Path).Logger(),
	}
	go src.run()
	return src, nil
}

type fileSource struct {
	file     *os.File
	decoder  *wav.Decoder
	format   Format
	realtime bool
	frames   chan []byte
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

func (src *fileSource) Frames() <-chan []byte {
	return src.frames
}

func (src *fileSource) run() {
	defer close(src.done)
	defer close(src.frames)
	defer src.file.Close()

	samples := src.format.BytesFor(FileChunk) / 2
	buf := &audio.IntBuffer{
		Data:   make([]int, samples),
		Format: &audio.Format{NumChannels: src.format.Channels, SampleRate: src.format.SampleRate},
	}

	var ticker *time.Ticker
	if src.realtime {
		ticker = time.NewTicker(FileChunk)
		defer ticker.Stop()
	}

	sent := 0
	for {
		n, err := src.decoder.PCMBuffer(buf)
		if err != nil {
			src.log.Error().Err(err).Msg("Failed to decode PCM")
			return
		}
		if n == 0 {
			src.log.Info().Int("bytes", sent).Msg("File capture reached end")
			return
		}

		frame := make([]int16, n)
		for i := 0; i < n; i++ {
			frame[i] = int16(buf.Data[i])
		}
		out := Int16ToBytes(frame)

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-src.stop:
				return
			}
		}
		select {
		case src.frames <- out:
			sent += len(out)
		case <-src.stop:
			return
		}
	}
}

func (src *fileSource) Stop() error {
	src.stopOnce.Do(func() { close(src.stop) })
	<-src.done
	return nil
}
