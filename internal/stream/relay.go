package stream

import (
	"errors"

	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

// relay owns the capture source, the pre-open buffer and the recording.
// Frames captured before the socket opens are buffered and flushed in
// order on open; after that every frame goes straight to the socket.
func (c *Controller) relay(s *session) {
	defer close(s.relayDone)

	src, err := c.capture.Open(s.relayCtx, c.cfg.Format)
	if err != nil {
		if s.relayCtx.Err() != nil {
			return
		}
		c.fail(s, &CaptureError{Err: err})
		return
	}

	var rec Recording
	if c.newRecord != nil {
		rec, err = c.newRecord(c.cfg.Format)
		if err != nil {
			s.log.Error().Err(err).Msg("Recording disabled for this session")
			rec = nil
		}
	}
	defer func() {
		if err := src.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop capture")
		}
		if rec != nil {
			c.finishRecording(s, rec)
		}
	}()

	buf := NewFrameBuffer(c.cfg.Format.BytesFor(c.cfg.PreOpenBuffer))
	opened := s.opened
	flushed := false
	frames := src.Frames()

	for {
		select {
		case <-s.relayCtx.Done():
			return

		case <-opened:
			opened = nil
			pending := buf.Drain()
			s.log.Debug().Int("frames", len(pending)).Msg("Flushing pre-open audio")
			for _, f := range pending {
				c.send(s, f)
			}
			flushed = true

		case frame, ok := <-frames:
			if !ok {
				s.log.Info().Msg("Capture ended")
				return
			}
			if rec != nil {
				if err := rec.Write(frame); err != nil {
					s.log.Warn().Err(err).Msg("Failed to write recording")
				}
			}
			if s.life.State().IsTerminal() {
				continue
			}
			if !flushed {
				if dropped := buf.Push(frame); dropped > 0 {
					c.metrics.PreOpenDropped.Add(float64(dropped))
					s.log.Warn().
						Int("dropped", dropped).
						Int("buffered_bytes", buf.Size()).
						Msg("Pre-open buffer full, dropped oldest audio")
				}
				continue
			}
			c.send(s, frame)
		}
	}
}

func (c *Controller) send(s *session, frame []byte) {
	if err := s.socket.Send(frame); err != nil {
		if !errors.Is(err, transcriber.ErrSocketClosed) {
			s.log.Warn().Err(err).Msg("Failed to queue audio")
		}
		return
	}
	c.metrics.FramesRelayed.Inc()
	c.metrics.BytesRelayed.Add(float64(len(frame)))
	s.stats.AddAudioBytes(len(frame))
}

// finishRecording saves the recording, or drops it if no audio was captured.
func (c *Controller) finishRecording(s *session, rec Recording) {
	if rec.Duration() == 0 {
		if err := rec.Discard(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to discard empty recording")
		}
		s.log.Info().Msg("No audio captured, recording discarded")
		return
	}
	path, err := rec.Close()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to save recording")
		return
	}
	s.log.Info().Str("path", path).Msg("Recording saved")
	c.deliver(s, func(l Listener) { l.RecordingSaved(path) })
}
