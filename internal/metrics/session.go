package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionMetrics summarizes one streaming session for the process log.
type SessionMetrics struct {
	Provider  string
	SessionID string
	StartTime time.Time
	EndTime   time.Time

	bytesPerSecond  int
	audioBytes      int
	transcriptChars int
	partialCount    int
	finalCount      int
	firstResultTime time.Time
	mu              sync.Mutex
}

// NewSessionMetrics starts the clock for a session whose audio runs at
// bytesPerSecond.
func NewSessionMetrics(provider, sessionID string, bytesPerSecond int) *SessionMetrics {
	return &SessionMetrics{
		Provider:       provider,
		SessionID:      sessionID,
		StartTime:      time.Now(),
		bytesPerSecond: bytesPerSecond,
	}
}

func (m *SessionMetrics) AddAudioBytes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioBytes += n
}

func (m *SessionMetrics) AddTranscript(text string, final bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstResultTime.IsZero() {
		m.firstResultTime = time.Now()
	}
	m.transcriptChars += len(text)
	if final {
		m.finalCount++
	} else {
		m.partialCount++
	}
}

// Finalize stamps the end time. Later calls are ignored.
func (m *SessionMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndTime.IsZero() {
		m.EndTime = time.Now()
	}
}

// AudioDuration is the play time of the audio relayed so far.
func (m *SessionMetrics) AudioDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioDuration()
}

func (m *SessionMetrics) audioDuration() time.Duration {
	if m.bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(m.audioBytes) * int64(time.Second) / int64(m.bytesPerSecond))
}

// Counts returns the partial and final transcript counts.
func (m *SessionMetrics) Counts() (partials, finals int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partialCount, m.finalCount
}

// MarshalZerologObject writes the summary as log fields.
func (m *SessionMetrics) MarshalZerologObject(e *zerolog.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(m.StartTime)
	audio := m.audioDuration()

	e.Str("provider", m.Provider).
		Str("session", m.SessionID).
		Dur("duration", duration).
		Dur("audio_duration", audio).
		Int("audio_bytes", m.audioBytes).
		Int("transcript_chars", m.transcriptChars).
		Int("partials", m.partialCount).
		Int("finals", m.finalCount)

	if !m.firstResultTime.IsZero() {
		e.Dur("first_result_latency", m.firstResultTime.Sub(m.StartTime))
	}
	if audio > 0 {
		e.Float64("real_time_factor", duration.Seconds()/audio.Seconds())
	}
}
