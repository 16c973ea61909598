// Package presenter turns controller events into outbound messages for the
// UI and keeps the finalized transcript of the current session.
package presenter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/artifact"
	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/stream"
	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

// Controller is the part of stream.Controller the adapter drives.
type Controller interface {
	Start(ctx context.Context, creds stream.Credentials) (string, error)
	Stop(ctx context.Context) string
}

// SettingsFunc returns the current user settings.
type SettingsFunc func(ctx context.Context) (config.Settings, error)

// PartialPayload is published on the partial-transcript channel.
type PartialPayload struct {
	Finalized []string `json:"finalized"`
	Partial   string   `json:"partial"`
}

// Adapter is a stream.Listener. It is the only writer of the accumulated
// transcript; everything else gets copies.
type Adapter struct {
	cfg      config.Config
	pub      events.Publisher
	settings SettingsFunc
	now      func() time.Time
	log      zerolog.Logger

	ctrlMu sync.RWMutex
	ctrl   Controller

	mu      sync.RWMutex
	info    stream.SessionInfo
	finals  []string
	partial string
}

// New builds an adapter. Attach must be called before StreamStart.
func New(cfg config.Config, pub events.Publisher, settings SettingsFunc) *Adapter {
	return &Adapter{
		cfg:      cfg,
		pub:      pub,
		settings: settings,
		now:      time.Now,
		log:      logging.WithComponent("presenter"),
	}
}

// Attach sets the controller the commands drive.
func (a *Adapter) Attach(c Controller) {
	a.ctrlMu.Lock()
	a.ctrl = c
	a.ctrlMu.Unlock()
}

func (a *Adapter) controller() Controller {
	a.ctrlMu.RLock()
	defer a.ctrlMu.RUnlock()
	return a.ctrl
}

// Transcript returns a copy of the finalized lines.
func (a *Adapter) Transcript() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return clone(a.finals)
}

// Partial returns the latest live partial.
func (a *Adapter) Partial() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.partial
}

func clone(lines []string) []string {
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// StreamStart resolves credentials from the settings and starts a session.
// It always returns a status string; a missing credential is reported only
// through that string.
func (a *Adapter) StreamStart(ctx context.Context) string {
	ctrl := a.controller()
	if ctrl == nil {
		return "no streaming controller attached"
	}
	creds, err := a.credentials(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Cannot resolve live transcription provider")
		return err.Error()
	}
	status, err := ctrl.Start(ctx, creds)
	if err != nil {
		a.log.Warn().Err(err).Str("provider", string(creds.Provider)).Msg("Stream start refused")
	}
	return status
}

// StreamStop stops the current session.
func (a *Adapter) StreamStop(ctx context.Context) string {
	ctrl := a.controller()
	if ctrl == nil {
		return stream.StatusStopped
	}
	return ctrl.Stop(ctx)
}

func (a *Adapter) credentials(ctx context.Context) (stream.Credentials, error) {
	settings, err := a.settings(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to load settings, using defaults")
		settings = config.DefaultSettings()
	}

	name := settings.DefaultLiveTranscriptionProvider
	if name == "" {
		name = a.cfg.Stream.Provider
	}
	provider, err := transcriber.ParseProvider(name)
	if err != nil {
		return stream.Credentials{}, err
	}

	creds := stream.Credentials{Provider: provider}
	if acct, ok := settings.Provider(string(provider)); ok {
		creds.APIKey = acct.APIKey
	}
	switch provider {
	case transcriber.AssemblyAI:
		if creds.APIKey == "" {
			creds.APIKey = a.cfg.AssemblyAI.APIKey
		}
		creds.ServerURL = a.cfg.AssemblyAI.URL
	case transcriber.Vosk:
		creds.ServerURL = a.cfg.Vosk.ServerURL
	}
	return creds, nil
}

func (a *Adapter) publish(channel string, payload any) {
	a.mu.RLock()
	session := a.info.ID
	a.mu.RUnlock()

	if a.pub == nil {
		return
	}
	if err := a.pub.Publish(context.Background(), events.Message{
		Channel: channel,
		Session: session,
		Payload: payload,
	}); err != nil {
		a.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish")
	}
}

func (a *Adapter) SessionStarting(info stream.SessionInfo) {
	a.mu.Lock()
	a.info = info
	a.finals = nil
	a.partial = ""
	a.mu.Unlock()
}

func (a *Adapter) SessionOpened(sessionID string) {
	a.publish(events.ChannelSessionOpen, sessionID)
}

func (a *Adapter) PartialTranscript(text string) {
	a.mu.Lock()
	a.partial = text
	payload := PartialPayload{Finalized: clone(a.finals), Partial: text}
	a.mu.Unlock()

	a.publish(events.ChannelPartial, payload)
}

func (a *Adapter) FinalTranscript(text string) {
	a.mu.Lock()
	a.finals = append(a.finals, text)
	a.partial = ""
	payload := clone(a.finals)
	a.mu.Unlock()

	a.publish(events.ChannelFinal, payload)
}

func (a *Adapter) SessionClosed(code int, reason string) {
	a.publish(events.ChannelSessionClosed, reason)
	a.saveTranscript()
}

func (a *Adapter) SessionError(err error) {
	a.publish(events.ChannelSessionError, err.Error())
}

func (a *Adapter) RecordingSaved(path string) {
	a.publish(events.ChannelRecordingSaved, path)
}

func (a *Adapter) saveTranscript() {
	if !a.cfg.Output.SaveTranscripts {
		return
	}
	a.mu.RLock()
	info := a.info
	lines := clone(a.finals)
	a.mu.RUnlock()

	if len(lines) == 0 {
		return
	}
	path, err := artifact.SaveTranscript(a.cfg.Output.Dir, artifact.Meta{
		SessionID:  info.ID,
		Provider:   string(info.Provider),
		StartTime:  info.StartTime,
		EndTime:    a.now(),
		SampleRate: info.Format.SampleRate,
	}, lines)
	if err != nil {
		a.log.Error().Err(err).Str("session", info.ID).Msg("Failed to save transcript")
		return
	}
	a.log.Info().Str("path", path).Int("lines", len(lines)).Msg("Transcript saved")
}
