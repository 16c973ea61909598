// Package provider dispatches one-shot transcription and chat requests to
// the AI accounts configured in the user's settings.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/metrics"
)

// Kind is the closed set of AI providers.
type Kind string

const (
	OpenAI     Kind = "OpenAI"
	Anthropic  Kind = "Anthropic"
	AssemblyAI Kind = "AssemblyAI"
	DeepInfra  Kind = "DeepInfra"
	Groq       Kind = "Groq"
	Perplexity Kind = "Perplexity"
)

// Kinds lists every provider.
var Kinds = []Kind{OpenAI, Anthropic, AssemblyAI, DeepInfra, Groq, Perplexity}

// ParseKind resolves a provider name case-insensitively.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

// Status of a provider response.
type Status string

const (
	Success Status = "SUCCESS"
	Failure Status = "FAILURE"
)

// Response is the result of every provider operation.
type Response struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

func succeed(text string) Response {
	return Response{Status: Success, Text: text}
}

func failed(err error) Response {
	return Response{Status: Failure, Error: err.Error()}
}

// Message is one entry of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	ErrNoTranscriber = errors.New("Cannot transcribe: invalid transcription AI provider")
	ErrNoChatModel   = errors.New("Unable to service.  No LLM configured to perform LLM completion requests exists with an API key")
)

// SettingsFunc returns the current user settings.
type SettingsFunc func(ctx context.Context) (config.Settings, error)

// Dispatcher routes requests to the provider handlers.
type Dispatcher struct {
	settings   SettingsFunc
	handlers   map[Kind]handler
	pending    *Pending
	pub        events.Publisher
	metrics    *metrics.Metrics
	clientOpts []option.RequestOption
	log        zerolog.Logger
}

// New builds a dispatcher. clientOpts are applied to every outbound client
// before the per-provider base URL and key.
func New(settings SettingsFunc, pub events.Publisher, m *metrics.Metrics, clientOpts ...option.RequestOption) *Dispatcher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Dispatcher{
		settings:   settings,
		handlers:   handlerTable(),
		pending:    NewPending(pub),
		pub:        pub,
		metrics:    m,
		clientOpts: clientOpts,
		log:        logging.WithComponent("provider"),
	}
}

// Pending is the in-flight request tracker.
func (d *Dispatcher) Pending() *Pending {
	return d.pending
}

// handlerFor resolves the handler for an account. Accounts of an unknown
// provider with an OpenAI-compatible base URL use the generic handler.
func (d *Dispatcher) handlerFor(cfg config.AIConfig) (handler, bool) {
	if kind, ok := ParseKind(cfg.Provider); ok {
		return d.handlers[kind], true
	}
	if cfg.OpenAIBaseURL != "" {
		return compatible, true
	}
	return handler{}, false
}

// Transcribe converts the audio file at path to text.
func (d *Dispatcher) Transcribe(ctx context.Context, path string) Response {
	id := d.pending.Add("Transcribe Request")
	defer d.pending.Remove(id)

	settings, err := d.settings(ctx)
	if err != nil {
		return d.failed(fmt.Errorf("load settings: %w", err))
	}

	acct, ok := settings.Provider(settings.DefaultTranscribeProvider)
	if !ok || !acct.Valid() {
		acct, ok = findAccount(settings, func(c config.AIConfig) bool { return c.Transcribe })
	}
	if !ok {
		d.log.Error().Msg(ErrNoTranscriber.Error())
		return d.failed(ErrNoTranscriber)
	}

	h, ok := d.handlerFor(acct)
	if !ok || h.transcribeModel == "" {
		return d.failed(fmt.Errorf("%s does not support transcription", acct.Provider))
	}

	return d.observe(acct.Provider, func() (string, error) {
		return h.transcribe(ctx, d.client(h, acct), path)
	})
}

// Interaction sends a system prompt and one human message.
func (d *Dispatcher) Interaction(ctx context.Context, system, human string) Response {
	return d.Chat(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: human},
	}, nil, "")
}

// Chat sends a conversation. override selects the account and model, when
// set, picks a model the account lists.
func (d *Dispatcher) Chat(ctx context.Context, messages []Message, override *config.AIConfig, model string) Response {
	settings, err := d.settings(ctx)
	if err != nil {
		return d.failed(fmt.Errorf("load settings: %w", err))
	}

	var acct config.AIConfig
	ok := false
	if override != nil {
		acct, ok = *override, true
	} else {
		acct, ok = settings.Provider(settings.DefaultChatProvider)
	}
	if !ok || !acct.Valid() {
		d.log.Info().Msg("Requested chat provider is not usable, looking for any configured model")
		acct, ok = findAccount(settings, func(c config.AIConfig) bool { return len(c.ChatModels) > 0 })
	}

	d.log.Info().
		Str("provider", acct.Provider).
		Str("model", model).
		Int("messages", len(messages)).
		Msg("Chat request")

	if ok {
		h, supported := d.handlerFor(acct)
		chosen, hasModel := chooseModel(acct, model)
		if supported && hasModel && (h.chat || acct.OpenAIBaseURL != "") {
			id := d.pending.Add(acct.Provider + " request")
			defer d.pending.Remove(id)

			return d.observe(acct.Provider, func() (string, error) {
				return h.complete(ctx, d.client(h, acct), acct, chosen, messages)
			})
		}
	}

	d.log.Error().Msg(ErrNoChatModel.Error())
	return d.failed(ErrNoChatModel)
}

func (d *Dispatcher) observe(provider string, call func() (string, error)) Response {
	start := time.Now()
	text, err := call()
	d.metrics.ProviderDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.ProviderRequests.WithLabelValues(provider, string(Failure)).Inc()
		d.log.Error().Err(err).Str("provider", provider).Msg("Provider request failed")
		return d.failed(err)
	}
	d.metrics.ProviderRequests.WithLabelValues(provider, string(Success)).Inc()
	return succeed(text)
}

// failed reports err on the error channel, outside any streaming session,
// and wraps it in a Failure response.
func (d *Dispatcher) failed(err error) Response {
	if d.pub != nil {
		if perr := d.pub.Publish(context.Background(), events.Message{
			Channel: events.ChannelSessionError,
			Payload: err.Error(),
		}); perr != nil {
			d.log.Warn().Err(perr).Msg("Failed to publish provider error")
		}
	}
	return failed(err)
}

func findAccount(s config.Settings, match func(config.AIConfig) bool) (config.AIConfig, bool) {
	for _, c := range s.AIConfigs {
		if c.Valid() && match(c) {
			return c, true
		}
	}
	return config.AIConfig{}, false
}

// chooseModel returns the requested model only if the account lists it.
// Without a request it prefers the account's preferred model, then the first.
func chooseModel(acct config.AIConfig, requested string) (string, bool) {
	if requested != "" {
		return requested, slices.Contains(acct.ChatModels, requested)
	}
	if acct.PreferredChatModel != "" && slices.Contains(acct.ChatModels, acct.PreferredChatModel) {
		return acct.PreferredChatModel, true
	}
	if len(acct.ChatModels) > 0 {
		return acct.ChatModels[0], true
	}
	return "", false
}
