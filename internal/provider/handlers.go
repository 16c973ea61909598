package provider

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
)

const defaultMaxTokens = 8192

// handler describes how to talk to one provider. Every provider here is
// reached through an OpenAI-compatible API.
type handler struct {
	baseURL            string
	chat               bool
	transcribeModel    string
	transcribeLanguage string
	maxTokens          func(config.AIConfig) int
	extra              []option.RequestOption
}

func configuredMaxTokens(acct config.AIConfig) int {
	if acct.MaxTokens > 0 {
		return acct.MaxTokens
	}
	return defaultMaxTokens
}

var compatible = handler{
	chat:      true,
	maxTokens: configuredMaxTokens,
}

func handlerTable() map[Kind]handler {
	return map[Kind]handler{
		OpenAI: {
			baseURL:            "https://api.openai.com/v1/",
			chat:               true,
			transcribeModel:    "whisper-1",
			transcribeLanguage: "en",
			maxTokens:          configuredMaxTokens,
		},
		Anthropic: {
			baseURL:   "https://api.anthropic.com/v1/",
			chat:      true,
			maxTokens: func(config.AIConfig) int { return 1024 },
		},
		Perplexity: {
			baseURL: "https://api.perplexity.ai/",
			chat:    true,
			extra: []option.RequestOption{
				option.WithJSONSet("return_images", false),
				option.WithJSONSet("return_related_questions", false),
				option.WithJSONSet("search_recency_filter", "month"),
			},
		},
		Groq: {
			baseURL:         "https://api.groq.com/openai/v1/",
			chat:            true,
			transcribeModel: "whisper-large-v3",
			maxTokens:       configuredMaxTokens,
		},
		DeepInfra: {
			baseURL:   "https://api.deepinfra.com/v1/openai/",
			chat:      true,
			maxTokens: configuredMaxTokens,
		},
		// Live transcription only.
		AssemblyAI: {},
	}
}

func (d *Dispatcher) client(h handler, acct config.AIConfig) openai.Client {
	base := h.baseURL
	if acct.OpenAIBaseURL != "" {
		base = acct.OpenAIBaseURL
	}
	opts := append([]option.RequestOption{}, d.clientOpts...)
	opts = append(opts, option.WithAPIKey(acct.APIKey))
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return openai.NewClient(opts...)
}

func (h handler) transcribe(ctx context.Context, client openai.Client, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(h.transcribeModel),
	}
	if h.transcribeLanguage != "" {
		params.Language = openai.String(h.transcribeLanguage)
	}

	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}

func (h handler) complete(ctx context.Context, client openai.Client, acct config.AIConfig, model string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toParams(messages),
	}
	if h.maxTokens != nil {
		params.MaxTokens = openai.Int(int64(h.maxTokens(acct)))
	}

	resp, err := client.Chat.Completions.New(ctx, params, h.extra...)
	if err != nil {
		return "", fmt.Errorf("%s chat request: %w", acct.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("unable to get text reply from model response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
