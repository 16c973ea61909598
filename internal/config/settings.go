package config

import "strings"

// Keys of the persisted settings document.
const (
	StoreNamespace = "LectureModel.Store"
	SettingsKey    = "Providers"
)

// AIConfig is one AI provider account.
type AIConfig struct {
	Provider           string   `json:"provider"`
	APIKey             string   `json:"apiKey"`
	MaxTokens          int      `json:"maxTokens,omitempty"`
	OpenAIBaseURL      string   `json:"openAiBaseURL,omitempty"`
	ChatModels         []string `json:"chatModels"`
	PreferredChatModel string   `json:"preferredChatModel"`
	LiveTranscribe     bool     `json:"liveTranscribe"`
	Transcribe         bool     `json:"transcribe"`
}

// Valid reports whether the account has an API key.
func (a AIConfig) Valid() bool {
	return a.APIKey != ""
}

// Interaction is a named prompt run against a transcript.
type Interaction struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Settings are the user's provider choices, persisted in the key-value store.
type Settings struct {
	AIConfigs                        []AIConfig    `json:"AIConfigs"`
	DefaultChatProvider              string        `json:"defaultChatProvider"`
	DefaultTranscribeProvider        string        `json:"defaultTranscribeProvider"`
	DefaultLiveTranscriptionProvider string        `json:"defaultLiveTranscriptionProvider"`
	Interactions                     []Interaction `json:"interactions"`
}

// Provider finds the account for name, ignoring case.
func (s Settings) Provider(name string) (AIConfig, bool) {
	for _, c := range s.AIConfigs {
		if strings.EqualFold(c.Provider, name) {
			return c, true
		}
	}
	return AIConfig{}, false
}

// RedactedKey stands in for a stored API key in settings served over the API.
const RedactedKey = "********"

// Redacted returns a copy with every API key masked.
func (s Settings) Redacted() Settings {
	out := s
	out.AIConfigs = make([]AIConfig, len(s.AIConfigs))
	for i, c := range s.AIConfigs {
		if c.APIKey != "" {
			c.APIKey = RedactedKey
		}
		out.AIConfigs[i] = c
	}
	return out
}

// WithKeysFrom restores masked keys from prev, so a redacted document can be
// edited and saved back without losing credentials.
func (s Settings) WithKeysFrom(prev Settings) Settings {
	out := s
	out.AIConfigs = make([]AIConfig, len(s.AIConfigs))
	for i, c := range s.AIConfigs {
		if c.APIKey == RedactedKey {
			old, _ := prev.Provider(c.Provider)
			c.APIKey = old.APIKey
		}
		out.AIConfigs[i] = c
	}
	return out
}

// Interaction finds a prompt by name.
func (s Settings) Interaction(name string) (Interaction, bool) {
	for _, i := range s.Interactions {
		if strings.EqualFold(i.Name, name) {
			return i, true
		}
	}
	return Interaction{}, false
}

// DefaultSettings apply until the user saves their own.
func DefaultSettings() Settings {
	return Settings{
		DefaultChatProvider:              "OpenAI",
		DefaultLiveTranscriptionProvider: "AssemblyAI",
		DefaultTranscribeProvider:        "Groq",
		Interactions: []Interaction{
			{
				Name: "Summary",
				Prompt: "Create a detailed, organized record of the following audio transcript of a lecture.  " +
					"Format your reply with markdown syntax.",
			},
			{
				Name: "Study Guide",
				Prompt: "Create a comprehensive study guide based on the material provided in this transcript of a " +
					"class lecture and areas I should research for further study to better understand the topics covered.  " +
					"Format your reply with markdown syntax",
			},
		},
		AIConfigs: []AIConfig{
			{
				Provider:           "OpenAI",
				ChatModels:         []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4"},
				PreferredChatModel: "gpt-4o",
				Transcribe:         true,
			},
			{
				Provider: "Anthropic",
				ChatModels: []string{
					"claude-3-5-sonnet-20240620",
					"claude-3-haiku-20240307",
					"claude-3-opus-20240229",
				},
				PreferredChatModel: "claude-3-5-sonnet-20240620",
			},
			{
				Provider:       "AssemblyAI",
				ChatModels:     []string{},
				LiveTranscribe: true,
			},
			{
				Provider: "DeepInfra",
				ChatModels: []string{
					"meta-llama/Meta-Llama-3.1-405B-Instruct",
					"meta-llama/Meta-Llama-3.1-70B-Instruct",
				},
				OpenAIBaseURL:      "https://api.deepinfra.com/v1/openai",
				PreferredChatModel: "meta-llama/Meta-Llama-3.1-405B-Instruct",
				MaxTokens:          100000,
			},
			{
				Provider:   "Groq",
				ChatModels: []string{},
				Transcribe: true,
			},
		},
	}
}
