package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
stream:
  provider: vosk
  pre_open_buffer: 2s
capture:
  backend: file
  file_path: lecture.wav
store:
  driver: memory
`)
	t.Setenv("TRANSCRIBER_SERVER_PORT", "9100")
	t.Setenv("TRANSCRIBER_ASSEMBLYAI_API_KEY", "from-env")
	t.Setenv("TRANSCRIBER_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Stream.Provider != "vosk" || cfg.Stream.PreOpenBuffer != 2*time.Second {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Stream.SampleRate != 16000 || cfg.Stream.StopTimeout != 5*time.Second {
		t.Errorf("defaults lost: %+v", cfg.Stream)
	}
	if cfg.AssemblyAI.APIKey != "from-env" {
		t.Errorf("api key = %q", cfg.AssemblyAI.APIKey)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Addr() != "127.0.0.1:9100" {
		t.Errorf("addr = %q", cfg.Addr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown provider", func(c *Config) { c.Stream.Provider = "Deepgram" }, "stream.provider"},
		{"zero rate", func(c *Config) { c.Stream.SampleRate = 0 }, "sample_rate"},
		{"audiosocket wideband", func(c *Config) { c.Capture.Backend = CaptureAudioSocket }, "8000 Hz"},
		{"audiosocket narrowband", func(c *Config) {
			c.Capture.Backend = CaptureAudioSocket
			c.Stream.SampleRate = 8000
		}, ""},
		{"file without path", func(c *Config) { c.Capture.Backend = CaptureFile }, "file_path"},
		{"unknown backend", func(c *Config) { c.Capture.Backend = "alsa" }, "capture backend"},
		{"unknown store", func(c *Config) { c.Store.Driver = "postgres" }, "store driver"},
		{"kafka without topics", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.TopicFinal = ""
		}, "kafka"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	live, ok := s.Provider(s.DefaultLiveTranscriptionProvider)
	if !ok || !live.LiveTranscribe {
		t.Errorf("default live provider %q not configured for live transcription", s.DefaultLiveTranscriptionProvider)
	}
	if _, ok := s.Provider("groq"); !ok {
		t.Error("provider lookup should ignore case")
	}
	if _, ok := s.Interaction("Study Guide"); !ok {
		t.Error("missing Study Guide interaction")
	}
	for _, c := range s.AIConfigs {
		if c.Valid() {
			t.Errorf("%s ships with an API key", c.Provider)
		}
	}
}

func TestSettingsRedaction(t *testing.T) {
	stored := DefaultSettings()
	stored.AIConfigs[0].APIKey = "sk-openai"
	stored.AIConfigs[1].APIKey = "sk-anthropic"

	served := stored.Redacted()
	for _, c := range served.AIConfigs {
		if strings.HasPrefix(c.APIKey, "sk-") {
			t.Errorf("%s key served in clear", c.Provider)
		}
	}
	if served.AIConfigs[2].APIKey != "" {
		t.Errorf("empty key masked as %q", served.AIConfigs[2].APIKey)
	}
	if stored.AIConfigs[0].APIKey != "sk-openai" {
		t.Error("Redacted modified the original")
	}

	edited := served
	edited.AIConfigs[1].APIKey = "sk-new"
	edited.DefaultChatProvider = "Anthropic"
	saved := edited.WithKeysFrom(stored)

	tests := []struct {
		provider string
		want     string
	}{
		{"OpenAI", "sk-openai"},
		{"Anthropic", "sk-new"},
		{"AssemblyAI", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			got, _ := saved.Provider(tt.provider)
			if got.APIKey != tt.want {
				t.Errorf("key = %q, want %q", got.APIKey, tt.want)
			}
		})
	}
}
