// Package config loads the service configuration from a yaml file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/amanullahtanweer/lecture-transcriber/internal/capture"
	"github.com/amanullahtanweer/lecture-transcriber/internal/events"
	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TRANSCRIBER_"

// Capture back ends.
const (
	CapturePortAudio   = "portaudio"
	CaptureAudioSocket = "audiosocket"
	CaptureFile        = "file"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Server     ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Logging    logging.Config     `yaml:"logging" envPrefix:"LOG_"`
	Stream     StreamConfig       `yaml:"stream" envPrefix:"STREAM_"`
	Capture    CaptureConfig      `yaml:"capture" envPrefix:"CAPTURE_"`
	AssemblyAI AssemblyAIConfig   `yaml:"assemblyai" envPrefix:"ASSEMBLYAI_"`
	Vosk       VoskConfig         `yaml:"vosk" envPrefix:"VOSK_"`
	Output     OutputConfig       `yaml:"output" envPrefix:"OUTPUT_"`
	Store      StoreConfig        `yaml:"store" envPrefix:"STORE_"`
	Kafka      events.KafkaConfig `yaml:"kafka" envPrefix:"KAFKA_"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StreamConfig covers live sessions. Provider is the fallback when the
// stored settings name no live provider.
type StreamConfig struct {
	Provider      string        `yaml:"provider" env:"PROVIDER"`
	SampleRate    int           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels      int           `yaml:"channels" env:"CHANNELS"`
	PreOpenBuffer time.Duration `yaml:"pre_open_buffer" env:"PRE_OPEN_BUFFER"`
	StopTimeout   time.Duration `yaml:"stop_timeout" env:"STOP_TIMEOUT"`
}

// Format is the capture format every session uses.
func (s StreamConfig) Format() capture.Format {
	return capture.Format{SampleRate: s.SampleRate, Channels: s.Channels}
}

type CaptureConfig struct {
	Backend         string `yaml:"backend" env:"BACKEND"`
	AudioSocketAddr string `yaml:"audiosocket_addr" env:"AUDIOSOCKET_ADDR"`
	FilePath        string `yaml:"file_path" env:"FILE_PATH"`
	FileRealtime    bool   `yaml:"file_realtime" env:"FILE_REALTIME"`
	FramesPerBuffer int    `yaml:"frames_per_buffer" env:"FRAMES_PER_BUFFER"`
}

type AssemblyAIConfig struct {
	URL    string `yaml:"url" env:"URL"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

type VoskConfig struct {
	ServerURL string `yaml:"server_url" env:"SERVER_URL"`
}

type OutputConfig struct {
	Dir             string `yaml:"dir" env:"DIR"`
	RecordingsDir   string `yaml:"recordings_dir" env:"RECORDINGS_DIR"`
	SaveTranscripts bool   `yaml:"save_transcripts" env:"SAVE_TRANSCRIPTS"`
	SaveRecordings  bool   `yaml:"save_recordings" env:"SAVE_RECORDINGS"`
	SessionLogs     bool   `yaml:"session_logs" env:"SESSION_LOGS"`
}

type StoreConfig struct {
	Driver        string        `yaml:"driver" env:"DRIVER"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	Prefix        string        `yaml:"prefix" env:"PREFIX"`
	SQLitePath    string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Default returns the configuration used when a key is absent from both the
// file and the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Stream: StreamConfig{
			Provider:      string(transcriber.AssemblyAI),
			SampleRate:    16000,
			Channels:      1,
			PreOpenBuffer: 5 * time.Second,
			StopTimeout:   5 * time.Second,
		},
		Capture: CaptureConfig{
			Backend:         CapturePortAudio,
			AudioSocketAddr: "0.0.0.0:9092",
			FileRealtime:    true,
			FramesPerBuffer: 1024,
		},
		AssemblyAI: AssemblyAIConfig{
			URL: transcriber.AssemblyAIWebSocketURL,
		},
		Vosk: VoskConfig{
			ServerURL: "ws://localhost:2700",
		},
		Output: OutputConfig{
			Dir:             "transcripts",
			RecordingsDir:   "recordings",
			SaveTranscripts: true,
			SaveRecordings:  true,
			SessionLogs:     true,
		},
		Store: StoreConfig{
			Driver:     StoreSQLite,
			RedisAddr:  "localhost:6379",
			Prefix:     "lecture:",
			SQLitePath: "lecture.db",
			Timeout:    2 * time.Second,
		},
		Kafka: events.KafkaConfig{
			TopicPartial: "lecture.transcript.partial",
			TopicFinal:   "lecture.transcript.final",
			Principal:    "lecture-transcriber",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and lower-cases the capture backend and
// store driver names.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if _, err := transcriber.ParseProvider(c.Stream.Provider); err != nil {
		return fmt.Errorf("stream.provider: %w", err)
	}
	if c.Stream.SampleRate <= 0 {
		return fmt.Errorf("stream.sample_rate must be positive, got %d", c.Stream.SampleRate)
	}
	if c.Stream.Channels <= 0 {
		return fmt.Errorf("stream.channels must be positive, got %d", c.Stream.Channels)
	}
	if c.Stream.PreOpenBuffer < 0 || c.Stream.StopTimeout < 0 {
		return errors.New("stream durations must not be negative")
	}

	c.Capture.Backend = strings.ToLower(c.Capture.Backend)
	switch c.Capture.Backend {
	case CapturePortAudio:
	case CaptureAudioSocket:
		if c.Stream.SampleRate != capture.AudioSocketRate || c.Stream.Channels != 1 {
			return fmt.Errorf("audiosocket capture requires %d Hz mono, got %d Hz x%d",
				capture.AudioSocketRate, c.Stream.SampleRate, c.Stream.Channels)
		}
		if c.Capture.AudioSocketAddr == "" {
			return errors.New("capture.audiosocket_addr is required for audiosocket capture")
		}
	case CaptureFile:
		if c.Capture.FilePath == "" {
			return errors.New("capture.file_path is required for file capture")
		}
	default:
		return fmt.Errorf("unknown capture backend %q", c.Capture.Backend)
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis store")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Kafka.Enabled && (c.Kafka.TopicPartial == "" || c.Kafka.TopicFinal == "") {
		return errors.New("kafka.topic_partial and kafka.topic_final are required when kafka is enabled")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
