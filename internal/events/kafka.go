package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/amanullahtanweer/lecture-transcriber/internal/logging"
	"github.com/amanullahtanweer/lecture-transcriber/internal/metrics"
)

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled" env:"ENABLED"`
	Brokers      []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	TopicPartial string   `yaml:"topic_partial" env:"TOPIC_PARTIAL"`
	TopicFinal   string   `yaml:"topic_final" env:"TOPIC_FINAL"`
	Principal    string   `yaml:"principal" env:"PRINCIPAL"`
}

// KafkaPublisher writes transcripts to a partial and a final topic. Other
// channels are ignored. Without brokers it only logs.
type KafkaPublisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

// transcriptEvent is the record written to Kafka.
type transcriptEvent struct {
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func NewKafkaPublisher(cfg KafkaConfig, m *metrics.Metrics) *KafkaPublisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	p := &KafkaPublisher{
		principal:    cfg.Principal,
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		metrics:      m,
		log:          logging.WithComponent("kafka"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerPartial = p.newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = p.newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	p.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// newWriter builds an async writer so publishing never waits on the broker.
func (p *KafkaPublisher) newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			status := "ok"
			if err != nil {
				status = "error"
				p.log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Failed to write to Kafka")
			}
			p.metrics.KafkaPublishes.WithLabelValues(topic, status).Add(float64(len(messages)))
		},
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	var (
		writer *kafka.Writer
		topic  string
		kind   string
	)
	switch msg.Channel {
	case ChannelPartial:
		writer, topic, kind = p.writerPartial, p.topicPartial, "partial"
	case ChannelFinal:
		writer, topic, kind = p.writerFinal, p.topicFinal, "final"
	default:
		return nil
	}

	payload, err := json.Marshal(transcriptEvent{
		Session:   msg.Session,
		Kind:      kind,
		Payload:   msg.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", msg.Session).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.KafkaPublishes.WithLabelValues(topic, "logged").Inc()
		return nil
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Session),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(kind)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			p.log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			p.log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
