package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meterline/backend/internal/domain/account"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Writer is the subset of kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka publisher
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher publishes events as JSON envelopes keyed by account ID, so
// all events of one account land on the same partition in order.
type KafkaPublisher struct {
	writer Writer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher with an asynchronous writer. Delivery
// failures are logged by the writer's completion callback and never block
// the request path.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("Failed to deliver usage events",
					zap.Int("count", len(messages)),
					zap.Error(err))
			}
		},
	}

	return NewKafkaPublisherWithWriter(w, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithWriter creates a publisher over an existing writer
func NewKafkaPublisherWithWriter(w Writer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// PublishQuotaExceeded implements account.UsageEventPublisher
func (p *KafkaPublisher) PublishQuotaExceeded(ctx context.Context, event account.QuotaExceededEvent) error {
	env, err := quotaExceededEnvelope(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, env)
}

// PublishCycleReset implements account.UsageEventPublisher
func (p *KafkaPublisher) PublishCycleReset(ctx context.Context, event account.CycleResetEvent) error {
	env, err := cycleResetEnvelope(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, env)
}

func (p *KafkaPublisher) publish(ctx context.Context, env *Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(env.AccountID.String()),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.Type, p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ account.UsageEventPublisher = (*KafkaPublisher)(nil)
