package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

// Publisher ships duel outcome events to Kafka
type Publisher struct {
	topic    string
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewPublisher creates a synchronous producer for the configured topic
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewPublisherWithProducer(cfg.Topic, producer, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(topic string, producer sarama.SyncProducer, logger *slog.Logger) *Publisher {
	return &Publisher{topic: topic, producer: producer, logger: logger}
}

// PublishOutcomes sends the events in one batch. Events for the same
// participant share a key so they stay ordered within a partition.
func (p *Publisher) PublishOutcomes(ctx context.Context, events []domain.DuelOutcomeEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, e := range events {
		msg, err := outcomeMessage(p.topic, e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publishing outcomes: %w", err)
	}
	p.logger.Debug("published outcomes", "count", len(msgs), "duel_id", events[0].DuelID)
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}

func outcomeMessage(topic string, e domain.DuelOutcomeEvent) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding outcome %s: %w", e.EventID, err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d:%d", e.GuildID, e.UserID)),
		Value: sarama.ByteEncoder(data),
	}, nil
}
