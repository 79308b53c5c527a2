package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

// RankingSink receives the new leaderboard score for a participant
type RankingSink interface {
	SetRank(ctx context.Context, guildID, userID, score int64) error
}

// OutcomeRecorder stores outcome events once. Record reports false for an
// event that was already applied.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, e domain.DuelOutcomeEvent) (bool, error)
}

// Consumer consumes duel outcome events from Kafka and keeps the ranking
// cache current
type Consumer struct {
	config        *config.KafkaConfig
	sink          RankingSink
	recorder      OutcomeRecorder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer. recorder may be nil, in which
// case redelivered events are applied again; SetRank is idempotent for
// the same event so that is only wasted work.
func NewConsumer(cfg *config.KafkaConfig, sink RankingSink, recorder OutcomeRecorder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		sink:          sink,
		recorder:      recorder,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// apply handles one decoded event. Errors are retried up to the
// configured attempts; the message is marked either way so one poison
// event cannot stall the partition.
func (c *Consumer) apply(ctx context.Context, e domain.DuelOutcomeEvent) error {
	if c.recorder != nil {
		fresh, err := c.recorder.RecordOutcome(ctx, e)
		if err != nil {
			return err
		}
		if !fresh {
			c.logger.Debug("skipping duplicate outcome", "event_id", e.EventID)
			return nil
		}
	}
	return c.sink.SetRank(ctx, e.GuildID, e.UserID, e.RankScore())
}

func (c *Consumer) applyWithRetry(e domain.DuelOutcomeEvent) {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = c.apply(ctx, e)
		cancel()
		if err == nil {
			return
		}
		if i < attempts-1 {
			time.Sleep(c.config.RetryDelay)
		}
	}
	c.logger.Error("failed to apply outcome",
		"error", err,
		"event_id", e.EventID,
		"guild_id", e.GuildID,
		"user_id", e.UserID,
	)
}

// decodeOutcome parses and validates one message value
func decodeOutcome(value []byte) (domain.DuelOutcomeEvent, error) {
	var e domain.DuelOutcomeEvent
	if err := json.Unmarshal(value, &e); err != nil {
		return e, err
	}
	if e.EventID == "" || e.GuildID == 0 || e.UserID == 0 {
		return e, errInvalidEvent
	}
	return e, nil
}

var errInvalidEvent = errors.New("outcome event missing event_id, guild_id or user_id")

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			e, err := decodeOutcome(message.Value)
			if err != nil {
				h.consumer.logger.Warn("dropping outcome message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.consumer.applyWithRetry(e)
			session.MarkMessage(message, "")
		}
	}
}
