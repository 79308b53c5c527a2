package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

type sinkMock struct {
	mock.Mock
}

func (m *sinkMock) SetRank(ctx context.Context, guildID, userID, score int64) error {
	args := m.Called(ctx, guildID, userID, score)
	return args.Error(0)
}

type recorderMock struct {
	mock.Mock
}

func (m *recorderMock) RecordOutcome(ctx context.Context, e domain.DuelOutcomeEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() domain.DuelOutcomeEvent {
	return domain.DuelOutcomeEvent{
		EventID:   "0b6f0a4e-5d2c-4d0e-9d0c-1f7a9a3c2b11",
		DuelID:    3,
		GuildID:   10,
		UserID:    20,
		Outcome:   domain.OutcomeWin,
		XPGained:  54,
		Level:     4,
		Wins:      7,
		WinStreak: 2,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDecodeOutcome(t *testing.T) {
	e := sampleEvent()
	data, err := json.Marshal(e)
	require.NoError(t, err)

	got, err := decodeOutcome(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = decodeOutcome([]byte(`{"guild_id": 1}`))
	assert.ErrorIs(t, err, errInvalidEvent)

	_, err = decodeOutcome([]byte(`not json`))
	assert.Error(t, err)
}

func TestConsumerApply_FreshEvent(t *testing.T) {
	e := sampleEvent()
	sink := new(sinkMock)
	rec := new(recorderMock)
	rec.On("RecordOutcome", mock.Anything, e).Return(true, nil)
	sink.On("SetRank", mock.Anything, int64(10), int64(20), domain.RankScore(7, 2, 4)).Return(nil)

	c := &Consumer{config: &config.KafkaConfig{}, sink: sink, recorder: rec, logger: discard()}
	require.NoError(t, c.apply(context.Background(), e))

	sink.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestConsumerApply_DuplicateSkipped(t *testing.T) {
	e := sampleEvent()
	sink := new(sinkMock)
	rec := new(recorderMock)
	rec.On("RecordOutcome", mock.Anything, e).Return(false, nil)

	c := &Consumer{config: &config.KafkaConfig{}, sink: sink, recorder: rec, logger: discard()}
	require.NoError(t, c.apply(context.Background(), e))

	sink.AssertNotCalled(t, "SetRank", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumerApplyWithRetry(t *testing.T) {
	e := sampleEvent()
	sink := new(sinkMock)
	sink.On("SetRank", mock.Anything, int64(10), int64(20), mock.Anything).Return(errors.New("redis down")).Once()
	sink.On("SetRank", mock.Anything, int64(10), int64(20), mock.Anything).Return(nil).Once()

	c := &Consumer{
		config: &config.KafkaConfig{RetryAttempts: 3, RetryDelay: time.Millisecond},
		sink:   sink,
		logger: discard(),
	}
	c.applyWithRetry(e)

	sink.AssertNumberOfCalls(t, "SetRank", 2)
}

func TestPublisher_PublishOutcomes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	e := sampleEvent()
	other := e
	other.EventID = "2f1d3c4b-0000-4000-8000-000000000001"
	other.UserID = 21
	other.Outcome = domain.OutcomeLoss

	for _, want := range []domain.DuelOutcomeEvent{e, other} {
		want := want
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var got domain.DuelOutcomeEvent
			if err := json.Unmarshal(val, &got); err != nil {
				return err
			}
			if got.EventID != want.EventID {
				return errors.New("unexpected event " + got.EventID)
			}
			return nil
		})
	}

	p := NewPublisherWithProducer("duel-outcomes", producer, discard())
	require.NoError(t, p.PublishOutcomes(context.Background(), []domain.DuelOutcomeEvent{e, other}))
	require.NoError(t, p.Close())
}

func TestPublisher_EmptyBatch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := NewPublisherWithProducer("duel-outcomes", producer, discard())

	assert.NoError(t, p.PublishOutcomes(context.Background(), nil))
	require.NoError(t, p.Close())
}

func TestOutcomeMessageKey(t *testing.T) {
	msg, err := outcomeMessage("t", sampleEvent())
	require.NoError(t, err)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "10:20", string(key))
	assert.Equal(t, "t", msg.Topic)
}
