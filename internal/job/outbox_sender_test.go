package job

import (
	"context"
	"fmt"
	"testing"

	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/infrastructure/mq"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"
	"github.com/Rarurei/Raruin/internal/repository/memory"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func enqueue(t *testing.T, store repository.Store, users ...string) {
	t.Helper()
	require.NoError(t, store.Transaction(context.Background(), func(tx repository.Tx) error {
		for _, u := range users {
			err := tx.Outbox().Enqueue(context.Background(), "raruin.ledger.events", &model.LedgerEvent{
				Type:   model.EventCredited,
				UserID: u,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func pending(t *testing.T, store repository.Store) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		msgs, err = tx.Outbox().Pending(context.Background(), 100)
		return err
	}))
	return msgs
}

func newSender(t *testing.T, store repository.Store, producer *mocks.SyncProducer, maxRetry int) *OutboxSender {
	cfg := config.Default()
	cfg.Business.MaxRetryCount = maxRetry
	return NewOutboxSender(store, mq.WrapProducer(producer), cfg, zaptest.NewLogger(t))
}

func TestOutboxSender_DeliversPending(t *testing.T) {
	store := memory.New()
	enqueue(t, store, "a", "b")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	s := newSender(t, store, producer, 3)
	assert.Equal(t, 2, s.processPendingMessages(context.Background()))
	assert.Empty(t, pending(t, store))

	// 已投递的不会重发
	assert.Equal(t, 0, s.processPendingMessages(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_KeysByUser(t *testing.T) {
	store := memory.New()
	enqueue(t, store, "alice")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "alice" {
			return fmt.Errorf("key = %q", key)
		}
		return nil
	})

	s := newSender(t, store, producer, 3)
	assert.Equal(t, 1, s.processPendingMessages(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_RetriesThenFails(t *testing.T) {
	store := memory.New()
	enqueue(t, store, "a")

	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}

	s := newSender(t, store, producer, 3)
	ctx := context.Background()

	assert.Equal(t, 0, s.processPendingMessages(ctx))
	msgs := pending(t, store)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].RetryCount)

	s.processPendingMessages(ctx)
	s.processPendingMessages(ctx)

	// 第三次失败后不再重试
	assert.Empty(t, pending(t, store))
	assert.Equal(t, 0, s.processPendingMessages(ctx))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_StartStops(t *testing.T) {
	store := memory.New()
	producer := mocks.NewSyncProducer(t, nil)
	s := newSender(t, store, producer, 3)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	s.Stop()
	s.Stop()
	<-done
	require.NoError(t, producer.Close())
}
