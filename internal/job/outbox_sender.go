package job

import (
	"context"
	"sync"
	"time"

	"github.com/Rarurei/Raruin/internal/config"
	"github.com/Rarurei/Raruin/internal/infrastructure/mq"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"

	"go.uber.org/zap"
)

// OutboxSender 轮询 outbox 表，把待投递的通知发出去
//
// 投递是至少一次：发送成功但更新状态失败时，下一轮会重发
type OutboxSender struct {
	store     repository.Store
	publisher mq.Publisher
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(store repository.Store, publisher mq.Publisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OutboxSender{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("outbox"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: cfg.Business.OutboxBatchSize,
		maxRetry:  cfg.Business.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// processPendingMessages 处理一批，返回成功投递的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	var messages []*model.OutboxMessage
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		messages, err = tx.Outbox().Pending(ctx, s.batchSize)
		return err
	})
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))

	if err == nil {
		if updateErr := s.update(ctx, func(o repository.OutboxStore) error {
			return o.MarkSent(ctx, msg.ID)
		}); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			s.logger.Debug("消息发送成功", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		}
		return true
	}

	s.logger.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry", msg.RetryCount), zap.Error(err))

	var exhausted bool
	updateErr := s.update(ctx, func(o repository.OutboxStore) error {
		var err error
		exhausted, err = o.RecordFailure(ctx, msg.ID, s.maxRetry)
		return err
	})
	switch {
	case updateErr != nil:
		s.logger.Error("更新重试次数失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
	case exhausted:
		s.logger.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
	}
	return false
}

func (s *OutboxSender) update(ctx context.Context, fn func(o repository.OutboxStore) error) error {
	return s.store.Transaction(ctx, func(tx repository.Tx) error {
		return fn(tx.Outbox())
	})
}
