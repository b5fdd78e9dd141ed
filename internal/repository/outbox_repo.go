package repository

import (
	"context"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
)

var _ OutboxStore = (*OutboxRepository)(nil)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, topic string, event *model.LedgerEvent) error {
	msg, err := model.NewEventMessage(topic, event)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 条件更新，FAILED 的消息不会被改回 SENT
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.pending(ctx, id).Update("status", model.OutboxStatusSent).Error
}

func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetry int) (bool, error) {
	result := r.pending(ctx, id).Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil || result.RowsAffected == 0 {
		return false, result.Error
	}

	result = r.pending(ctx, id).
		Where("retry_count >= ?", maxRetry).
		Update("status", model.OutboxStatusFailed)
	return result.RowsAffected > 0, result.Error
}

func (r *OutboxRepository) pending(ctx context.Context, id int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending)
}
