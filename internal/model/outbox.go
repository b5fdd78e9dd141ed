package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知事件类型，写入 OutboxMessage.Payload 的 type 字段
const (
	EventCredited      = "credited"
	EventDebited       = "debited"
	EventTransferred   = "transferred"
	EventPurchased     = "purchased"
	EventItemGiven     = "item_transferred"
	EventItemConsumed  = "item_consumed"
	EventAccountReset  = "account_reset"
	EventGambleSettled = "gamble_settled"
	EventLotteryDrawn  = "lottery_drawn"
	EventLedgerRestore = "ledger_restored"
)

// OutboxMessage 待投递的通知
//
// 与账本变更同一事务写入，投递失败只影响通知本身，不回滚账本
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null" json:"status"`
	RetryCount int       `gorm:"not null" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 通知负载
type LedgerEvent struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	TargetID   string         `json:"target_id,omitempty"`
	Amount     int64          `json:"amount,omitempty"`
	Balance    int64          `json:"balance"`
	ShopName   string         `json:"shop_name,omitempty"`
	Product    string         `json:"product_name,omitempty"`
	Count      int64          `json:"count,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEventMessage 把账本事件封装成待投递消息
//
// 【关键点】MessageKey 取 user_id，同一用户的事件落在同一分区，消费端按写入顺序看到；
// 没有 user_id 的事件（如整库恢复）用 event_id。消费端用 event_id 去重
func NewEventMessage(topic string, event *LedgerEvent) (*OutboxMessage, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化通知失败: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.EventID
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payload),
		Status:     OutboxStatusPending,
	}, nil
}
