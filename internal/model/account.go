package model

import (
	"time"
)

// DeltaKind 余额变动方向
type DeltaKind int

const (
	// Earn 入账：balance 与 lifetime_earned 同时增加
	Earn DeltaKind = iota + 1
	// Spend 出账：balance 减少，lifetime_spent 增加
	Spend
)

func (k DeltaKind) String() string {
	switch k {
	case Earn:
		return "EARN"
	case Spend:
		return "SPEND"
	default:
		return "UNKNOWN"
	}
}

// Account 用户账户表
// 记录用户的 Raruin 余额以及累计获得/消费，是整个账本的核心数据
type Account struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Balance        int64     `gorm:"not null" json:"balance"`         // 可用余额，恒 >= 0
	LifetimeEarned int64     `gorm:"not null" json:"lifetime_earned"` // 累计获得，只增不减
	LifetimeSpent  int64     `gorm:"not null" json:"lifetime_spent"`  // 累计消费，只增不减
	Version        int       `gorm:"not null" json:"version"`         // 每次变动 +1
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// NewAccount 按起始余额构造一个尚未持久化的账户
func NewAccount(userID string, startingBalance int64) *Account {
	return &Account{
		UserID:  userID,
		Balance: startingBalance,
	}
}
