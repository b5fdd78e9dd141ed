package model

import (
	"time"
)

// Lottery 抽奖池
//
// 奖池是有限的：每张票从剩余的 (各档奖 + 未中奖) 中无放回抽取
type Lottery struct {
	Name          string        `gorm:"primaryKey;type:varchar(128)" json:"name"`
	TicketPrice   int64         `gorm:"not null" json:"ticket_price"`
	LoseRemaining int64         `gorm:"not null" json:"lose_remaining"`
	Tiers         []LotteryTier `gorm:"foreignKey:LotteryName;references:Name" json:"tiers"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lottery) TableName() string {
	return "lottery"
}

// Remaining 剩余总票数
func (l *Lottery) Remaining() int64 {
	total := l.LoseRemaining
	for _, t := range l.Tiers {
		total += t.Remaining
	}
	return total
}

// LotteryTier 奖级，Tier 越小奖越大
type LotteryTier struct {
	LotteryName string `gorm:"primaryKey;type:varchar(128)" json:"-"`
	Tier        int    `gorm:"primaryKey" json:"tier"`
	Label       string `gorm:"type:varchar(64)" json:"label"`
	Prize       int64  `gorm:"not null" json:"prize"`
	Remaining   int64  `gorm:"not null" json:"remaining"`
}

func (LotteryTier) TableName() string {
	return "lottery_tier"
}
