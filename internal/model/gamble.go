package model

import (
	"time"
)

const (
	MinProbabilityLevel = 1
	MaxProbabilityLevel = 6
)

// GambleProfile 赌博概率档位，按作用域（全局或服务器）保存
type GambleProfile struct {
	Scope     string    `gorm:"primaryKey;type:varchar(64)" json:"scope"`
	Level     int       `gorm:"not null" json:"level"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GambleProfile) TableName() string {
	return "gamble_profile"
}

// ValidLevel 档位是否在 1-6 之间
func ValidLevel(level int) bool {
	return level >= MinProbabilityLevel && level <= MaxProbabilityLevel
}
