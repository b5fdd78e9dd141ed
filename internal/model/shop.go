package model

import (
	"fmt"
	"time"
)

// Stock 库存，有限或无限二选一
//
// 零值是有限库存 0（已售罄），无限库存必须显式构造，
// 避免 "0 = 无限" 与 "卖完了" 混淆
type Stock struct {
	Unlimited bool  `gorm:"not null" json:"unlimited"`
	Remaining int64 `gorm:"not null" json:"remaining"`
}

// Finite 有限库存
func Finite(n int64) Stock {
	return Stock{Remaining: n}
}

// UnlimitedStock 无限库存
func UnlimitedStock() Stock {
	return Stock{Unlimited: true}
}

// Available 是否还能卖出 n 个
func (s Stock) Available(n int64) bool {
	return s.Unlimited || s.Remaining >= n
}

func (s Stock) String() string {
	if s.Unlimited {
		return "無限"
	}
	return fmt.Sprintf("%d", s.Remaining)
}

// Shop 商店表
type Shop struct {
	Name      string    `gorm:"primaryKey;type:varchar(128)" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Shop) TableName() string {
	return "shop"
}

// Product 商品表，主键 (shop_name, name)
type Product struct {
	ShopName     string    `gorm:"primaryKey;type:varchar(128)" json:"shop_name"`
	Name         string    `gorm:"primaryKey;type:varchar(128)" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	Price        int64     `gorm:"not null" json:"price"`
	Stock        Stock     `gorm:"embedded;embeddedPrefix:stock_" json:"stock"`
	RequiredRole string    `gorm:"type:varchar(64);not null" json:"required_role,omitempty"` // 空表示所有人可买
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// Gated 是否需要特定角色才能购买
func (p *Product) Gated() bool {
	return p.RequiredRole != ""
}

// Capabilities 调用方当前持有的角色集合，由外部分发器解析后传入
type Capabilities []string

// Has 判断是否持有角色
func (c Capabilities) Has(role string) bool {
	for _, r := range c {
		if r == role {
			return true
		}
	}
	return false
}

// Allows 判断是否满足商品的购买门槛
func (c Capabilities) Allows(p *Product) bool {
	return !p.Gated() || c.Has(p.RequiredRole)
}
