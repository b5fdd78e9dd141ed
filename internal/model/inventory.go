package model

import (
	"time"
)

// InventoryEntry 用户持有物品表
//
// 数量恒 >= 1，数量归零时删除整行而不是置 0
type InventoryEntry struct {
	UserID      string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	ShopName    string    `gorm:"primaryKey;type:varchar(128)" json:"shop_name"`
	ProductName string    `gorm:"primaryKey;type:varchar(128)" json:"product_name"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InventoryEntry) TableName() string {
	return "inventory_entry"
}

// ItemKey 物品定位 (shop, product)
type ItemKey struct {
	ShopName    string `json:"shop_name"`
	ProductName string `json:"product_name"`
}

func (k ItemKey) String() string {
	return k.ShopName + ":" + k.ProductName
}
