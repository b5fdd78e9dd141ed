package backup

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Rarurei/Raruin/internal/model"
)

// Version 当前快照格式版本
const Version = 1

// UnlimitedMarker 快照中无限库存的编码
const UnlimitedMarker = "無限"

var ErrInvalidSnapshot = errors.New("备份数据无效")

// Snapshot 账本快照，序列化后的形状：
//
//	{
//	  "accounts":  [[user_id, balance, lifetime_earned, lifetime_spent], ...],
//	  "shops":     [shop_name, ...],
//	  "products":  [[product_name, shop_name, description, price, stock, required_role], ...],
//	  "inventory": [[user_id, shop_name, product_name, quantity], ...],
//	  "timestamp": "2006-01-02T15:04:05Z07:00",
//	  "version":   1
//	}
//
// stock 有限时为数字，无限时为 "無限"；required_role 不限制时为 null
type Snapshot struct {
	Accounts  []AccountRow
	Shops     []string
	Products  []ProductRow
	Inventory []InventoryRow
	Timestamp time.Time
	Version   int
}

type AccountRow struct {
	UserID         string
	Balance        int64
	LifetimeEarned int64
	LifetimeSpent  int64
}

type ProductRow struct {
	Name         string
	ShopName     string
	Description  string
	Price        int64
	Stock        model.Stock
	RequiredRole string
}

type InventoryRow struct {
	UserID      string
	ShopName    string
	ProductName string
	Quantity    int64
}

// FromModels 由存储层数据构造快照，各段按主键排序
func FromModels(accounts []*model.Account, shops []*model.Shop, products []*model.Product, entries []*model.InventoryEntry, at time.Time) *Snapshot {
	s := &Snapshot{
		Accounts:  make([]AccountRow, 0, len(accounts)),
		Shops:     make([]string, 0, len(shops)),
		Products:  make([]ProductRow, 0, len(products)),
		Inventory: make([]InventoryRow, 0, len(entries)),
		Timestamp: at.UTC().Truncate(time.Second),
		Version:   Version,
	}
	for _, a := range accounts {
		s.Accounts = append(s.Accounts, AccountRow{
			UserID:         a.UserID,
			Balance:        a.Balance,
			LifetimeEarned: a.LifetimeEarned,
			LifetimeSpent:  a.LifetimeSpent,
		})
	}
	for _, sh := range shops {
		s.Shops = append(s.Shops, sh.Name)
	}
	for _, p := range products {
		s.Products = append(s.Products, ProductRow{
			Name:         p.Name,
			ShopName:     p.ShopName,
			Description:  p.Description,
			Price:        p.Price,
			Stock:        p.Stock,
			RequiredRole: p.RequiredRole,
		})
	}
	for _, e := range entries {
		s.Inventory = append(s.Inventory, InventoryRow{
			UserID:      e.UserID,
			ShopName:    e.ShopName,
			ProductName: e.ProductName,
			Quantity:    e.Quantity,
		})
	}
	s.sort()
	return s
}

func (s *Snapshot) sort() {
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].UserID < s.Accounts[j].UserID })
	sort.Strings(s.Shops)
	sort.Slice(s.Products, func(i, j int) bool {
		if s.Products[i].ShopName != s.Products[j].ShopName {
			return s.Products[i].ShopName < s.Products[j].ShopName
		}
		return s.Products[i].Name < s.Products[j].Name
	})
	sort.Slice(s.Inventory, func(i, j int) bool {
		a, b := s.Inventory[i], s.Inventory[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.ShopName != b.ShopName {
			return a.ShopName < b.ShopName
		}
		return a.ProductName < b.ProductName
	})
}

// Models 转回存储层实体
func (s *Snapshot) Models() ([]*model.Account, []*model.Shop, []*model.Product, []*model.InventoryEntry) {
	accounts := make([]*model.Account, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		accounts = append(accounts, &model.Account{
			UserID:         a.UserID,
			Balance:        a.Balance,
			LifetimeEarned: a.LifetimeEarned,
			LifetimeSpent:  a.LifetimeSpent,
		})
	}
	shops := make([]*model.Shop, 0, len(s.Shops))
	for _, name := range s.Shops {
		shops = append(shops, &model.Shop{Name: name})
	}
	products := make([]*model.Product, 0, len(s.Products))
	for _, p := range s.Products {
		products = append(products, &model.Product{
			ShopName:     p.ShopName,
			Name:         p.Name,
			Description:  p.Description,
			Price:        p.Price,
			Stock:        p.Stock,
			RequiredRole: p.RequiredRole,
		})
	}
	entries := make([]*model.InventoryEntry, 0, len(s.Inventory))
	for _, e := range s.Inventory {
		entries = append(entries, &model.InventoryEntry{
			UserID:      e.UserID,
			ShopName:    e.ShopName,
			ProductName: e.ProductName,
			Quantity:    e.Quantity,
		})
	}
	return accounts, shops, products, entries
}

// Validate 恢复前整体校验，任何一行不合法都拒绝整个快照
//
// 持有物品允许引用已下架的商品
func (s *Snapshot) Validate() error {
	users := make(map[string]struct{}, len(s.Accounts))
	for i, a := range s.Accounts {
		if a.UserID == "" {
			return fmt.Errorf("%w: accounts[%d] 缺少 user_id", ErrInvalidSnapshot, i)
		}
		if _, dup := users[a.UserID]; dup {
			return fmt.Errorf("%w: accounts 中 user_id %q 重复", ErrInvalidSnapshot, a.UserID)
		}
		users[a.UserID] = struct{}{}
		if a.Balance < 0 || a.LifetimeEarned < 0 || a.LifetimeSpent < 0 {
			return fmt.Errorf("%w: 账户 %q 存在负数", ErrInvalidSnapshot, a.UserID)
		}
	}

	shops := make(map[string]struct{}, len(s.Shops))
	for i, name := range s.Shops {
		if name == "" {
			return fmt.Errorf("%w: shops[%d] 为空", ErrInvalidSnapshot, i)
		}
		if _, dup := shops[name]; dup {
			return fmt.Errorf("%w: 商店 %q 重复", ErrInvalidSnapshot, name)
		}
		shops[name] = struct{}{}
	}

	products := make(map[model.ItemKey]struct{}, len(s.Products))
	for i, p := range s.Products {
		key := model.ItemKey{ShopName: p.ShopName, ProductName: p.Name}
		if p.Name == "" {
			return fmt.Errorf("%w: products[%d] 缺少商品名", ErrInvalidSnapshot, i)
		}
		if _, ok := shops[p.ShopName]; !ok {
			return fmt.Errorf("%w: 商品 %s 所属商店不存在", ErrInvalidSnapshot, key)
		}
		if _, dup := products[key]; dup {
			return fmt.Errorf("%w: 商品 %s 重复", ErrInvalidSnapshot, key)
		}
		products[key] = struct{}{}
		if p.Price <= 0 {
			return fmt.Errorf("%w: 商品 %s 价格必须大于0", ErrInvalidSnapshot, key)
		}
		if !p.Stock.Unlimited && p.Stock.Remaining < 0 {
			return fmt.Errorf("%w: 商品 %s 库存为负数", ErrInvalidSnapshot, key)
		}
	}

	entries := make(map[InventoryRow]struct{}, len(s.Inventory))
	for i, e := range s.Inventory {
		if e.UserID == "" || e.ShopName == "" || e.ProductName == "" {
			return fmt.Errorf("%w: inventory[%d] 字段不完整", ErrInvalidSnapshot, i)
		}
		if e.Quantity < 1 {
			return fmt.Errorf("%w: inventory[%d] 数量必须 >= 1", ErrInvalidSnapshot, i)
		}
		key := e
		key.Quantity = 0
		if _, dup := entries[key]; dup {
			return fmt.Errorf("%w: inventory[%d] 重复", ErrInvalidSnapshot, i)
		}
		entries[key] = struct{}{}
	}
	return nil
}
