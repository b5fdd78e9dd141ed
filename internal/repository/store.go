package repository

import (
	"context"

	"github.com/Rarurei/Raruin/internal/model"
)

// ============================================================================
// 存储接口
// ============================================================================
//
// 账本引擎只依赖这里的接口，不依赖任何具体数据库的事务 API。
// 后端选择（MySQL / SQLite / 内存）是部署决策。
//
// 所有写操作都必须在 Store.Transaction 内进行；
// 事务函数返回错误时整体回滚，不会留下部分变更。

// Store 账本存储
type Store interface {
	// Transaction 在单个事务中执行 fn，fn 返回错误或 panic 时回滚
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	// View 执行只读操作
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 事务内可见的各个子存储
type Tx interface {
	Accounts() AccountStore
	Inventory() InventoryStore
	Journal() JournalStore
	Outbox() OutboxStore
	Lotteries() LotteryStore
	Profiles() ProfileStore
}

// AccountStore 账户存储
type AccountStore interface {
	// Get 账户不存在时返回 ErrAccountNotFound
	Get(ctx context.Context, userID string) (*model.Account, error)
	// Ensure 幂等创建：不存在则以 startingBalance 插入，存在则不变
	Ensure(ctx context.Context, userID string, startingBalance int64) (*model.Account, error)
	// Lock 按 user_id 升序对账户行加锁（行锁语义由后端决定）
	Lock(ctx context.Context, userIDs ...string) error
	// ApplyDelta 原子地变更余额与累计计数
	//
	// Spend 为条件更新 balance >= amount，不满足返回 ErrBalanceNotEnough
	ApplyDelta(ctx context.Context, userID string, amount int64, kind model.DeltaKind) (*model.Account, error)
	// Reset 覆盖余额和累计计数，不存在则创建
	Reset(ctx context.Context, userID string, balance, earned, spent int64) (*model.Account, error)
	// Top 按余额降序
	Top(ctx context.Context, limit int) ([]*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	// Replace 清空后写入全部账户
	Replace(ctx context.Context, accounts []*model.Account) error
}

// InventoryStore 商店、商品与用户持有物品
type InventoryStore interface {
	// CreateShop 已存在时无操作
	CreateShop(ctx context.Context, name string) error
	// DeleteShop 级联删除商品，不存在时无操作
	DeleteShop(ctx context.Context, name string) error
	ShopExists(ctx context.Context, name string) (bool, error)
	ListShops(ctx context.Context) ([]*model.Shop, error)

	UpsertProduct(ctx context.Context, product *model.Product) error
	DeleteProduct(ctx context.Context, shop, name string) error
	// GetProduct 不存在时返回 ErrProductNotFound
	GetProduct(ctx context.Context, shop, name string) (*model.Product, error)
	// ListProducts shop 为空表示全部商店；roles 为 nil 表示不过滤
	ListProducts(ctx context.Context, shop string, roles model.Capabilities) ([]*model.Product, error)
	// DecrementStock 有限库存条件扣减，不足返回 ErrStockNotEnough；无限库存无操作
	DecrementStock(ctx context.Context, shop, name string, by int64) error

	GetInventory(ctx context.Context, userID string) ([]*model.InventoryEntry, error)
	// GetEntry 不存在时返回 ErrQuantityNotEnough
	GetEntry(ctx context.Context, userID string, item model.ItemKey) (*model.InventoryEntry, error)
	// AdjustInventory 数量归零时删除该行；扣减超过持有量返回 ErrQuantityNotEnough
	AdjustInventory(ctx context.Context, userID string, item model.ItemKey, delta int64) (int64, error)

	ListAllProducts(ctx context.Context) ([]*model.Product, error)
	ListAllEntries(ctx context.Context) ([]*model.InventoryEntry, error)
	// Replace 清空并写入全部商店、商品、持有物品
	Replace(ctx context.Context, shops []*model.Shop, products []*model.Product, entries []*model.InventoryEntry) error
}

// JournalStore 账户流水
type JournalStore interface {
	Create(ctx context.Context, trans *model.AccountTransaction) error
	ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.AccountTransaction, int64, error)
}

// OutboxStore 通知发件箱
//
// 状态只会 PENDING -> SENT 或 PENDING -> FAILED，已离开 PENDING 的消息不再变动
type OutboxStore interface {
	// Enqueue 写入一条账本事件，必须和账本变更在同一事务
	Enqueue(ctx context.Context, topic string, event *model.LedgerEvent) error
	// Pending 按写入顺序返回待投递的消息
	Pending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// RecordFailure 重试次数加一，达到 maxRetry 时转为 FAILED，返回是否已放弃
	RecordFailure(ctx context.Context, id int64, maxRetry int) (bool, error)
}

// LotteryStore 抽奖池
type LotteryStore interface {
	// Get 带奖级返回，不存在时返回 ErrLotteryNotFound
	Get(ctx context.Context, name string) (*model.Lottery, error)
	// GetForUpdate 同 Get，并对抽奖池行加锁
	GetForUpdate(ctx context.Context, name string) (*model.Lottery, error)
	// Save 覆盖抽奖池及其全部奖级
	Save(ctx context.Context, lottery *model.Lottery) error
	// Consume 条件扣减各奖级和未中奖剩余数，任一不足返回 ErrLotteryExhausted
	Consume(ctx context.Context, name string, perTier map[int]int64, lose int64) error
}

// ProfileStore 赌博概率档位
type ProfileStore interface {
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, scope string) (*model.GambleProfile, error)
	Set(ctx context.Context, scope string, level int) error
}
