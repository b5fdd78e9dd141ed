package repository

import (
	"context"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
)

var _ Store = (*GormStore)(nil)

// GormStore 基于 gorm 的存储，MySQL 与 SQLite 共用
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.Shop{},
		&model.Product{},
		&model.InventoryEntry{},
		&model.AccountTransaction{},
		&model.OutboxMessage{},
		&model.Lottery{},
		&model.LotteryTier{},
		&model.GambleProfile{},
	)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormTx{db: tx})
	})
}

func (s *GormStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return fn(gormTx{db: s.db.WithContext(ctx)})
}

// gormTx 把同一个 *gorm.DB（事务或普通连接）分发给各个 repository
type gormTx struct {
	db *gorm.DB
}

func (t gormTx) Accounts() AccountStore { return NewAccountRepository(t.db) }
func (t gormTx) Inventory() InventoryStore { return NewInventoryRepository(t.db) }
func (t gormTx) Journal() JournalStore { return NewTransactionRepository(t.db) }
func (t gormTx) Outbox() OutboxStore { return NewOutboxRepository(t.db) }
func (t gormTx) Lotteries() LotteryStore { return NewLotteryRepository(t.db) }
func (t gormTx) Profiles() ProfileStore { return NewProfileRepository(t.db) }
