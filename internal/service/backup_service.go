package service

import (
	"context"
	"fmt"

	"github.com/Rarurei/Raruin/internal/backup"
	"github.com/Rarurei/Raruin/internal/model"
	"github.com/Rarurei/Raruin/internal/repository"

	"go.uber.org/zap"
)

// Serialize 导出账户、商店、商品、持有物品
//
// 在一个事务里读取，保证各段之间一致
func (s *LedgerService) Serialize(ctx context.Context) (*backup.Snapshot, error) {
	var snap *backup.Snapshot
	err := s.execute(ctx, "serialize", nil, func(tx repository.Tx) error {
		accounts, err := tx.Accounts().List(ctx)
		if err != nil {
			return err
		}
		shops, err := tx.Inventory().ListShops(ctx)
		if err != nil {
			return err
		}
		products, err := tx.Inventory().ListAllProducts(ctx)
		if err != nil {
			return err
		}
		entries, err := tx.Inventory().ListAllEntries(ctx)
		if err != nil {
			return err
		}
		snap = backup.FromModels(accounts, shops, products, entries, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore 用快照整体替换账本
//
// 先校验整个快照，再在一个事务里清空并写入；任何一步失败都保持原状态。
// 抽奖池、概率档位、流水不在快照范围内，保持不变
func (s *LedgerService) Restore(ctx context.Context, snap *backup.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: 快照为空", ErrInvalidSnapshot)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	accounts, shops, products, entries := snap.Models()
	err := s.execute(ctx, "restore", nil, func(tx repository.Tx) error {
		if err := tx.Accounts().Replace(ctx, accounts); err != nil {
			return err
		}
		if err := tx.Inventory().Replace(ctx, shops, products, entries); err != nil {
			return err
		}
		return s.emit(ctx, tx, &model.LedgerEvent{
			Type: model.EventLedgerRestore,
			Detail: map[string]any{
				"accounts":  len(accounts),
				"shops":     len(shops),
				"products":  len(products),
				"inventory": len(entries),
				"timestamp": snap.Timestamp,
			},
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("账本已从快照恢复",
		zap.Time("snapshot_at", snap.Timestamp),
		zap.Int("accounts", len(accounts)),
		zap.Int("products", len(products)),
	)
	return nil
}
