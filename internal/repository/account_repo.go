package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ AccountStore = (*AccountRepository)(nil)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Get(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Ensure 使用 INSERT ... ON CONFLICT DO NOTHING，并发调用也只会插入一行
func (r *AccountRepository) Ensure(ctx context.Context, userID string, startingBalance int64) (*model.Account, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(model.NewAccount(userID, startingBalance)).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

// Lock SELECT ... FOR UPDATE，按 user_id 升序加锁避免两笔反向转账互相等待
//
// SQLite 不支持行锁，gorm 的 sqlite 方言会忽略 FOR UPDATE，
// 此时由 SQLite 的单写者事务保证串行
func (r *AccountRepository) Lock(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	var accounts []model.Account
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id IN ?", ids).
		Order("user_id ASC").
		Find(&accounts).Error
}

// ApplyDelta 单条 UPDATE 完成读改写
//
// 【关键点】出账的余额校验放在 WHERE 条件里：
//
//	UPDATE account SET balance = balance - ? ... WHERE user_id = ? AND balance >= ?
//
// 两个并发出账不可能都基于同一个旧余额成功，不存在 "先查后改" 的窗口
func (r *AccountRepository) ApplyDelta(ctx context.Context, userID string, amount int64, kind model.DeltaKind) (*model.Account, error) {
	query := r.db.WithContext(ctx).Model(&model.Account{})

	var updates map[string]interface{}
	switch kind {
	case model.Earn:
		query = query.Where("user_id = ?", userID)
		updates = map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", amount),
			"lifetime_earned": gorm.Expr("lifetime_earned + ?", amount),
			"version":         gorm.Expr("version + 1"),
		}
	case model.Spend:
		query = query.Where("user_id = ? AND balance >= ?", userID, amount)
		updates = map[string]interface{}{
			"balance":        gorm.Expr("balance - ?", amount),
			"lifetime_spent": gorm.Expr("lifetime_spent + ?", amount),
			"version":        gorm.Expr("version + 1"),
		}
	default:
		return nil, fmt.Errorf("未知的变动类型: %d", kind)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrBalanceNotEnough
	}

	return r.Get(ctx, userID)
}

func (r *AccountRepository) Reset(ctx context.Context, userID string, balance, earned, spent int64) (*model.Account, error) {
	if _, err := r.Ensure(ctx, userID, balance); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":         balance,
			"lifetime_earned": earned,
			"lifetime_spent":  spent,
			"version":         gorm.Expr("version + 1"),
		}).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *AccountRepository) Top(ctx context.Context, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Order("balance DESC").
		Order("user_id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).Order("user_id ASC").Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) Replace(ctx context.Context, accounts []*model.Account) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&model.Account{}).Error; err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(accounts, 200).Error
}
