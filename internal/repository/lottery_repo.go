package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ LotteryStore = (*LotteryRepository)(nil)

type LotteryRepository struct {
	db *gorm.DB
}

func NewLotteryRepository(db *gorm.DB) *LotteryRepository {
	return &LotteryRepository{db: db}
}

func (r *LotteryRepository) Get(ctx context.Context, name string) (*model.Lottery, error) {
	return r.get(r.db.WithContext(ctx), name)
}

// GetForUpdate 锁住抽奖池行，同一奖池的并发抽奖串行执行
func (r *LotteryRepository) GetForUpdate(ctx context.Context, name string) (*model.Lottery, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), name)
}

func (r *LotteryRepository) get(db *gorm.DB, name string) (*model.Lottery, error) {
	var lottery model.Lottery
	err := db.
		Preload("Tiers", func(db *gorm.DB) *gorm.DB { return db.Order("tier ASC") }).
		Where("name = ?", name).
		First(&lottery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLotteryNotFound
		}
		return nil, err
	}
	return &lottery, nil
}

func (r *LotteryRepository) Save(ctx context.Context, lottery *model.Lottery) error {
	db := r.db.WithContext(ctx)

	err := db.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"ticket_price", "lose_remaining", "updated_at"}),
		}).
		Create(lottery).Error
	if err != nil {
		return err
	}

	if err := db.Where("lottery_name = ?", lottery.Name).Delete(&model.LotteryTier{}).Error; err != nil {
		return err
	}
	if len(lottery.Tiers) == 0 {
		return nil
	}

	tiers := make([]model.LotteryTier, len(lottery.Tiers))
	for i, t := range lottery.Tiers {
		t.LotteryName = lottery.Name
		tiers[i] = t
	}
	return db.Create(&tiers).Error
}

// Consume 每个奖级一条条件 UPDATE，任一失败由调用方回滚整个事务
func (r *LotteryRepository) Consume(ctx context.Context, name string, perTier map[int]int64, lose int64) error {
	db := r.db.WithContext(ctx)

	tiers := make([]int, 0, len(perTier))
	for tier := range perTier {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)

	for _, tier := range tiers {
		n := perTier[tier]
		if n <= 0 {
			continue
		}
		result := db.Model(&model.LotteryTier{}).
			Where("lottery_name = ? AND tier = ? AND remaining >= ?", name, tier, n).
			Update("remaining", gorm.Expr("remaining - ?", n))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLotteryExhausted
		}
	}

	if lose > 0 {
		result := db.Model(&model.Lottery{}).
			Where("name = ? AND lose_remaining >= ?", name, lose).
			Update("lose_remaining", gorm.Expr("lose_remaining - ?", lose))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLotteryExhausted
		}
	}
	return nil
}
