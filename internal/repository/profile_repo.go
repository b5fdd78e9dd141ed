package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Rarurei/Raruin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ ProfileStore = (*ProfileRepository)(nil)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Get(ctx context.Context, scope string) (*model.GambleProfile, error) {
	var profile model.GambleProfile
	err := r.db.WithContext(ctx).Where("scope = ?", scope).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) Set(ctx context.Context, scope string, level int) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"level": level, "updated_at": time.Now()}),
		}).
		Create(&model.GambleProfile{Scope: scope, Level: level}).Error
}
