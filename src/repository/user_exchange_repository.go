package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

type UserExchangeRepository struct {
	db *gorm.DB
}

func NewUserExchangeRepository() *UserExchangeRepository {
	logger.WithField("component", "UserExchangeRepository").
		Info("Creating new UserExchangeRepository with MainDB")

	return &UserExchangeRepository{
		db: database.MainDB,
	}
}

func (r *UserExchangeRepository) WithDB(db *gorm.DB) *UserExchangeRepository {
	return &UserExchangeRepository{db: db}
}

// GetByUserID returns (nil, nil) when the user stored no credentials.
func (r *UserExchangeRepository) GetByUserID(ctx context.Context, userID uint) (*model.UserExchange, error) {
	var rows []model.UserExchange
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Upsert creates the credentials row or replaces the keys of an existing one.
func (r *UserExchangeRepository) Upsert(ctx context.Context, ue *model.UserExchange) error {
	row := *ue
	row.ID = 0
	row.User = nil
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_key",
				"secret_key",
				"updated_at",
			}),
		}).
		Create(&row).Error
}

// ListUserIDs returns every user with stored exchange credentials.
func (r *UserExchangeRepository) ListUserIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.UserExchange{}).Order("user_id").Pluck("user_id", &ids).Error
	return ids, err
}
