package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *UserRepository {
	logger.WithField("component", "UserRepository").
		Info("Creating new UserRepository with MainDB")

	return &UserRepository{
		db: database.MainDB,
	}
}

func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns (nil, nil) when the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// ListActiveIDs returns users allowed to trade.
func (r *UserRepository) ListActiveIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("active = ?", true).Order("id").Pluck("id", &ids).Error
	return ids, err
}
