package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

type TradingConfigRepository struct {
	db *gorm.DB
}

func NewTradingConfigRepository() *TradingConfigRepository {
	return &TradingConfigRepository{db: database.MainDB}
}

func (r *TradingConfigRepository) WithDB(db *gorm.DB) *TradingConfigRepository {
	return &TradingConfigRepository{db: db}
}

// GetByUserID returns (nil, nil) when the user has no stored config.
func (r *TradingConfigRepository) GetByUserID(ctx context.Context, userID uint) (*model.UserTradingConfig, error) {
	var cfgs []model.UserTradingConfig
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&cfgs).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradingConfigRepository",
			"op":      "GetByUserID",
			"user_id": userID,
		}).WithError(err).Error("Failed to load trading config")
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, nil
	}
	return &cfgs[0], nil
}

// userLockSpace keeps the per-user advisory lock keys apart from other advisory locks.
const userLockSpace int64 = 0x6370

// UserLockKey is the advisory lock key of userID.
func UserLockKey(userID uint) int64 {
	return userLockSpace<<32 | int64(uint32(userID))
}

// LockUser serializes the caller's transaction with every other writer of userID.
// It must be called on a repository bound to a transaction. On postgres it takes a
// transaction scoped advisory lock, so it holds for users without a config row and
// across processes. sqlite already serializes writers, so there it only touches
// the config row.
func (r *TradingConfigRepository) LockUser(ctx context.Context, userID uint) error {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		err := db.Exec("SELECT pg_advisory_xact_lock(?)", UserLockKey(userID)).Error
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":    "TradingConfigRepository",
				"op":      "LockUser",
				"user_id": userID,
			}).WithError(err).Error("Failed to take user lock")
		}
		return err
	}
	var cfgs []model.UserTradingConfig
	return db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&cfgs).Error
}

// ListEnabledUserIDs returns users whose trading loop should run.
func (r *TradingConfigRepository) ListEnabledUserIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.UserTradingConfig{}).
		Where("enabled = ?", true).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// Upsert creates or replaces the config of cfg.UserID.
func (r *TradingConfigRepository) Upsert(ctx context.Context, cfg *model.UserTradingConfig) error {
	row := *cfg
	row.ID = 0
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_budget",
			"per_position_budget",
			"max_positions",
			"min_order_amount",
			"take_profit_pct",
			"stop_loss_pct",
			"emergency_stop_pct",
			"max_holding_hours",
			"force_close_on_period",
			"enabled",
			"updated_at",
		}),
	}).Create(&row).Error
}
