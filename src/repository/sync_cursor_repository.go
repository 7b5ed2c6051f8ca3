package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

type SyncCursorRepository struct {
	db *gorm.DB
}

func NewSyncCursorRepository() *SyncCursorRepository {
	return &SyncCursorRepository{db: database.MainDB}
}

func (r *SyncCursorRepository) WithDB(db *gorm.DB) *SyncCursorRepository {
	return &SyncCursorRepository{db: db}
}

// Get returns (nil, nil) when no cursor exists yet for (userID, scope).
func (r *SyncCursorRepository) Get(ctx context.Context, userID uint, scope string) (*model.SyncCursor, error) {
	var cursors []model.SyncCursor
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND scope = ?", userID, scope).
		Limit(1).
		Find(&cursors).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "SyncCursorRepository",
			"op":      "Get",
			"user_id": userID,
			"scope":   scope,
		}).WithError(err).Error("Failed to load sync cursor")
		return nil, err
	}
	if len(cursors) == 0 {
		return nil, nil
	}
	return &cursors[0], nil
}

// Save writes the whole cursor row, creating it on first use.
// The row is matched on (user_id, scope), never on the primary key.
func (r *SyncCursorRepository) Save(ctx context.Context, c *model.SyncCursor) error {
	row := *c
	row.ID = 0
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_order_uuid",
			"last_synced_at",
			"synced_count",
			"last_error",
			"updated_at",
		}),
	}).Create(&row).Error
}

// RecordError stores msg as the cursor's last error without moving its position.
func (r *SyncCursorRepository) RecordError(ctx context.Context, userID uint, scope, msg string) error {
	c := model.SyncCursor{UserID: userID, Scope: scope, LastError: msg}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_error", "updated_at"}),
	}).Create(&c).Error
}

func (r *SyncCursorRepository) ListByUser(ctx context.Context, userID uint) ([]model.SyncCursor, error) {
	var cursors []model.SyncCursor
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("scope").Find(&cursors).Error
	return cursors, err
}
