package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

// OrderRepository handles read/write operations for the order ledger.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// UpsertBatch inserts or updates the given orders in one transaction, keyed by order_uuid.
// Either the whole batch commits or nothing does.
func (r *OrderRepository) UpsertBatch(
	ctx context.Context,
	orders []model.Order,
) error {

	if len(orders) == 0 {
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "OrderRepository",
		"op":    "UpsertBatch",
		"count": len(orders),
	}).Debug("Upserting ledger orders")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_uuid"}},
			DoUpdates: clause.AssignmentColumns(model.OrderMutableColumns),
		}).CreateInBatches(&orders, 100).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "UpsertBatch",
		}).WithError(err).Error("Failed to upsert ledger orders")
		return err
	}

	return nil
}

// OrderSearchOptions narrows ListByUser.
type OrderSearchOptions struct {
	Market string
	State  string
	Limit  int
}

// ListByUser returns ledger rows sorted by execution time (falling back to order time), newest first.
func (r *OrderRepository) ListByUser(
	ctx context.Context,
	userID uint,
	opts OrderSearchOptions,
) ([]model.Order, error) {

	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if opts.Market != "" {
		q = q.Where("market = ?", opts.Market)
	}
	if opts.State != "" {
		q = q.Where("state = ?", opts.State)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var orders []model.Order
	err := q.Order("COALESCE(executed_at, ordered_at) DESC").Order("id DESC").Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list ledger orders")
		return nil, err
	}
	return orders, nil
}

// CountByUser returns the number of ledger rows stored for a user.
func (r *OrderRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// FindByUUID returns (nil, nil) when the order is not in the ledger.
func (r *OrderRepository) FindByUUID(ctx context.Context, orderUUID string) (*model.Order, error) {
	var orders []model.Order
	if err := r.db.WithContext(ctx).Where("order_uuid = ?", orderUUID).Limit(1).Find(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}
