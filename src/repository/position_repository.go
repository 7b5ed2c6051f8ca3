package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

// PositionRepository reads and writes positions, their close history and audit logs.
// Callers that need atomicity pass a transaction through WithDB.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{db: database.MainDB}
}

func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// DB exposes the handle so callers can open a transaction on it.
func (r *PositionRepository) DB() *gorm.DB {
	return r.db
}

// FindOpen returns (nil, nil) when the user has no open position in market.
func (r *PositionRepository) FindOpen(ctx context.Context, userID uint, market string) (*model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND market = ? AND status = ?", userID, market, model.PositionStatusOpen).
		Limit(1).
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindOpen",
			"user_id": userID,
			"market":  market,
		}).WithError(err).Error("Failed to load open position")
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return &positions[0], nil
}

func (r *PositionRepository) ListOpen(ctx context.Context, userID uint) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.PositionStatusOpen).
		Order("opened_at ASC").Order("id ASC").
		Find(&positions).Error
	return positions, err
}

// OpenExposure returns the number of open positions and the capital they commit.
func (r *PositionRepository) OpenExposure(ctx context.Context, userID uint) (count int64, committed float64, err error) {
	var row struct {
		Count     int64
		Committed float64
	}
	err = r.db.WithContext(ctx).
		Model(&model.Position{}).
		Select("COUNT(*) AS count, COALESCE(SUM(committed_capital), 0) AS committed").
		Where("user_id = ? AND status = ?", userID, model.PositionStatusOpen).
		Scan(&row).Error
	return row.Count, row.Committed, err
}

func (r *PositionRepository) Create(ctx context.Context, p *model.Position) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// UpdateMark writes only the mark-to-market columns of an open position.
func (r *PositionRepository) UpdateMark(ctx context.Context, p *model.Position) error {
	return r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", p.ID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"current_price":      p.CurrentPrice,
			"current_value":      p.CurrentValue,
			"unrealized_pnl":     p.UnrealizedPnl,
			"unrealized_pnl_pct": p.UnrealizedPnlPct,
			"highest_price":      p.HighestPrice,
			"lowest_price":       p.LowestPrice,
			"updated_at":         time.Now(),
		}).Error
}

// MarkClosed flips an open position to closed. It returns the affected row count so a
// concurrent close of the same position is detected.
func (r *PositionRepository) MarkClosed(ctx context.Context, p *model.Position, closedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", p.ID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"status":             model.PositionStatusClosed,
			"closed_at":          closedAt,
			"current_price":      p.CurrentPrice,
			"current_value":      p.CurrentValue,
			"unrealized_pnl":     p.UnrealizedPnl,
			"unrealized_pnl_pct": p.UnrealizedPnlPct,
			"highest_price":      p.HighestPrice,
			"lowest_price":       p.LowestPrice,
			"updated_at":         closedAt,
		})
	return res.RowsAffected, res.Error
}

// Reduce writes the remaining size and the partial exit totals of an open position.
func (r *PositionRepository) Reduce(ctx context.Context, p *model.Position) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", p.ID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"quantity":           p.Quantity,
			"committed_capital":  p.CommittedCapital,
			"exited_quantity":    p.ExitedQuantity,
			"exited_amount":      p.ExitedAmount,
			"exited_capital":     p.ExitedCapital,
			"current_price":      p.CurrentPrice,
			"current_value":      p.CurrentValue,
			"unrealized_pnl":     p.UnrealizedPnl,
			"unrealized_pnl_pct": p.UnrealizedPnlPct,
			"highest_price":      p.HighestPrice,
			"lowest_price":       p.LowestPrice,
			"updated_at":         time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *PositionRepository) CreateHistory(ctx context.Context, h *model.PositionHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *PositionRepository) CreateLog(ctx context.Context, l *model.PositionLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// ListHistory returns closed trades newest first. limit <= 0 means all.
func (r *PositionRepository) ListHistory(ctx context.Context, userID uint, limit int) ([]model.PositionHistory, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("closed_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var history []model.PositionHistory
	err := q.Find(&history).Error
	return history, err
}

// HistoryTotals aggregates realized results of all closed trades of a user.
type HistoryTotals struct {
	TotalTrades int64
	Wins        int64
	TotalProfit float64
}

func (r *PositionRepository) HistoryTotals(ctx context.Context, userID uint) (HistoryTotals, error) {
	var totals HistoryTotals
	err := r.db.WithContext(ctx).
		Model(&model.PositionHistory{}).
		Select("COUNT(*) AS total_trades, "+
			"COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0) AS wins, "+
			"COALESCE(SUM(profit), 0) AS total_profit").
		Where("user_id = ?", userID).
		Scan(&totals).Error
	return totals, err
}

func (r *PositionRepository) ListLogs(ctx context.Context, userID uint) ([]model.PositionLog, error) {
	var logs []model.PositionLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&logs).Error
	return logs, err
}
