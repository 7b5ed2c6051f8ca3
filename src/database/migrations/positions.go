package migrations

import "gorm.io/gorm"

// createOpenPositionIndex enforces at most one open position per (user, market).
// Closed rows are excluded so a market can be re-entered after a close.
func createOpenPositionIndex(db *gorm.DB) error {
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_user_market_open " +
			"ON positions (user_id, market) WHERE status = 'open'",
	).Error
}
