package model

import "time"

// SyncScopeAll is the scope used when a sync covers every market of the user.
const SyncScopeAll = "ALL"

// SyncCursor bookmarks how far the ledger sync has progressed for a (user, scope) pair.
type SyncCursor struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"not null;uniqueIndex:idx_sync_cursor_scope" json:"user_id"`
	Scope         string     `gorm:"size:30;not null;uniqueIndex:idx_sync_cursor_scope" json:"scope"`
	LastOrderUUID string     `gorm:"size:64" json:"last_order_uuid"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	SyncedCount   int64      `gorm:"not null;default:0" json:"synced_count"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
