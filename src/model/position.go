package model

import "time"

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is a capital-committing stake in one market for one user.
// EntryPrice never changes after the open. Quantity and CommittedCapital shrink only
// when a partial exit is recorded; the Exited* fields keep what those exits sold.
type Position struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"user_id"`
	Market           string     `gorm:"size:30;index;not null" json:"market"`
	EntryPrice       float64    `gorm:"not null" json:"entry_price"`
	Quantity         float64    `gorm:"not null" json:"quantity"`
	CommittedCapital float64    `gorm:"not null" json:"committed_capital"`
	ExitedQuantity   float64    `json:"exited_quantity"`
	ExitedAmount     float64    `json:"exited_amount"`
	ExitedCapital    float64    `json:"exited_capital"`
	CurrentPrice     float64    `json:"current_price"`
	CurrentValue     float64    `json:"current_value"`
	UnrealizedPnl    float64    `json:"unrealized_pnl"`
	UnrealizedPnlPct float64    `json:"unrealized_pnl_pct"`
	HighestPrice     float64    `json:"highest_price"`
	LowestPrice      float64    `json:"lowest_price"`
	Status           string     `gorm:"size:20;index;not null;default:open" json:"status"`
	EntryOrderUUID   string     `gorm:"size:64" json:"entry_order_uuid,omitempty"`
	OpenedAt         time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
