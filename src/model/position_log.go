package model

import "time"

const (
	PositionActionOpen  = "open"
	PositionActionClose = "close"
	// a sell that executed only part of the position
	PositionActionReduce = "reduce"
)

// PositionLog is the audit trail written in the same transaction as every
// open, partial exit and close of a position.
type PositionLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	PositionID uint      `gorm:"index;not null" json:"position_id"`
	Market     string    `gorm:"size:30" json:"market"`
	Action     string    `gorm:"size:20;not null" json:"action"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Amount     float64   `json:"amount"`
	Message    string    `gorm:"size:1024" json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

func (PositionLog) TableName() string {
	return "position_logs"
}
