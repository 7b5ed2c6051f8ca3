package model

import "time"

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit    CloseReason = "take_profit"
	CloseReasonStopLoss      CloseReason = "stop_loss"
	CloseReasonEmergencyStop CloseReason = "emergency_stop"
	CloseReasonHoldingPeriod CloseReason = "holding_period"
	CloseReasonManual        CloseReason = "manual"
)

// Valid reports whether r is one of the known close reasons.
func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonTakeProfit, CloseReasonStopLoss, CloseReasonEmergencyStop,
		CloseReasonHoldingPeriod, CloseReasonManual:
		return true
	}
	return false
}

// PositionHistory is the immutable snapshot written when a position closes.
type PositionHistory struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	PositionID     uint        `gorm:"uniqueIndex;not null" json:"position_id"`
	UserID         uint        `gorm:"index;not null" json:"user_id"`
	Market         string      `gorm:"size:30;index;not null" json:"market"`
	EntryPrice     float64     `json:"entry_price"`
	ExitPrice      float64     `json:"exit_price"`
	Quantity       float64     `json:"quantity"`
	BuyAmount      float64     `json:"buy_amount"`
	SellAmount     float64     `json:"sell_amount"`
	Profit         float64     `json:"profit"`
	ProfitRate     float64     `json:"profit_rate"`
	HoldingSeconds int64       `json:"holding_seconds"`
	CloseReason    CloseReason `gorm:"size:30;not null" json:"close_reason"`
	ExitOrderUUID  string      `gorm:"size:64" json:"exit_order_uuid,omitempty"`
	OpenedAt       time.Time   `json:"opened_at"`
	ClosedAt       time.Time   `gorm:"index" json:"closed_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (PositionHistory) TableName() string {
	return "position_history"
}

// HoldingDuration returns how long the position was held.
func (h PositionHistory) HoldingDuration() time.Duration {
	return time.Duration(h.HoldingSeconds) * time.Second
}
