package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderStateWait      = "wait"
	OrderStateDone      = "done"
	OrderStateCancelled = "cancelled"
)

// Order is one row of the local ledger: a reconciled copy of an order from the
// exchange history. OrderUUID is the exchange identifier and is globally unique;
// re-ingesting the same identifier updates the row in place.
type Order struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	OrderUUID      string          `gorm:"size:64;not null;uniqueIndex" json:"order_uuid"`
	Market         string          `gorm:"size:30;index;not null" json:"market"`
	Side           string          `gorm:"size:10;not null" json:"side"`
	OrderType      string          `gorm:"size:20" json:"order_type"`
	Price          decimal.Decimal `gorm:"type:numeric(30,10)" json:"price"`
	Volume         decimal.Decimal `gorm:"type:numeric(30,10)" json:"volume"`
	ExecutedVolume decimal.Decimal `gorm:"type:numeric(30,10)" json:"executed_volume"`
	ExecutedFunds  decimal.Decimal `gorm:"type:numeric(30,10)" json:"executed_funds"`
	PaidFee        decimal.Decimal `gorm:"type:numeric(30,10)" json:"paid_fee"`
	State          string          `gorm:"size:20;index;not null" json:"state"`
	OrderedAt      time.Time       `gorm:"index" json:"ordered_at"`
	ExecutedAt     *time.Time      `gorm:"index" json:"executed_at,omitempty"`
	RawPayload     string          `gorm:"type:text" json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// OrderMutableColumns are overwritten when an already-synced order is seen again.
var OrderMutableColumns = []string{
	"user_id",
	"market",
	"side",
	"order_type",
	"price",
	"volume",
	"executed_volume",
	"executed_funds",
	"paid_fee",
	"state",
	"ordered_at",
	"executed_at",
	"raw_payload",
	"updated_at",
}
