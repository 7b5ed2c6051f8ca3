package trading

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFilled means the order was accepted but nothing executed before it was given up on.
	ErrNotFilled = errors.New("order was not filled")
	// ErrPartialFill means an exit sold less than the whole position.
	ErrPartialFill = errors.New("order was only partly filled")
)

// UnconfirmedOrderError is returned when the exchange accepted an order but its outcome
// could not be read. The order may have executed.
type UnconfirmedOrderError struct {
	OrderUUID string
	Market    string
	Side      string
	Err       error
}

func (e *UnconfirmedOrderError) Error() string {
	return fmt.Sprintf("order %s (%s %s) placed but not confirmed: %v", e.OrderUUID, e.Side, e.Market, e.Err)
}

func (e *UnconfirmedOrderError) Unwrap() error {
	return e.Err
}

// Fill is what actually executed. Price is the average execution price and
// Funds the quote amount exchanged, fees excluded.
type Fill struct {
	OrderUUID string  `json:"order_uuid"`
	Market    string  `json:"market"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Funds     float64 `json:"funds"`
	Fee       float64 `json:"fee"`
}

// OrderExecutor places market orders and reports the confirmed fill.
// An error means nothing may be recorded for the order; an *UnconfirmedOrderError
// means the order exists and may have executed.
type OrderExecutor interface {
	// Buy spends funds of the quote currency on market.
	Buy(ctx context.Context, market string, funds float64) (Fill, error)
	// Sell sells quantity units of market.
	Sell(ctx context.Context, market string, quantity float64) (Fill, error)
}
