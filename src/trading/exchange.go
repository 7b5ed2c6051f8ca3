// Package trading runs the per-user trading cycle: mark open positions, close the
// ones that hit an exit rule, then open new ones from the ranked buy candidates.
package trading

import (
	"context"

	"coinpulse/src/connectors"
)

// Exchange is the part of the exchange client a trading cycle needs.
// *connectors.UpbitClient satisfies it.
type Exchange interface {
	GetAccounts(ctx context.Context) ([]connectors.Account, error)
	GetMarkets(ctx context.Context) ([]string, error)
	GetTickers(ctx context.Context, markets []string) ([]connectors.Ticker, error)
	GetCurrentPrice(ctx context.Context, market string) (float64, error)
	GetCandles(ctx context.Context, market string, unitMinutes, count int) ([]connectors.Candle, error)
	PlaceOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderRecord, error)
	GetOrder(ctx context.Context, orderUUID string) (*connectors.OrderRecord, error)
	CancelOrder(ctx context.Context, orderUUID string) (*connectors.OrderRecord, error)
}

// PriceSource quotes a market's last trade price.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, market string) (float64, error)
}
