package trading

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
)

// SimulatedExecutor fills every order immediately at the current price and charges
// feeRate on the traded funds. Nothing is sent to the exchange.
type SimulatedExecutor struct {
	prices  PriceSource
	feeRate float64
}

func NewSimulatedExecutor(prices PriceSource, feeRate float64) *SimulatedExecutor {
	return &SimulatedExecutor{prices: prices, feeRate: feeRate}
}

func (e *SimulatedExecutor) Buy(ctx context.Context, market string, funds float64) (Fill, error) {
	if funds <= 0 {
		return Fill{}, fmt.Errorf("buy %s: funds must be positive, got %v", market, funds)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return Fill{}, err
	}
	return e.fill(market, connectors.SideBid, price, funds/price), nil
}

func (e *SimulatedExecutor) Sell(ctx context.Context, market string, quantity float64) (Fill, error) {
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("sell %s: quantity must be positive, got %v", market, quantity)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return Fill{}, err
	}
	return e.fill(market, connectors.SideAsk, price, quantity), nil
}

func (e *SimulatedExecutor) price(ctx context.Context, market string) (float64, error) {
	price, err := e.prices.GetCurrentPrice(ctx, market)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%s: no usable price (%v)", market, price)
	}
	return price, nil
}

func (e *SimulatedExecutor) fill(market, side string, price, quantity float64) Fill {
	funds := price * quantity
	f := Fill{
		OrderUUID: "sim-" + uuid.NewString(),
		Market:    market,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Funds:     funds,
		Fee:       funds * e.feeRate,
	}
	logger.WithFields(map[string]interface{}{
		"component": "SimulatedExecutor",
		"market":    market,
		"side":      side,
		"price":     price,
		"quantity":  quantity,
	}).Info("simulated fill")
	return f
}
