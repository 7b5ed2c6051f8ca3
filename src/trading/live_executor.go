package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
	"coinpulse/src/retry"
)

// LiveExecutor places real market orders and polls them until they settle.
type LiveExecutor struct {
	exchange     Exchange
	pollInterval time.Duration
	fillTimeout  time.Duration
}

func NewLiveExecutor(exchange Exchange, pollInterval, fillTimeout time.Duration) *LiveExecutor {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if fillTimeout <= 0 {
		fillTimeout = 15 * time.Second
	}
	return &LiveExecutor{exchange: exchange, pollInterval: pollInterval, fillTimeout: fillTimeout}
}

func (e *LiveExecutor) Buy(ctx context.Context, market string, funds float64) (Fill, error) {
	if funds <= 0 {
		return Fill{}, fmt.Errorf("buy %s: funds must be positive, got %v", market, funds)
	}
	return e.execute(ctx, connectors.OrderRequest{
		Market:  market,
		Side:    connectors.SideBid,
		OrdType: connectors.OrdTypePrice,
		Price:   decimal.NewFromFloat(funds).String(),
	})
}

func (e *LiveExecutor) Sell(ctx context.Context, market string, quantity float64) (Fill, error) {
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("sell %s: quantity must be positive, got %v", market, quantity)
	}
	return e.execute(ctx, connectors.OrderRequest{
		Market:  market,
		Side:    connectors.SideAsk,
		OrdType: connectors.OrdTypeMarket,
		Volume:  decimal.NewFromFloat(quantity).String(),
	})
}

func (e *LiveExecutor) execute(ctx context.Context, req connectors.OrderRequest) (Fill, error) {
	req.Identifier = uuid.NewString()
	log := logger.WithFields(map[string]interface{}{
		"component":  "LiveExecutor",
		"market":     req.Market,
		"side":       req.Side,
		"identifier": req.Identifier,
	})

	placed, err := retry.Value(ctx, retry.RateLimitOnly, "place order", func(ctx context.Context) (*connectors.OrderRecord, error) {
		return e.exchange.PlaceOrder(ctx, req)
	})
	if err != nil {
		log.WithError(err).Error("order placement failed")
		return Fill{}, err
	}
	log = log.WithField("order_uuid", placed.UUID)
	log.Info("order placed")

	rec, err := e.waitSettled(ctx, placed)
	if err != nil {
		log.WithError(err).Error("order placed but its outcome is unknown")
		return Fill{}, &UnconfirmedOrderError{OrderUUID: placed.UUID, Market: req.Market, Side: req.Side, Err: err}
	}
	return fillFromRecord(rec)
}

// waitSettled polls the order until it is done or cancelled. An order still waiting
// at the deadline is cancelled and whatever executed is reported.
func (e *LiveExecutor) waitSettled(ctx context.Context, placed *connectors.OrderRecord) (*connectors.OrderRecord, error) {
	if settled(placed) {
		return placed, nil
	}

	deadline := time.Now().Add(e.fillTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	last := placed
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("order %s: %w", placed.UUID, ctx.Err())
		case <-ticker.C:
		}

		rec, err := retry.Value(ctx, retry.Default, "get order", func(ctx context.Context) (*connectors.OrderRecord, error) {
			return e.exchange.GetOrder(ctx, placed.UUID)
		})
		if err != nil {
			return nil, err
		}
		last = rec
		if settled(rec) {
			return rec, nil
		}
	}

	if _, err := e.exchange.CancelOrder(ctx, placed.UUID); err != nil {
		logger.WithField("order_uuid", placed.UUID).WithError(err).Warn("cancel of unsettled order failed")
	}
	rec, err := e.exchange.GetOrder(ctx, placed.UUID)
	if err != nil {
		return last, nil
	}
	return rec, nil
}

func settled(rec *connectors.OrderRecord) bool {
	return rec.State == connectors.OrderStateDone || rec.State == connectors.OrderStateCancel
}

// fillFromRecord turns a settled order into a Fill. Market buys by funds usually end as
// cancel with the unspendable remainder returned, so any executed volume counts.
func fillFromRecord(rec *connectors.OrderRecord) (Fill, error) {
	if rec.ExecutedVolume.IsZero() {
		return Fill{}, fmt.Errorf("order %s (%s): %w", rec.UUID, rec.State, ErrNotFilled)
	}
	price, _ := rec.AvgPrice().Float64()
	qty, _ := rec.ExecutedVolume.Float64()
	funds, _ := rec.Funds().Float64()
	fee, _ := rec.PaidFee.Float64()
	return Fill{
		OrderUUID: rec.UUID,
		Market:    rec.Market,
		Side:      rec.Side,
		Price:     price,
		Quantity:  qty,
		Funds:     funds,
		Fee:       fee,
	}, nil
}
