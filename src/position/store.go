// Package position is the durable record of open and closed positions and the
// owner of the budget and one-open-position-per-market rules.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/model"
	"coinpulse/src/repository"
)

// budgetEpsilon absorbs float rounding when comparing commitments against the ceiling.
const budgetEpsilon = 1e-6

type Store struct {
	positions *repository.PositionRepository
	configs   *repository.TradingConfigRepository
	provider  ConfigProvider

	locks sync.Map // user id -> *sync.Mutex
	now   func() time.Time
}

func NewStore(db *gorm.DB, provider ConfigProvider) *Store {
	return &Store{
		positions: (&repository.PositionRepository{}).WithDB(db),
		configs:   (&repository.TradingConfigRepository{}).WithDB(db),
		provider:  provider,
		now:       time.Now,
	}
}

// lockUser serializes every mutation of one user's positions inside this process.
func (s *Store) lockUser(userID uint) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// inUserTx runs fn in a transaction holding the row lock on the user's config.
func (s *Store) inUserTx(ctx context.Context, userID uint, fn func(positions *repository.PositionRepository) error) error {
	return s.positions.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.configs.WithDB(tx).LockUser(ctx, userID); err != nil {
			return fmt.Errorf("lock user %d: %w", userID, err)
		}
		return fn(s.positions.WithDB(tx))
	})
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// OpenPosition records a filled buy. It fails with ErrPositionExists, ErrMaxPositions or
// ErrBudgetExceeded without writing anything when the open would break a limit.
func (s *Store) OpenPosition(ctx context.Context, userID uint, market string, price, quantity, committed float64) (*model.Position, error) {
	return s.OpenPositionWithOrder(ctx, userID, market, price, quantity, committed, "")
}

// OpenPositionWithOrder is OpenPosition that also keeps the identifier of the entry order.
func (s *Store) OpenPositionWithOrder(ctx context.Context, userID uint, market string, price, quantity, committed float64, orderUUID string) (*model.Position, error) {
	if market == "" || !validAmount(price) || !validAmount(quantity) || !validAmount(committed) {
		return nil, fmt.Errorf("%w: market=%q price=%v quantity=%v committed=%v", ErrInvalidArgument, market, price, quantity, committed)
	}

	cfg, err := s.provider.TradingConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	log := logger.WithFields(map[string]interface{}{
		"component": "PositionStore",
		"op":        "OpenPosition",
		"user_id":   userID,
		"market":    market,
	})

	var created *model.Position
	err = s.inUserTx(ctx, userID, func(positions *repository.PositionRepository) error {
		existing, err := positions.FindOpen(ctx, userID, market)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrPositionExists
		}

		count, used, err := positions.OpenExposure(ctx, userID)
		if err != nil {
			return err
		}
		if count >= int64(cfg.MaxPositions) {
			return fmt.Errorf("%w: %d of %d", ErrMaxPositions, count, cfg.MaxPositions)
		}
		if used+committed > cfg.TotalBudget+budgetEpsilon {
			return fmt.Errorf("%w: committed %.2f + %.2f > ceiling %.2f", ErrBudgetExceeded, used, committed, cfg.TotalBudget)
		}

		now := s.now()
		p := &model.Position{
			UserID:           userID,
			Market:           market,
			EntryPrice:       price,
			Quantity:         quantity,
			CommittedCapital: committed,
			Status:           model.PositionStatusOpen,
			EntryOrderUUID:   orderUUID,
			OpenedAt:         now,
		}
		applyMark(p, price)

		if err := positions.Create(ctx, p); err != nil {
			if isDuplicate(err) {
				return ErrPositionExists
			}
			return err
		}
		if err := positions.CreateLog(ctx, &model.PositionLog{
			UserID:     userID,
			PositionID: p.ID,
			Market:     market,
			Action:     model.PositionActionOpen,
			Price:      price,
			Quantity:   quantity,
			Amount:     committed,
			Message:    fmt.Sprintf("opened with %.2f committed", committed),
		}); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			log.WithError(err).Warn("open rejected")
		} else {
			log.WithError(err).Error("open failed")
		}
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"position_id": created.ID,
		"price":       price,
		"quantity":    quantity,
		"committed":   committed,
	}).Info("position opened")
	return created, nil
}

// UpdatePosition marks the open position at mark and extends its extrema.
func (s *Store) UpdatePosition(ctx context.Context, userID uint, market string, mark float64) (*model.Position, error) {
	if !validAmount(mark) {
		return nil, fmt.Errorf("%w: mark price %v", ErrInvalidArgument, mark)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	p, err := s.positions.FindOpen(ctx, userID, market)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoOpenPosition
	}

	applyMark(p, mark)
	if err := s.positions.UpdateMark(ctx, p); err != nil {
		return nil, fmt.Errorf("update mark of position %d: %w", p.ID, err)
	}
	return p, nil
}

// CheckExitConditions evaluates the exit rules for the open position at mark.
func (s *Store) CheckExitConditions(ctx context.Context, userID uint, market string, mark float64) (ExitDecision, error) {
	cfg, err := s.provider.TradingConfig(ctx, userID)
	if err != nil {
		return ExitDecision{}, err
	}
	p, err := s.positions.FindOpen(ctx, userID, market)
	if err != nil {
		return ExitDecision{}, err
	}
	if p == nil {
		return ExitDecision{}, ErrNoOpenPosition
	}
	return EvaluateExit(*p, cfg, mark, s.now()), nil
}

// ClosePosition records a filled sell at price and releases the committed capital.
func (s *Store) ClosePosition(ctx context.Context, userID uint, market string, price float64, reason model.CloseReason) (*model.PositionHistory, error) {
	return s.ClosePositionWithOrder(ctx, userID, market, price, reason, "")
}

// ClosePositionWithOrder is ClosePosition that also keeps the identifier of the exit order.
func (s *Store) ClosePositionWithOrder(ctx context.Context, userID uint, market string, price float64, reason model.CloseReason, orderUUID string) (*model.PositionHistory, error) {
	if !validAmount(price) || !reason.Valid() {
		return nil, fmt.Errorf("%w: price=%v reason=%q", ErrInvalidArgument, price, reason)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	log := logger.WithFields(map[string]interface{}{
		"component": "PositionStore",
		"op":        "ClosePosition",
		"user_id":   userID,
		"market":    market,
		"reason":    reason,
	})

	var history *model.PositionHistory
	err := s.inUserTx(ctx, userID, func(positions *repository.PositionRepository) error {
		p, err := positions.FindOpen(ctx, userID, market)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNoOpenPosition
		}

		closedAt := s.now()
		applyMark(p, price)
		affected, err := positions.MarkClosed(ctx, p, closedAt)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNoOpenPosition
		}

		// the history row covers the whole trade, partial exits included
		lastAmount := price * p.Quantity
		quantity := p.Quantity + p.ExitedQuantity
		buyAmount := p.CommittedCapital + p.ExitedCapital
		sellAmount := lastAmount + p.ExitedAmount
		exitPrice := price
		if p.ExitedQuantity > 0 {
			exitPrice = sellAmount / quantity
		}
		profit := sellAmount - buyAmount
		h := &model.PositionHistory{
			PositionID:     p.ID,
			UserID:         userID,
			Market:         market,
			EntryPrice:     p.EntryPrice,
			ExitPrice:      exitPrice,
			Quantity:       quantity,
			BuyAmount:      buyAmount,
			SellAmount:     sellAmount,
			Profit:         profit,
			ProfitRate:     profit / buyAmount,
			HoldingSeconds: int64(closedAt.Sub(p.OpenedAt) / time.Second),
			CloseReason:    reason,
			ExitOrderUUID:  orderUUID,
			OpenedAt:       p.OpenedAt,
			ClosedAt:       closedAt,
		}
		if err := positions.CreateHistory(ctx, h); err != nil {
			return err
		}
		if err := positions.CreateLog(ctx, &model.PositionLog{
			UserID:     userID,
			PositionID: p.ID,
			Market:     market,
			Action:     model.PositionActionClose,
			Price:      price,
			Quantity:   p.Quantity,
			Amount:     lastAmount,
			Message:    fmt.Sprintf("closed (%s) with profit %.2f", reason, profit),
		}); err != nil {
			return err
		}
		history = h
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			log.WithError(err).Warn("close rejected")
		} else {
			log.WithError(err).Error("close failed")
		}
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"position_id": history.PositionID,
		"exit_price":  price,
		"profit":      history.Profit,
	}).Info("position closed")
	return history, nil
}

// ReducePositionWithOrder records a sell that executed only part of an open position.
// The sold part releases its share of the committed capital; its proceeds stay on the
// position until the close writes the history row of the whole trade.
func (s *Store) ReducePositionWithOrder(ctx context.Context, userID uint, market string, price, quantity float64, orderUUID string) (*model.Position, error) {
	if !validAmount(price) || !validAmount(quantity) {
		return nil, fmt.Errorf("%w: price=%v quantity=%v", ErrInvalidArgument, price, quantity)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	log := logger.WithFields(map[string]interface{}{
		"component":  "PositionStore",
		"op":         "ReducePosition",
		"user_id":    userID,
		"market":     market,
		"order_uuid": orderUUID,
	})

	var out *model.Position
	err := s.inUserTx(ctx, userID, func(positions *repository.PositionRepository) error {
		p, err := positions.FindOpen(ctx, userID, market)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNoOpenPosition
		}
		if quantity >= p.Quantity {
			return fmt.Errorf("%w: sold %v of %v, close the position instead", ErrInvalidArgument, quantity, p.Quantity)
		}

		released := p.CommittedCapital * quantity / p.Quantity
		p.Quantity -= quantity
		p.CommittedCapital -= released
		p.ExitedQuantity += quantity
		p.ExitedAmount += price * quantity
		p.ExitedCapital += released
		applyMark(p, price)

		affected, err := positions.Reduce(ctx, p)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNoOpenPosition
		}
		if err := positions.CreateLog(ctx, &model.PositionLog{
			UserID:     userID,
			PositionID: p.ID,
			Market:     market,
			Action:     model.PositionActionReduce,
			Price:      price,
			Quantity:   quantity,
			Amount:     price * quantity,
			Message:    fmt.Sprintf("order %s sold %v, %v left", orderUUID, quantity, p.Quantity),
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		if IsRejection(err) {
			log.WithError(err).Warn("partial exit rejected")
		} else {
			log.WithError(err).Error("partial exit failed")
		}
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"sold":      quantity,
		"remaining": out.Quantity,
		"released":  out.ExitedCapital,
	}).Info("position reduced")
	return out, nil
}

// AvailableBudget is the ceiling minus the capital committed to open positions, never negative.
func (s *Store) AvailableBudget(ctx context.Context, userID uint) (float64, error) {
	cfg, err := s.provider.TradingConfig(ctx, userID)
	if err != nil {
		return 0, err
	}
	_, used, err := s.positions.OpenExposure(ctx, userID)
	if err != nil {
		return 0, err
	}
	return math.Max(0, cfg.TotalBudget-used), nil
}

// CanOpenNewPosition reports whether an open of amount would pass every limit right now.
// A refusal is (false, nil); the error is reserved for failures to read state.
func (s *Store) CanOpenNewPosition(ctx context.Context, userID uint, amount float64) (bool, error) {
	cfg, err := s.provider.TradingConfig(ctx, userID)
	if err != nil {
		return false, err
	}
	count, used, err := s.positions.OpenExposure(ctx, userID)
	if err != nil {
		return false, err
	}
	return checkOpen(cfg, count, used, amount) == nil, nil
}

// checkOpen returns the rejection an open of amount would hit, or nil.
func checkOpen(cfg model.UserTradingConfig, count int64, used, amount float64) error {
	switch {
	case !validAmount(amount):
		return fmt.Errorf("%w: amount %v", ErrInvalidArgument, amount)
	case amount < cfg.MinOrderAmount:
		return fmt.Errorf("%w: amount %.2f below minimum %.2f", ErrInvalidArgument, amount, cfg.MinOrderAmount)
	case amount > cfg.PerPositionBudget+budgetEpsilon:
		return fmt.Errorf("%w: amount %.2f above per-position budget %.2f", ErrBudgetExceeded, amount, cfg.PerPositionBudget)
	case count >= int64(cfg.MaxPositions):
		return ErrMaxPositions
	case used+amount > cfg.TotalBudget+budgetEpsilon:
		return ErrBudgetExceeded
	}
	return nil
}

func (s *Store) GetOpenPositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return s.positions.ListOpen(ctx, userID)
}

// GetHistory returns closed trades newest first.
func (s *Store) GetHistory(ctx context.Context, userID uint, limit int) ([]model.PositionHistory, error) {
	return s.positions.ListHistory(ctx, userID, limit)
}

type Statistics struct {
	TotalTrades       int64   `json:"total_trades"`
	WinRate           float64 `json:"win_rate"`
	TotalProfit       float64 `json:"total_profit"`
	AvgProfitPerTrade float64 `json:"avg_profit_per_trade"`
	OpenPositions     int64   `json:"open_positions"`
	CommittedCapital  float64 `json:"committed_capital"`
}

func (s *Store) GetStatistics(ctx context.Context, userID uint) (Statistics, error) {
	totals, err := s.positions.HistoryTotals(ctx, userID)
	if err != nil {
		return Statistics{}, err
	}
	count, used, err := s.positions.OpenExposure(ctx, userID)
	if err != nil {
		return Statistics{}, err
	}

	st := Statistics{
		TotalTrades:      totals.TotalTrades,
		TotalProfit:      totals.TotalProfit,
		OpenPositions:    count,
		CommittedCapital: used,
	}
	if totals.TotalTrades > 0 {
		st.WinRate = float64(totals.Wins) / float64(totals.TotalTrades)
		st.AvgProfitPerTrade = totals.TotalProfit / float64(totals.TotalTrades)
	}
	return st, nil
}
