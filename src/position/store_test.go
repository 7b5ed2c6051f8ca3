package position

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"coinpulse/src/database"
	"coinpulse/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		DatabaseDriver:  "sqlite",
		DatabaseURLMain: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		GormLogLevel:    1,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig(userID uint) model.UserTradingConfig {
	return model.UserTradingConfig{
		UserID:            userID,
		TotalBudget:       100000,
		PerPositionBudget: 60000,
		MaxPositions:      3,
		MinOrderAmount:    5000,
		TakeProfitPct:     0.05,
		StopLossPct:       0.02,
		EmergencyStopPct:  0.03,
		MaxHoldingHours:   24,
		Enabled:           true,
	}
}

func newTestStore(t *testing.T, cfgs ...model.UserTradingConfig) *Store {
	t.Helper()
	provider := StaticConfigProvider{}
	for _, c := range cfgs {
		provider[c.UserID] = c
	}
	return NewStore(newTestDB(t), provider)
}

func TestOpenPositionRejectsSecondOpenInSameMarket(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	p, err := s.OpenPosition(ctx, 1, "KRW-BTC", 100, 100, 10000)
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusOpen, p.Status)
	assert.Equal(t, 10000.0, p.CurrentValue)

	_, err = s.OpenPosition(ctx, 1, "KRW-BTC", 101, 50, 5050)
	require.ErrorIs(t, err, ErrPositionExists)

	open, err := s.GetOpenPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 100.0, open[0].EntryPrice)
}

func TestBudgetCeilingIsNeverExceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	_, err := s.OpenPosition(ctx, 1, "KRW-BTC", 100, 600, 60000)
	require.NoError(t, err)

	avail, err := s.AvailableBudget(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 40000, avail, 1e-9)

	_, err = s.OpenPosition(ctx, 1, "KRW-ETH", 100, 500, 50000)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	ok, err := s.CanOpenNewPosition(ctx, 1, 40000)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CanOpenNewPosition(ctx, 1, 40001)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ClosePosition(ctx, 1, "KRW-BTC", 100, model.CloseReasonManual)
	require.NoError(t, err)

	avail, err = s.AvailableBudget(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100000, avail, 1e-9)
}

func TestMaxPositions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1)
	cfg.MaxPositions = 2
	s := newTestStore(t, cfg)

	for _, m := range []string{"KRW-BTC", "KRW-ETH"} {
		_, err := s.OpenPosition(ctx, 1, m, 10, 1000, 10000)
		require.NoError(t, err)
	}
	_, err := s.OpenPosition(ctx, 1, "KRW-XRP", 10, 1000, 10000)
	require.ErrorIs(t, err, ErrMaxPositions)

	ok, err := s.CanOpenNewPosition(ctx, 1, 10000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentOpensNeverOversubscribe(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1)
	cfg.MaxPositions = 10
	s := newTestStore(t, cfg)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.OpenPosition(ctx, 1, fmt.Sprintf("KRW-C%d", i), 100, 300, 30000)
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
			continue
		}
		require.ErrorIs(t, err, ErrBudgetExceeded)
	}
	assert.Equal(t, 3, opened)

	st, err := s.GetStatistics(ctx, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.CommittedCapital, cfg.TotalBudget)
	assert.Equal(t, int64(3), st.OpenPositions)
}

func TestEmergencyStopTriggersClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	_, err := s.OpenPosition(ctx, 1, "KRW-SOL", 100, 100, 10000)
	require.NoError(t, err)

	_, err = s.UpdatePosition(ctx, 1, "KRW-SOL", 96)
	require.NoError(t, err)

	d, err := s.CheckExitConditions(ctx, 1, "KRW-SOL", 96)
	require.NoError(t, err)
	assert.True(t, d.ShouldExit)
	assert.Equal(t, model.CloseReasonEmergencyStop, d.Reason)

	h, err := s.ClosePosition(ctx, 1, "KRW-SOL", 96, d.Reason)
	require.NoError(t, err)
	assert.Equal(t, model.CloseReasonEmergencyStop, h.CloseReason)
	assert.InDelta(t, -400, h.Profit, 1e-9)
	assert.InDelta(t, -0.04, h.ProfitRate, 1e-9)
	assert.Less(t, h.Profit, 0.0)

	history, err := s.GetHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.CloseReasonEmergencyStop, history[0].CloseReason)

	open, err := s.GetOpenPositions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPartialExitReleasesCapitalAndCloseCoversWholeTrade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	_, err := s.OpenPositionWithOrder(ctx, 1, "KRW-ETH", 10000, 1, 10000, "buy-1")
	require.NoError(t, err)

	p, err := s.ReducePositionWithOrder(ctx, 1, "KRW-ETH", 11000, 0.4, "sell-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, p.Quantity, 1e-9)
	assert.InDelta(t, 6000, p.CommittedCapital, 1e-6)
	assert.InDelta(t, 4400, p.ExitedAmount, 1e-6)

	available, err := s.AvailableBudget(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100000-6000, available, 1e-6)

	_, err = s.ReducePositionWithOrder(ctx, 1, "KRW-ETH", 11000, 0.7, "sell-2")
	require.ErrorIs(t, err, ErrInvalidArgument)

	h, err := s.ClosePositionWithOrder(ctx, 1, "KRW-ETH", 9000, model.CloseReasonStopLoss, "sell-3")
	require.NoError(t, err)
	assert.InDelta(t, 1, h.Quantity, 1e-9)
	assert.InDelta(t, 10000, h.BuyAmount, 1e-6)
	assert.InDelta(t, 9800, h.SellAmount, 1e-6)
	assert.InDelta(t, -200, h.Profit, 1e-6)
	assert.InDelta(t, 9800, h.ExitPrice, 1e-6)

	logs, err := s.positions.ListLogs(ctx, 1)
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []string{model.PositionActionOpen, model.PositionActionReduce, model.PositionActionClose}, actions)
}

func TestReducePositionWithoutOpen(t *testing.T) {
	s := newTestStore(t, testConfig(1))
	_, err := s.ReducePositionWithOrder(context.Background(), 1, "KRW-ETH", 100, 0.5, "")
	require.ErrorIs(t, err, ErrNoOpenPosition)
}

func TestClosePositionWithoutOpen(t *testing.T) {
	s := newTestStore(t, testConfig(1))

	_, err := s.ClosePosition(context.Background(), 1, "KRW-BTC", 100, model.CloseReasonManual)
	require.ErrorIs(t, err, ErrNoOpenPosition)

	_, err = s.ClosePosition(context.Background(), 1, "KRW-BTC", 100, "because")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdatePositionTracksExtrema(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	_, err := s.OpenPosition(ctx, 1, "KRW-ETH", 100, 10, 1000)
	require.NoError(t, err)

	for _, mark := range []float64{104, 97, 101} {
		_, err = s.UpdatePosition(ctx, 1, "KRW-ETH", mark)
		require.NoError(t, err)
	}

	open, err := s.GetOpenPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, open, 1)
	p := open[0]
	assert.Equal(t, 104.0, p.HighestPrice)
	assert.Equal(t, 97.0, p.LowestPrice)
	assert.Equal(t, 101.0, p.CurrentPrice)
	assert.InDelta(t, 10, p.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 0.01, p.UnrealizedPnlPct, 1e-9)
	// immutable after open
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.Equal(t, 1000.0, p.CommittedCapital)

	_, err = s.UpdatePosition(ctx, 1, "KRW-XRP", 1)
	require.ErrorIs(t, err, ErrNoOpenPosition)
}

func TestReopenAfterClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1))

	_, err := s.OpenPosition(ctx, 1, "KRW-BTC", 100, 100, 10000)
	require.NoError(t, err)
	_, err = s.ClosePosition(ctx, 1, "KRW-BTC", 110, model.CloseReasonTakeProfit)
	require.NoError(t, err)
	_, err = s.OpenPosition(ctx, 1, "KRW-BTC", 105, 100, 10500)
	require.NoError(t, err)

	logs, err := s.positions.ListLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, model.PositionActionOpen, logs[0].Action)
	assert.Equal(t, model.PositionActionClose, logs[1].Action)
}

func TestOpenPositionIndexRejectsSecondOpenRow(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	row := func() *model.Position {
		return &model.Position{UserID: 1, Market: "KRW-BTC", EntryPrice: 1, Quantity: 1, CommittedCapital: 1,
			Status: model.PositionStatusOpen, OpenedAt: now}
	}
	require.NoError(t, db.Create(row()).Error)
	require.Error(t, db.Create(row()).Error)

	closed := row()
	closed.Status = model.PositionStatusClosed
	require.NoError(t, db.Create(closed).Error)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, testConfig(1), testConfig(2))

	trades := []struct {
		market string
		exit   float64
	}{
		{"KRW-A", 110}, {"KRW-B", 95}, {"KRW-C", 120},
	}
	for _, tr := range trades {
		_, err := s.OpenPosition(ctx, 1, tr.market, 100, 100, 10000)
		require.NoError(t, err)
		_, err = s.ClosePosition(ctx, 1, tr.market, tr.exit, model.CloseReasonManual)
		require.NoError(t, err)
	}
	_, err := s.OpenPosition(ctx, 2, "KRW-A", 100, 100, 10000)
	require.NoError(t, err)

	st, err := s.GetStatistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalTrades)
	assert.InDelta(t, 2.0/3.0, st.WinRate, 1e-9)
	assert.InDelta(t, 2500, st.TotalProfit, 1e-9)
	assert.InDelta(t, 2500.0/3.0, st.AvgProfitPerTrade, 1e-9)
	assert.Equal(t, int64(0), st.OpenPositions)

	empty, err := s.GetStatistics(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Statistics{}, empty)
}

func TestOpenPositionValidatesArguments(t *testing.T) {
	s := newTestStore(t, testConfig(1))
	_, err := s.OpenPosition(context.Background(), 1, "KRW-BTC", 0, 1, 1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.OpenPosition(context.Background(), 99, "KRW-BTC", 1, 1, 1)
	require.ErrorIs(t, err, ErrNoTradingConfig)
}
