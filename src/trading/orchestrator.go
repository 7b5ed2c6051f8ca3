package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
	"coinpulse/src/model"
	"coinpulse/src/notify"
	"coinpulse/src/position"
	"coinpulse/src/retry"
	"coinpulse/src/signal"
)

var (
	ErrCycleInProgress = errors.New("a trading cycle is already running for this user")
	ErrTradingDisabled = errors.New("trading is disabled for this user")
)

// PositionStore is the part of position.Store a cycle drives.
type PositionStore interface {
	GetOpenPositions(ctx context.Context, userID uint) ([]model.Position, error)
	UpdatePosition(ctx context.Context, userID uint, market string, mark float64) (*model.Position, error)
	CheckExitConditions(ctx context.Context, userID uint, market string, mark float64) (position.ExitDecision, error)
	ClosePositionWithOrder(ctx context.Context, userID uint, market string, price float64, reason model.CloseReason, orderUUID string) (*model.PositionHistory, error)
	ReducePositionWithOrder(ctx context.Context, userID uint, market string, price, quantity float64, orderUUID string) (*model.Position, error)
	AvailableBudget(ctx context.Context, userID uint) (float64, error)
	CanOpenNewPosition(ctx context.Context, userID uint, amount float64) (bool, error)
	OpenPositionWithOrder(ctx context.Context, userID uint, market string, price, quantity, committed float64, orderUUID string) (*model.Position, error)
}

// ExceptionCapturer persists unexpected failures. *repository.ExceptionRepository satisfies it.
type ExceptionCapturer interface {
	Capture(ctx context.Context, service, module, method, level string, userID uint, err error, contextData map[string]interface{})
}

type Config struct {
	QuoteCurrency     string
	CandidateMarkets  []string
	MaxCandidates     int
	CandleUnitMinutes int
	CandleCount       int
	OrderLot          float64
	CallTimeout       time.Duration
	OrderTimeout      time.Duration
	CycleTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		QuoteCurrency:     "KRW",
		MaxCandidates:     20,
		CandleUnitMinutes: 60,
		CandleCount:       60,
		OrderLot:          1000,
		CallTimeout:       10 * time.Second,
		OrderTimeout:      30 * time.Second,
		CycleTimeout:      2 * time.Minute,
	}
}

type Deps struct {
	Exchange   Exchange
	Executor   OrderExecutor
	Store      PositionStore
	Configs    position.ConfigProvider
	Notifier   notify.Notifier
	Exceptions ExceptionCapturer
}

// Orchestrator runs the trading cycle of one user. Cycles of the same
// orchestrator never overlap.
type Orchestrator struct {
	userID uint
	deps   Deps
	cfg    Config

	running atomic.Bool
	state   atomic.Int32
	now     func() time.Time
}

func NewOrchestrator(userID uint, deps Deps, cfg Config) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	if cfg.CandleCount < signal.MinHistory {
		cfg.CandleCount = signal.MinHistory
	}
	return &Orchestrator{userID: userID, deps: deps, cfg: cfg, now: time.Now}
}

func (o *Orchestrator) UserID() uint {
	return o.userID
}

// State is the step the running cycle is in, StateIdle between cycles.
func (o *Orchestrator) State() CycleState {
	return CycleState(o.state.Load())
}

func (o *Orchestrator) setState(s CycleState) {
	o.state.Store(int32(s))
}

func (o *Orchestrator) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "Orchestrator",
		"user_id":   o.userID,
	})
}

// RunCycle runs one full cycle: update marks, evaluate and execute exits, then
// scan and execute entries. Per-market failures are collected in the report and
// never stop the cycle. An error is returned only when the cycle did not run.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{UserID: o.userID, StartedAt: o.now(), Outcome: model.OutcomeNotExecuted}
	if !o.running.CompareAndSwap(false, true) {
		return report, ErrCycleInProgress
	}
	defer o.running.Store(false)
	defer o.setState(StateIdle)

	if o.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CycleTimeout)
		defer cancel()
	}

	log := o.log()
	cfg, err := o.deps.Configs.TradingConfig(ctx, o.userID)
	if err != nil {
		log.WithError(err).Error("cycle not started: trading config unavailable")
		return o.finish(report), err
	}
	if !cfg.Enabled {
		return o.finish(report), ErrTradingDisabled
	}
	open, err := o.deps.Store.GetOpenPositions(ctx, o.userID)
	if err != nil {
		log.WithError(err).Error("cycle not started: open positions unavailable")
		return o.finish(report), fmt.Errorf("load open positions: %w", err)
	}

	o.setState(StateUpdatingPositions)
	marks := o.updatePositions(ctx, open, &report)

	o.setState(StateEvaluatingExits)
	exits := o.evaluateExits(ctx, open, marks, &report)

	o.setState(StateExecutingCloses)
	o.executeCloses(ctx, exits, &report)

	o.setState(StateScanningEntries)
	candidates, slots := o.scanEntries(ctx, cfg, &report)

	o.setState(StateExecutingOpens)
	o.executeOpens(ctx, cfg, candidates, slots, &report)

	if err := ctx.Err(); err != nil {
		report.fail(StepCycle, "", err)
	}
	report.Outcome = model.OutcomeSucceeded
	if len(report.Failures) > 0 || len(report.Orphans) > 0 {
		report.Outcome = model.OutcomePartial
	}
	report = o.finish(report)

	log.WithFields(map[string]interface{}{
		"outcome":  report.Outcome,
		"updated":  report.Updated,
		"closed":   len(report.Closed),
		"opened":   len(report.Opened),
		"failures": len(report.Failures),
		"orphans":  len(report.Orphans),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("cycle finished")
	return report, nil
}

func (o *Orchestrator) finish(r CycleReport) CycleReport {
	r.FinishedAt = o.now()
	return r
}

// call bounds one exchange read by the per-call timeout and retries transient failures.
func call[T any](ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, retry.Default, op, func(ctx context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

// settleCtx is used for store writes after an order is confirmed: the fill already
// happened, so the record must not be lost to the cycle deadline.
func (o *Orchestrator) settleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
}

func (o *Orchestrator) updatePositions(ctx context.Context, open []model.Position, report *CycleReport) map[string]float64 {
	marks := make(map[string]float64, len(open))
	for _, p := range open {
		price, err := call(ctx, o, "get current price", func(ctx context.Context) (float64, error) {
			return o.deps.Exchange.GetCurrentPrice(ctx, p.Market)
		})
		if err != nil {
			report.fail(StepUpdate, p.Market, err)
			continue
		}
		if _, err := o.deps.Store.UpdatePosition(ctx, o.userID, p.Market, price); err != nil {
			report.fail(StepUpdate, p.Market, err)
			continue
		}
		marks[p.Market] = price
		report.Updated++
	}
	return marks
}

type pendingExit struct {
	position model.Position
	decision position.ExitDecision
	mark     float64
}

func (o *Orchestrator) evaluateExits(ctx context.Context, open []model.Position, marks map[string]float64, report *CycleReport) []pendingExit {
	var exits []pendingExit
	for _, p := range open {
		mark, ok := marks[p.Market]
		if !ok {
			continue
		}
		d, err := o.deps.Store.CheckExitConditions(ctx, o.userID, p.Market, mark)
		if err != nil {
			report.fail(StepExit, p.Market, err)
			continue
		}
		if d.ShouldExit {
			exits = append(exits, pendingExit{position: p, decision: d, mark: mark})
		}
	}
	return exits
}

func (o *Orchestrator) executeCloses(ctx context.Context, exits []pendingExit, report *CycleReport) {
	for _, ex := range exits {
		if err := ctx.Err(); err != nil {
			report.fail(StepClose, ex.position.Market, err)
			continue
		}
		market := ex.position.Market
		log := o.log().WithFields(map[string]interface{}{
			"market": market,
			"reason": ex.decision.Reason,
		})

		orderCtx, cancel := context.WithTimeout(ctx, o.cfg.OrderTimeout)
		fill, err := o.deps.Executor.Sell(orderCtx, market, ex.position.Quantity)
		cancel()
		if err != nil {
			if !o.unconfirmed(ctx, StepClose, err, report) {
				log.WithError(err).Error("exit order failed, position stays open")
				report.fail(StepClose, market, err)
			}
			continue
		}
		if ex.position.Quantity-fill.Quantity > quantityEpsilon {
			o.recordPartialExit(ctx, ex, fill, report)
			continue
		}

		storeCtx, cancel := o.settleCtx(ctx)
		hist, err := o.deps.Store.ClosePositionWithOrder(storeCtx, o.userID, market, fill.Price, ex.decision.Reason, fill.OrderUUID)
		cancel()
		if err != nil {
			o.orphan(ctx, StepClose, fill, err, report)
			continue
		}

		report.Closed = append(report.Closed, ClosedTrade{
			Market:        market,
			Reason:        ex.decision.Reason,
			DecisionPrice: ex.mark,
			ExitPrice:     fill.Price,
			Profit:        hist.Profit,
			OrderUUID:     fill.OrderUUID,
		})
		o.deps.Notifier.Notify(ctx, o.userID, notify.EventPositionClosed, map[string]interface{}{
			"market":      market,
			"reason":      ex.decision.Reason,
			"exit_price":  fill.Price,
			"profit":      hist.Profit,
			"profit_rate": hist.ProfitRate,
		})
	}
}

// quantityEpsilon is the smallest volume step of the exchange.
const quantityEpsilon = 1e-8

// recordPartialExit books the sold part of a position whose exit order did not fill
// completely. The remainder stays open for the next cycle.
func (o *Orchestrator) recordPartialExit(ctx context.Context, ex pendingExit, fill Fill, report *CycleReport) {
	market := ex.position.Market
	storeCtx, cancel := o.settleCtx(ctx)
	p, err := o.deps.Store.ReducePositionWithOrder(storeCtx, o.userID, market, fill.Price, fill.Quantity, fill.OrderUUID)
	cancel()
	if err != nil {
		o.orphan(ctx, StepClose, fill, err, report)
		return
	}

	report.PartialExits = append(report.PartialExits, PartialExit{
		Market:    market,
		Reason:    ex.decision.Reason,
		Sold:      fill.Quantity,
		Remaining: p.Quantity,
		ExitPrice: fill.Price,
		OrderUUID: fill.OrderUUID,
	})
	report.fail(StepClose, market, fmt.Errorf("%w: sold %v of %v", ErrPartialFill, fill.Quantity, ex.position.Quantity))
	o.log().WithFields(map[string]interface{}{
		"market":     market,
		"sold":       fill.Quantity,
		"remaining":  p.Quantity,
		"order_uuid": fill.OrderUUID,
	}).Warn("exit order partly filled, position stays open")
}

// unconfirmed reports an order whose outcome is unknown as an orphan so the ledger
// can settle it. It returns false for any other error.
func (o *Orchestrator) unconfirmed(ctx context.Context, step string, err error, report *CycleReport) bool {
	var uerr *UnconfirmedOrderError
	if !errors.As(err, &uerr) {
		return false
	}
	o.orphan(ctx, step, Fill{OrderUUID: uerr.OrderUUID, Market: uerr.Market, Side: uerr.Side}, err, report)
	return true
}

// orphan reports an order that executed, or may have, without a store record.
func (o *Orchestrator) orphan(ctx context.Context, step string, fill Fill, err error, report *CycleReport) {
	report.Orphans = append(report.Orphans, OrphanFill{Step: step, Fill: fill, Error: err.Error()})
	data := map[string]interface{}{
		"step":       step,
		"market":     fill.Market,
		"order_uuid": fill.OrderUUID,
		"price":      fill.Price,
		"quantity":   fill.Quantity,
		"funds":      fill.Funds,
	}
	o.log().WithFields(data).WithError(err).Error("order executed but was not recorded")
	if o.deps.Exceptions != nil {
		o.deps.Exceptions.Capture(context.WithoutCancel(ctx), "trading", "Orchestrator", step, "error", o.userID, err, data)
	}
	o.deps.Notifier.Notify(ctx, o.userID, notify.EventOrphanFill, data)
}

// scanEntries returns the ranked buy candidates and the number of free position
// slots. It returns no candidates when entries are skipped this cycle.
func (o *Orchestrator) scanEntries(ctx context.Context, cfg model.UserTradingConfig, report *CycleReport) ([]Candidate, int) {
	available, err := o.deps.Store.AvailableBudget(ctx, o.userID)
	if err != nil {
		report.fail(StepScan, "", err)
		report.EntryScanSkipped = "available budget unknown"
		return nil, 0
	}
	report.AvailableBudget = available
	if available < cfg.MinOrderAmount || available <= 0 {
		report.EntryScanSkipped = "available budget below minimum order amount"
		return nil, 0
	}

	open, err := o.deps.Store.GetOpenPositions(ctx, o.userID)
	if err != nil {
		report.fail(StepScan, "", err)
		report.EntryScanSkipped = "open positions unknown"
		return nil, 0
	}
	slots := cfg.MaxPositions - len(open)
	if slots <= 0 {
		report.EntryScanSkipped = "max positions reached"
		return nil, 0
	}

	exclude := make(map[string]bool, len(open))
	for _, p := range open {
		exclude[p.Market] = true
	}
	accounts, err := call(ctx, o, "get accounts", o.deps.Exchange.GetAccounts)
	if err != nil {
		report.fail(StepScan, "", err)
		report.EntryScanSkipped = "account balances unknown"
		return nil, 0
	}
	for _, m := range o.heldMarkets(accounts, cfg.MinOrderAmount) {
		exclude[m] = true
	}

	universe, err := o.universe(ctx)
	if err != nil {
		report.fail(StepScan, "", err)
		report.EntryScanSkipped = "market list unavailable"
		return nil, 0
	}
	markets := make([]string, 0, len(universe))
	for _, m := range universe {
		if !exclude[m] {
			markets = append(markets, m)
		}
	}
	if len(markets) == 0 {
		return nil, slots
	}

	tickers := make(map[string]connectors.Ticker, len(markets))
	if ts, err := call(ctx, o, "get tickers", func(ctx context.Context) ([]connectors.Ticker, error) {
		return o.deps.Exchange.GetTickers(ctx, markets)
	}); err != nil {
		// candles still give a price; only the change-rate tie break is lost
		report.fail(StepScan, "", err)
	} else {
		for _, t := range ts {
			tickers[t.Market] = t
		}
	}

	var candidates []Candidate
	for _, m := range markets {
		if ctx.Err() != nil {
			report.fail(StepScan, m, ctx.Err())
			break
		}
		candles, err := call(ctx, o, "get candles", func(ctx context.Context) ([]connectors.Candle, error) {
			return o.deps.Exchange.GetCandles(ctx, m, o.cfg.CandleUnitMinutes, o.cfg.CandleCount)
		})
		if err != nil {
			report.fail(StepScan, m, err)
			continue
		}
		history := closes(candles)
		if len(history) == 0 {
			continue
		}

		price := history[len(history)-1]
		t, ok := tickers[m]
		if ok && t.TradePrice > 0 {
			price = t.TradePrice
		}
		res := signal.Analyze(m, price, history)
		candidates = append(candidates, Candidate{
			Market:     m,
			Price:      price,
			ChangeRate: t.SignedChangeRate,
			Analysis:   res,
		})
	}

	ranked := RankCandidates(candidates)
	report.Candidates = len(ranked)
	return ranked, slots
}

// closes turns newest-first candles into an oldest-first close series.
func closes(candles []connectors.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].TradePrice > 0 {
			out = append(out, candles[i].TradePrice)
		}
	}
	return out
}

// heldMarkets lists the markets of balances worth at least minValue in the quote currency.
func (o *Orchestrator) heldMarkets(accounts []connectors.Account, minValue float64) []string {
	threshold := decimal.NewFromFloat(minValue)
	var out []string
	for _, a := range accounts {
		if a.Currency == "" || a.Currency == o.cfg.QuoteCurrency {
			continue
		}
		if a.UnitCurrency != "" && a.UnitCurrency != o.cfg.QuoteCurrency {
			continue
		}
		value := a.Holding().Mul(a.AvgBuyPrice)
		if value.IsPositive() && value.GreaterThanOrEqual(threshold) {
			out = append(out, o.cfg.QuoteCurrency+"-"+a.Currency)
		}
	}
	return out
}

// universe is the configured candidate list, or every market quoted in the quote
// currency, capped at MaxCandidates.
func (o *Orchestrator) universe(ctx context.Context) ([]string, error) {
	markets := o.cfg.CandidateMarkets
	if len(markets) == 0 {
		all, err := call(ctx, o, "get markets", o.deps.Exchange.GetMarkets)
		if err != nil {
			return nil, err
		}
		prefix := o.cfg.QuoteCurrency + "-"
		for _, m := range all {
			if strings.HasPrefix(m, prefix) {
				markets = append(markets, m)
			}
		}
	}
	if o.cfg.MaxCandidates > 0 && len(markets) > o.cfg.MaxCandidates {
		markets = markets[:o.cfg.MaxCandidates]
	}
	return markets, nil
}

func (o *Orchestrator) executeOpens(ctx context.Context, cfg model.UserTradingConfig, candidates []Candidate, slots int, report *CycleReport) {
	available := report.AvailableBudget
	for _, c := range candidates {
		if slots <= 0 {
			return
		}
		if err := ctx.Err(); err != nil {
			report.fail(StepOpen, c.Market, err)
			return
		}

		amount := OrderAmount(available, slots, cfg.PerPositionBudget, o.cfg.OrderLot)
		if amount <= 0 || amount < cfg.MinOrderAmount {
			return
		}
		ok, err := o.deps.Store.CanOpenNewPosition(ctx, o.userID, amount)
		if err != nil {
			report.fail(StepOpen, c.Market, err)
			return
		}
		if !ok {
			return
		}

		log := o.log().WithFields(map[string]interface{}{
			"market":     c.Market,
			"amount":     amount,
			"confidence": c.Analysis.Confidence,
		})
		orderCtx, cancel := context.WithTimeout(ctx, o.cfg.OrderTimeout)
		fill, err := o.deps.Executor.Buy(orderCtx, c.Market, amount)
		cancel()
		if err != nil {
			if o.unconfirmed(ctx, StepOpen, err, report) {
				// the funds may be gone
				available -= amount
				slots--
				continue
			}
			log.WithError(err).Error("entry order failed")
			report.fail(StepOpen, c.Market, err)
			continue
		}

		// the funds left the account whether or not the store records them
		available -= fill.Funds
		slots--

		storeCtx, cancel := o.settleCtx(ctx)
		_, err = o.deps.Store.OpenPositionWithOrder(storeCtx, o.userID, c.Market, fill.Price, fill.Quantity, fill.Funds, fill.OrderUUID)
		cancel()
		if err != nil {
			o.orphan(ctx, StepOpen, fill, err, report)
			continue
		}

		report.Opened = append(report.Opened, OpenedTrade{
			Market:     c.Market,
			Confidence: c.Analysis.Confidence,
			Amount:     amount,
			Price:      fill.Price,
			Quantity:   fill.Quantity,
			OrderUUID:  fill.OrderUUID,
		})
		o.deps.Notifier.Notify(ctx, o.userID, notify.EventPositionOpened, map[string]interface{}{
			"market":     c.Market,
			"price":      fill.Price,
			"quantity":   fill.Quantity,
			"funds":      fill.Funds,
			"confidence": c.Analysis.Confidence,
			"reason":     c.Analysis.Reason,
		})
	}
}
