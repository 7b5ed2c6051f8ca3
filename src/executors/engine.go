package executors

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/connectors"
	"coinpulse/src/ledger"
	"coinpulse/src/notify"
	"coinpulse/src/position"
	"coinpulse/src/repository"
	"coinpulse/src/scheduler"
	"coinpulse/src/trading"
)

// Engine holds every long-lived component of the trading process.
type Engine struct {
	Config     Config
	Clients    *ClientFactory
	Configs    *position.DBConfigProvider
	Store      *position.Store
	Syncer     *ledger.Syncer
	Scheduler  *scheduler.Scheduler
	Notifier   notify.Notifier
	Exceptions *repository.ExceptionRepository
	Orders     *repository.OrderRepository
	Users      *repository.UserRepository

	exchanges   *repository.UserExchangeRepository
	exchangeCfg connectors.Config
}

func NewEngine(db *gorm.DB, cfg Config, exchangeCfg connectors.Config, notifier notify.Notifier) (*Engine, error) {
	defaults, err := position.LoadDefaults(cfg.TradingDefaultsFile)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	configs := position.NewDBConfigProvider((&repository.TradingConfigRepository{}).WithDB(db), defaults, cfg.ConfigCacheTTL)
	clients := NewClientFactory(db, exchangeCfg, connectors.SharedRateLimiter())

	e := &Engine{
		Config:      cfg,
		Clients:     clients,
		Configs:     configs,
		Store:       position.NewStore(db, configs),
		Syncer:      ledger.NewSyncer(db, clients.HistorySource, cfg.Ledger()),
		Notifier:    notifier,
		Exceptions:  (&repository.ExceptionRepository{}).WithDB(db),
		Orders:      (&repository.OrderRepository{}).WithDB(db),
		Users:       (&repository.UserRepository{}).WithDB(db),
		exchanges:   (&repository.UserExchangeRepository{}).WithDB(db),
		exchangeCfg: exchangeCfg,
	}
	e.Scheduler = scheduler.New(cfg.Scheduler(), scheduler.Deps{
		Syncer:       e.Syncer,
		Runners:      e.runner,
		SyncUsers:    e.SyncUserIDs,
		TradingUsers: e.TradingUserIDs,
		Notifier:     notifier,
		Exceptions:   e.Exceptions,
	})
	return e, nil
}

// Orchestrator builds the trading cycle of one user. DRY_RUN selects the simulated executor.
func (e *Engine) Orchestrator(ctx context.Context, userID uint) (*trading.Orchestrator, error) {
	client, err := e.Clients.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	var executor trading.OrderExecutor
	if e.Config.DryRun {
		executor = trading.NewSimulatedExecutor(client, e.Config.SimulatedFeeRate)
	} else {
		executor = trading.NewLiveExecutor(client, e.Config.OrderPollInterval, e.Config.OrderFillTimeout)
	}

	return trading.NewOrchestrator(userID, trading.Deps{
		Exchange:   client,
		Executor:   executor,
		Store:      e.Store,
		Configs:    e.Configs,
		Notifier:   e.Notifier,
		Exceptions: e.Exceptions,
	}, e.Config.Trading(e.exchangeCfg.CandleUnitMinutes)), nil
}

func (e *Engine) runner(ctx context.Context, userID uint) (scheduler.CycleRunner, error) {
	o, err := e.Orchestrator(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// SyncUserIDs lists active users with stored exchange credentials.
func (e *Engine) SyncUserIDs(ctx context.Context) ([]uint, error) {
	withKeys, err := e.exchanges.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users with credentials: %w", err)
	}
	active, err := e.Users.ListActiveIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return intersect(withKeys, active), nil
}

// TradingUserIDs lists the sync users whose trading config is valid and enabled.
// A user with an invalid config is left out and logged.
func (e *Engine) TradingUserIDs(ctx context.Context) ([]uint, error) {
	e.Configs.Invalidate()
	candidates, err := e.SyncUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	var out []uint
	for _, id := range candidates {
		cfg, err := e.Configs.TradingConfig(ctx, id)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "Engine",
				"user_id":   id,
			}).WithError(err).Warn("trading disabled for user")
			continue
		}
		if cfg.Enabled {
			out = append(out, id)
		}
	}
	return out, nil
}

func intersect(a, b []uint) []uint {
	set := make(map[uint]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	var out []uint
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
