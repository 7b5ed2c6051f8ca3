package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"coinpulse/src/ledger"
	"coinpulse/src/scheduler"
	"coinpulse/src/trading"
)

type Config struct {
	DryRun           bool    `envconfig:"DRY_RUN" default:"false"`
	SimulatedFeeRate float64 `envconfig:"SIMULATED_FEE_RATE" default:"0.0005"`

	QuoteCurrency     string        `envconfig:"QUOTE_CURRENCY" default:"KRW"`
	CandidateMarkets  []string      `envconfig:"CANDIDATE_MARKETS"`
	MaxCandidates     int           `envconfig:"MAX_CANDIDATES" default:"20"`
	CandleCount       int           `envconfig:"CANDLE_COUNT" default:"60"`
	OrderLot          float64       `envconfig:"ORDER_LOT" default:"1000"`
	CallTimeout       time.Duration `envconfig:"EXCHANGE_CALL_TIMEOUT" default:"10s"`
	OrderTimeout      time.Duration `envconfig:"ORDER_TIMEOUT" default:"30s"`
	OrderPollInterval time.Duration `envconfig:"ORDER_POLL_INTERVAL" default:"500ms"`
	OrderFillTimeout  time.Duration `envconfig:"ORDER_FILL_TIMEOUT" default:"15s"`

	CycleInterval       time.Duration `envconfig:"CYCLE_INTERVAL" default:"1m"`
	CycleTimeout        time.Duration `envconfig:"CYCLE_TIMEOUT" default:"2m"`
	UserRefreshInterval time.Duration `envconfig:"USER_REFRESH_INTERVAL" default:"5m"`

	SyncInterval        time.Duration `envconfig:"SYNC_INTERVAL" default:"1m"`
	SyncTimeout         time.Duration `envconfig:"SYNC_TIMEOUT" default:"5m"`
	SyncPageDelay       time.Duration `envconfig:"SYNC_PAGE_DELAY" default:"200ms"`
	MaxIncrementalPages int           `envconfig:"SYNC_MAX_INCREMENTAL_PAGES" default:"5"`
	FullSyncInterval    time.Duration `envconfig:"FULL_SYNC_INTERVAL" default:"24h"`
	FullSyncMaxOrders   int           `envconfig:"FULL_SYNC_MAX_ORDERS" default:"2000"`

	TradingDefaultsFile string        `envconfig:"TRADING_DEFAULTS_FILE" default:""`
	ConfigCacheTTL      time.Duration `envconfig:"TRADING_CONFIG_CACHE_TTL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) Trading(candleUnitMinutes int) trading.Config {
	cfg := trading.DefaultConfig()
	cfg.QuoteCurrency = c.QuoteCurrency
	cfg.CandidateMarkets = c.CandidateMarkets
	cfg.MaxCandidates = c.MaxCandidates
	cfg.CandleCount = c.CandleCount
	cfg.OrderLot = c.OrderLot
	cfg.CallTimeout = c.CallTimeout
	cfg.OrderTimeout = c.OrderTimeout
	cfg.CycleTimeout = c.CycleTimeout
	if candleUnitMinutes > 0 {
		cfg.CandleUnitMinutes = candleUnitMinutes
	}
	return cfg
}

func (c Config) Ledger() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.PageDelay = c.SyncPageDelay
	cfg.MaxIncrementalPages = c.MaxIncrementalPages
	cfg.BaselineMaxOrders = c.FullSyncMaxOrders
	return cfg
}

func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		SyncInterval:        c.SyncInterval,
		FullSyncInterval:    c.FullSyncInterval,
		FullSyncMaxOrders:   c.FullSyncMaxOrders,
		SyncTimeout:         c.SyncTimeout,
		CycleInterval:       c.CycleInterval,
		CycleTimeout:        c.CycleTimeout,
		UserRefreshInterval: c.UserRefreshInterval,
	}
}
