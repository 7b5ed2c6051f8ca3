package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	UpbitBaseURL   string        `envconfig:"UPBIT_BASE_URL" default:"https://api.upbit.com"`
	RequestTimeout time.Duration `envconfig:"EXCHANGE_REQUEST_TIMEOUT" default:"10s"`

	// Shared budget for every exchange call made by this process.
	RateLimitPerSecond float64       `envconfig:"EXCHANGE_RATE_LIMIT_PER_SECOND" default:"8"`
	RateLimitBurst     int           `envconfig:"EXCHANGE_RATE_LIMIT_BURST" default:"4"`
	RateLimitPenalty   time.Duration `envconfig:"EXCHANGE_RATE_LIMIT_PENALTY" default:"1s"`
	RateLimitMaxPause  time.Duration `envconfig:"EXCHANGE_RATE_LIMIT_MAX_PAUSE" default:"30s"`

	CandleUnitMinutes int `envconfig:"CANDLE_UNIT_MINUTES" default:"60"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
