package model

import (
	"errors"
	"fmt"
	"time"
)

// UserTradingConfig holds the per-user limits the trading engine must respect.
// Thresholds are fractions: 0.05 means 5%.
type UserTradingConfig struct {
	ID                 uint      `gorm:"primaryKey" json:"id" yaml:"-"`
	UserID             uint      `gorm:"not null;uniqueIndex" json:"user_id" yaml:"-"`
	TotalBudget        float64   `gorm:"not null" json:"total_budget" yaml:"total_budget"`
	PerPositionBudget  float64   `gorm:"not null" json:"per_position_budget" yaml:"per_position_budget"`
	MaxPositions       int       `gorm:"not null" json:"max_positions" yaml:"max_positions"`
	MinOrderAmount     float64   `gorm:"not null" json:"min_order_amount" yaml:"min_order_amount"`
	TakeProfitPct      float64   `gorm:"not null" json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct        float64   `gorm:"not null" json:"stop_loss_pct" yaml:"stop_loss_pct"`
	EmergencyStopPct   float64   `gorm:"not null" json:"emergency_stop_pct" yaml:"emergency_stop_pct"`
	MaxHoldingHours    int       `gorm:"not null;default:0" json:"max_holding_hours" yaml:"max_holding_hours"`
	ForceCloseOnPeriod bool      `gorm:"not null;default:false" json:"force_close_on_period" yaml:"force_close_on_period"`
	Enabled            bool      `gorm:"not null;default:false" json:"enabled" yaml:"enabled"`
	CreatedAt          time.Time `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"-"`
}

func (UserTradingConfig) TableName() string {
	return "user_trading_configs"
}

// MaxHoldingPeriod returns the holding limit, zero when unset.
func (c UserTradingConfig) MaxHoldingPeriod() time.Duration {
	return time.Duration(c.MaxHoldingHours) * time.Hour
}

// Validate checks the config once at load time.
func (c UserTradingConfig) Validate() error {
	var errs []error
	if c.TotalBudget <= 0 {
		errs = append(errs, fmt.Errorf("total_budget must be positive, got %v", c.TotalBudget))
	}
	if c.PerPositionBudget <= 0 {
		errs = append(errs, fmt.Errorf("per_position_budget must be positive, got %v", c.PerPositionBudget))
	}
	if c.MaxPositions <= 0 {
		errs = append(errs, fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions))
	}
	if c.MinOrderAmount < 0 {
		errs = append(errs, fmt.Errorf("min_order_amount must not be negative, got %v", c.MinOrderAmount))
	}
	if c.TakeProfitPct <= 0 {
		errs = append(errs, fmt.Errorf("take_profit_pct must be positive, got %v", c.TakeProfitPct))
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		errs = append(errs, fmt.Errorf("stop_loss_pct must be in (0,1), got %v", c.StopLossPct))
	}
	if c.EmergencyStopPct <= 0 || c.EmergencyStopPct >= 1 {
		errs = append(errs, fmt.Errorf("emergency_stop_pct must be in (0,1), got %v", c.EmergencyStopPct))
	}
	if c.EmergencyStopPct > 0 && c.StopLossPct > 0 && c.EmergencyStopPct < c.StopLossPct {
		errs = append(errs, errors.New("emergency_stop_pct must not be tighter than stop_loss_pct"))
	}
	if c.ForceCloseOnPeriod && c.MaxHoldingHours <= 0 {
		errs = append(errs, errors.New("force_close_on_period requires max_holding_hours"))
	}
	return errors.Join(errs...)
}
