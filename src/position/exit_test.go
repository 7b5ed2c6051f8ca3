package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coinpulse/src/model"
)

func TestEvaluateExitPriority(t *testing.T) {
	opened := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pos := model.Position{EntryPrice: 100, Quantity: 1, CommittedCapital: 100, OpenedAt: opened}

	base := model.UserTradingConfig{
		TakeProfitPct:      0.05,
		StopLossPct:        0.02,
		EmergencyStopPct:   0.03,
		MaxHoldingHours:    24,
		ForceCloseOnPeriod: true,
	}
	// overlapping thresholds: a negative take-profit makes any loss satisfy both
	overlap := base
	overlap.TakeProfitPct = -0.5

	cases := []struct {
		name   string
		cfg    model.UserTradingConfig
		mark   float64
		at     time.Time
		exit   bool
		reason model.CloseReason
	}{
		{"emergency beats stop loss", base, 96, opened.Add(time.Hour), true, model.CloseReasonEmergencyStop},
		{"stop loss", base, 97.5, opened.Add(time.Hour), true, model.CloseReasonStopLoss},
		{"stop loss beats take profit", overlap, 97.5, opened.Add(time.Hour), true, model.CloseReasonStopLoss},
		{"emergency beats take profit", overlap, 90, opened.Add(time.Hour), true, model.CloseReasonEmergencyStop},
		{"take profit", base, 105, opened.Add(time.Hour), true, model.CloseReasonTakeProfit},
		{"take profit beats holding period", base, 106, opened.Add(48 * time.Hour), true, model.CloseReasonTakeProfit},
		{"holding period", base, 101, opened.Add(24 * time.Hour), true, model.CloseReasonHoldingPeriod},
		{"within limits", base, 101, opened.Add(23 * time.Hour), false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := EvaluateExit(pos, tc.cfg, tc.mark, tc.at)
			assert.Equal(t, tc.exit, d.ShouldExit)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestEvaluateExitHoldingPeriodNeedsForceClose(t *testing.T) {
	opened := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pos := model.Position{EntryPrice: 100, OpenedAt: opened}
	cfg := model.UserTradingConfig{TakeProfitPct: 0.05, StopLossPct: 0.02, EmergencyStopPct: 0.03, MaxHoldingHours: 1}

	d := EvaluateExit(pos, cfg, 100, opened.Add(10*time.Hour))
	assert.False(t, d.ShouldExit)
}
