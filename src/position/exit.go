package position

import (
	"time"

	"coinpulse/src/model"
)

// ExitDecision is the outcome of an exit check. Reason is set only when ShouldExit is true.
type ExitDecision struct {
	ShouldExit bool              `json:"should_exit"`
	Reason     model.CloseReason `json:"reason,omitempty"`
	PnlPct     float64           `json:"pnl_pct"`
}

// EvaluateExit applies the exit rules in priority order: emergency stop, stop loss,
// take profit, then holding period when force close is enabled. The first match wins.
func EvaluateExit(p model.Position, cfg model.UserTradingConfig, mark float64, now time.Time) ExitDecision {
	if p.EntryPrice <= 0 || mark <= 0 {
		return ExitDecision{}
	}
	pnl := (mark - p.EntryPrice) / p.EntryPrice
	d := ExitDecision{PnlPct: pnl}

	switch {
	case cfg.EmergencyStopPct > 0 && pnl <= -cfg.EmergencyStopPct:
		d.Reason = model.CloseReasonEmergencyStop
	case cfg.StopLossPct > 0 && pnl <= -cfg.StopLossPct:
		d.Reason = model.CloseReasonStopLoss
	case cfg.TakeProfitPct > 0 && pnl >= cfg.TakeProfitPct:
		d.Reason = model.CloseReasonTakeProfit
	case cfg.ForceCloseOnPeriod && cfg.MaxHoldingHours > 0 && now.Sub(p.OpenedAt) >= cfg.MaxHoldingPeriod():
		d.Reason = model.CloseReasonHoldingPeriod
	default:
		return d
	}
	d.ShouldExit = true
	return d
}

// applyMark recomputes the mark-to-market fields of p at price mark.
func applyMark(p *model.Position, mark float64) {
	p.CurrentPrice = mark
	p.CurrentValue = mark * p.Quantity
	p.UnrealizedPnl = p.CurrentValue - p.CommittedCapital
	if p.CommittedCapital > 0 {
		p.UnrealizedPnlPct = p.UnrealizedPnl / p.CommittedCapital
	}
	if mark > p.HighestPrice {
		p.HighestPrice = mark
	}
	if p.LowestPrice == 0 || mark < p.LowestPrice {
		p.LowestPrice = mark
	}
}
