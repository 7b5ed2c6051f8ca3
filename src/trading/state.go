package trading

import (
	"time"

	"coinpulse/src/model"
)

type CycleState int32

const (
	StateIdle CycleState = iota
	StateUpdatingPositions
	StateEvaluatingExits
	StateExecutingCloses
	StateScanningEntries
	StateExecutingOpens
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUpdatingPositions:
		return "updating_positions"
	case StateEvaluatingExits:
		return "evaluating_exits"
	case StateExecutingCloses:
		return "executing_closes"
	case StateScanningEntries:
		return "scanning_entries"
	case StateExecutingOpens:
		return "executing_opens"
	}
	return "unknown"
}

const (
	StepUpdate = "update"
	StepExit   = "exit"
	StepClose  = "close"
	StepScan   = "scan"
	StepOpen   = "open"
	StepCycle  = "cycle"
)

// StepFailure is one skipped step of a cycle. Market is empty for steps that are not per market.
type StepFailure struct {
	Step   string `json:"step"`
	Market string `json:"market,omitempty"`
	Error  string `json:"error"`
}

type ClosedTrade struct {
	Market        string            `json:"market"`
	Reason        model.CloseReason `json:"reason"`
	DecisionPrice float64           `json:"decision_price"`
	ExitPrice     float64           `json:"exit_price"`
	Profit        float64           `json:"profit"`
	OrderUUID     string            `json:"order_uuid"`
}

type OpenedTrade struct {
	Market     string  `json:"market"`
	Confidence float64 `json:"confidence"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	OrderUUID  string  `json:"order_uuid"`
}

// PartialExit is an exit order that sold only part of a position. The rest stays open.
type PartialExit struct {
	Market    string            `json:"market"`
	Reason    model.CloseReason `json:"reason"`
	Sold      float64           `json:"sold"`
	Remaining float64           `json:"remaining"`
	ExitPrice float64           `json:"exit_price"`
	OrderUUID string            `json:"order_uuid"`
}

// OrphanFill is an order that executed on the exchange, or may have, but was not recorded.
// Fill holds only the order identity when the outcome is unknown.
type OrphanFill struct {
	Step  string `json:"step"`
	Fill  Fill   `json:"fill"`
	Error string `json:"error"`
}

type CycleReport struct {
	UserID           uint             `json:"user_id"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Outcome          model.RunOutcome `json:"outcome"`
	Updated          int              `json:"updated"`
	Closed           []ClosedTrade    `json:"closed,omitempty"`
	PartialExits     []PartialExit    `json:"partial_exits,omitempty"`
	Opened           []OpenedTrade    `json:"opened,omitempty"`
	Failures         []StepFailure    `json:"failures,omitempty"`
	Orphans          []OrphanFill     `json:"orphans,omitempty"`
	Candidates       int              `json:"candidates"`
	AvailableBudget  float64          `json:"available_budget"`
	EntryScanSkipped string           `json:"entry_scan_skipped,omitempty"`
}

func (r *CycleReport) fail(step, market string, err error) {
	r.Failures = append(r.Failures, StepFailure{Step: step, Market: market, Error: err.Error()})
}
