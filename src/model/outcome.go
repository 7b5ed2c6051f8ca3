package model

// RunOutcome tells callers whether a sync or cycle ran, ran with failures, or ran cleanly.
type RunOutcome string

const (
	OutcomeNotExecuted RunOutcome = "not_executed"
	OutcomePartial     RunOutcome = "partial"
	OutcomeSucceeded   RunOutcome = "succeeded"
)
