package position

import "errors"

var (
	ErrPositionExists  = errors.New("an open position already exists for this market")
	ErrNoOpenPosition  = errors.New("no open position for this market")
	ErrBudgetExceeded  = errors.New("order would exceed the budget ceiling")
	ErrMaxPositions    = errors.New("maximum number of open positions reached")
	ErrInvalidArgument = errors.New("invalid position argument")
	ErrNoTradingConfig = errors.New("user has no trading config")
	ErrInvalidConfig   = errors.New("invalid trading config")
)

// IsRejection reports the expected refusals of an open or close.
// They leave stored state untouched and only skip the current step.
func IsRejection(err error) bool {
	return errors.Is(err, ErrPositionExists) ||
		errors.Is(err, ErrNoOpenPosition) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrMaxPositions) ||
		errors.Is(err, ErrInvalidArgument)
}
