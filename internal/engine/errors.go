package engine

import (
	"context"
	"errors"
	"fmt"
)

// BudgetExceededError stops a turn once the running cost estimate crosses
// the caller-supplied ceiling.
type BudgetExceededError struct {
	SpentUSD float64
	LimitUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f", e.SpentUSD, e.LimitUSD)
}

// IsBudgetExceeded reports whether err is a budget stop.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// IsCancelled reports whether err is a cancellation rather than a failure,
// so callers can avoid rendering it as an error.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
