package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for non-positive deposit/withdraw amounts.
var ErrInvalidAmount = errors.New("engine: amount must be positive")

// InsufficientFundsError is returned when the wallet balance is below the
// required amount. No mutation has occurred when it is returned.
type InsufficientFundsError struct {
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("engine: insufficient funds: balance %s, required %s",
		e.Balance, e.Required)
}

// ReconciliationRequiredError reports that the ledger and position records
// are out of balance and need manual operator review: a credit failed
// after a close already committed, or a rollback credit failed after a
// debit. It is never silently retried and must not be masked as an
// ordinary failure.
type ReconciliationRequiredError struct {
	UserID     string
	PositionID string
	HistoryID  string
	Amount     decimal.Decimal
	Err        error
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("engine: reconciliation required for user %s (position %s, amount %s): %v",
		e.UserID, e.PositionID, e.Amount, e.Err)
}

func (e *ReconciliationRequiredError) Unwrap() error { return e.Err }
