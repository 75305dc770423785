// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places for all persisted monetary
// values: balances, transaction amounts, prices, and realized PnL.
const MoneyScale int32 = 4

// RoundMoney rounds a decimal to the ledger's fixed precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// TransactionKind labels the operation that produced a wallet transaction.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindWithdraw TransactionKind = "withdraw"
	KindBuy      TransactionKind = "buy"
	KindSell     TransactionKind = "sell"
	// KindRollback marks a compensating credit issued when a buy fails
	// after the ledger debit already committed.
	KindRollback TransactionKind = "rollback"
)

// User is a trading account. Balance starts at zero on registration and is
// mutated only through the ledger.
type User struct {
	ID            string          `json:"id" db:"id"`
	Email         string          `json:"email" db:"email"`
	PasswordHash  string          `json:"-" db:"password_hash"`
	FullName      string          `json:"full_name" db:"full_name"`
	DOB           string          `json:"dob" db:"dob"`
	AccountNumber string          `json:"account_number" db:"account_number"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// WalletTransaction is an immutable record of one balance change.
// Once created, these are never modified or deleted. BalanceAfter is the
// account balance immediately after the record was appended.
type WalletTransaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	AmountChange decimal.Decimal `json:"amount_change" db:"amount_change"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Kind         TransactionKind `json:"kind" db:"kind"`
	Note         string          `json:"note" db:"note"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is one holding of units of an instrument at a recorded buy
// price. Active is monotone: it flips true→false exactly once, at close,
// and the position is immutable from then on.
type Position struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Instrument string          `json:"instrument" db:"instrument"`
	Units      int64           `json:"units" db:"units"`
	BuyPrice   decimal.Decimal `json:"buy_price" db:"buy_price"`
	BuyTime    time.Time       `json:"buy_time" db:"buy_time"`
	Active     bool            `json:"active" db:"active"`
}

// PositionHistory is written exactly once when a position closes.
// PnL is realized: units * (sellPrice - buyPrice).
type PositionHistory struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Instrument string          `json:"instrument" db:"instrument"`
	Units      int64           `json:"units" db:"units"`
	BuyPrice   decimal.Decimal `json:"buy_price" db:"buy_price"`
	SellPrice  decimal.Decimal `json:"sell_price" db:"sell_price"`
	PnL        decimal.Decimal `json:"pnl" db:"pnl"`
	BuyTime    time.Time       `json:"buy_time" db:"buy_time"`
	SellTime   time.Time       `json:"sell_time" db:"sell_time"`
}

// PricePoint is the simulated quote for one instrument at one tick.
// Price is always strictly positive. Change is the delta from the
// previous tick.
type PricePoint struct {
	Instrument string          `json:"ticker"`
	Price      decimal.Decimal `json:"price"`
	Change     decimal.Decimal `json:"change"`
	Time       time.Time       `json:"ts"`
}
