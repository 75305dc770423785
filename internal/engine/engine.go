// Package engine orchestrates buy/sell/deposit/withdraw requests against
// the price simulator, the wallet ledger, and the position manager as one
// logical unit of work per request.
//
// Each request holds a per-user lock for its whole read-check-mutate span,
// so two concurrent requests for the same user can never interleave a
// balance check with another request's debit. Requests for different users
// proceed independently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/ledger"
	"github.com/stockdash/trading-engine/internal/market"
	"github.com/stockdash/trading-engine/internal/metrics"
	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/position"
)

// PriceSource provides current simulated quotes. Satisfied by
// *market.Simulator.
type PriceSource interface {
	Supported(instrument string) bool
	CurrentPrice(instrument string) (decimal.Decimal, error)
}

// Notifier delivers out-of-band user notifications. Delivery is
// fire-and-forget: the engine emits only after a transaction commits and
// never depends on delivery success.
type Notifier interface {
	Notify(userID, kind, message string)
}

// Engine owns the cross-component transaction boundary.
type Engine struct {
	ledger    *ledger.Ledger
	positions *position.Manager
	prices    PriceSource
	notifier  Notifier // optional; nil disables notifications
	locks     userLocks
}

// New creates a trading engine. Pass nil for notifier if out-of-band
// notifications are not needed.
func New(l *ledger.Ledger, p *position.Manager, prices PriceSource, notifier Notifier) *Engine {
	return &Engine{
		ledger:    l,
		positions: p,
		prices:    prices,
		notifier:  notifier,
	}
}

// BuyResult reports a successful buy.
type BuyResult struct {
	PositionID   string
	BalanceAfter decimal.Decimal
}

// SellResult reports a successful sell.
type SellResult struct {
	PnL          decimal.Decimal
	BalanceAfter decimal.Decimal
	HistoryID    string
}

// Buy executes an instant purchase of units at the current simulated
// price: debit the wallet, open a position. If opening the position fails
// after the debit committed, the debit is rolled back with a compensating
// credit before returning, so money is never deducted with no position
// created.
func (e *Engine) Buy(ctx context.Context, userID, instrument string, units int64) (BuyResult, error) {
	if !e.prices.Supported(instrument) {
		return BuyResult{}, fmt.Errorf("%s: %w", instrument, market.ErrUnknownInstrument)
	}
	if units <= 0 {
		return BuyResult{}, position.ErrInvalidUnits
	}

	// The mutation is not connection-scoped: once started it completes or
	// rolls back even if the caller's connection drops.
	ctx = context.WithoutCancel(ctx)

	mu := e.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	price, err := e.prices.CurrentPrice(instrument)
	if err != nil {
		return BuyResult{}, err
	}
	cost := model.RoundMoney(price.Mul(decimal.NewFromInt(units)))

	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		return BuyResult{}, err
	}
	if balance.LessThan(cost) {
		return BuyResult{}, &InsufficientFundsError{Balance: balance, Required: cost}
	}

	note := fmt.Sprintf("buy %s x%d @%s", instrument, units, price)
	balanceAfter, _, err := e.ledger.ApplyChange(ctx, userID, cost.Neg(), model.KindBuy, note)
	if err != nil {
		return BuyResult{}, err
	}

	positionID, err := e.positions.Open(ctx, userID, instrument, units, price)
	if err != nil {
		if _, _, rbErr := e.ledger.ApplyChange(ctx, userID, cost, model.KindRollback, "rollback "+note); rbErr != nil {
			recErr := &ReconciliationRequiredError{
				UserID: userID,
				Amount: cost,
				Err:    errors.Join(err, rbErr),
			}
			metrics.ReconciliationsTotal.Inc()
			slog.Error("buy rollback failed, manual reconciliation required",
				"user", userID, "instrument", instrument, "amount", cost.String(), "err", recErr.Err)
			return BuyResult{}, recErr
		}
		slog.Warn("buy rolled back after position open failed",
			"user", userID, "instrument", instrument, "err", err)
		return BuyResult{}, err
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	slog.Info("position opened",
		"user", userID,
		"position", positionID,
		"instrument", instrument,
		"units", units,
		"price", price.String(),
		"cost", cost.String(),
	)

	e.notify(userID, "trade", fmt.Sprintf("Bought %s x%d @ %s", instrument, units, price))
	return BuyResult{PositionID: positionID, BalanceAfter: balanceAfter}, nil
}

// Sell closes an active position at the current simulated price and
// credits the proceeds. Closed positions are immutable: if the credit
// fails after the close committed, the close is not reversed; the error
// is surfaced as ReconciliationRequiredError for manual operator review.
func (e *Engine) Sell(ctx context.Context, userID, positionID string) (SellResult, error) {
	ctx = context.WithoutCancel(ctx)

	mu := e.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	pos, err := e.positions.GetActive(ctx, positionID, userID)
	if err != nil {
		return SellResult{}, err
	}

	price, err := e.prices.CurrentPrice(pos.Instrument)
	if err != nil {
		return SellResult{}, err
	}

	res, err := e.positions.Close(ctx, positionID, userID, price)
	if err != nil {
		return SellResult{}, err
	}

	proceeds := model.RoundMoney(price.Mul(decimal.NewFromInt(pos.Units)))
	note := fmt.Sprintf("sell %s x%d @%s", pos.Instrument, pos.Units, price)

	balanceAfter, _, err := e.ledger.ApplyChange(ctx, userID, proceeds, model.KindSell, note)
	if err != nil {
		recErr := &ReconciliationRequiredError{
			UserID:     userID,
			PositionID: positionID,
			HistoryID:  res.HistoryID,
			Amount:     proceeds,
			Err:        err,
		}
		metrics.ReconciliationsTotal.Inc()
		slog.Error("sell credit failed after close, manual reconciliation required",
			"user", userID, "position", positionID, "amount", proceeds.String(), "err", err)
		return SellResult{}, recErr
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	slog.Info("position closed",
		"user", userID,
		"position", positionID,
		"instrument", pos.Instrument,
		"units", pos.Units,
		"price", price.String(),
		"pnl", res.PnL.String(),
	)

	e.notify(userID, "trade",
		fmt.Sprintf("Sold %s x%d @ %s (PnL %s)", pos.Instrument, pos.Units, price, res.PnL))
	return SellResult{PnL: res.PnL, BalanceAfter: balanceAfter, HistoryID: res.HistoryID}, nil
}

// Deposit credits the wallet.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	ctx = context.WithoutCancel(ctx)

	mu := e.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	balanceAfter, _, err := e.ledger.ApplyChange(ctx, userID, amount, model.KindDeposit, "deposit")
	if err != nil {
		return decimal.Zero, err
	}

	e.notify(userID, "wallet",
		fmt.Sprintf("deposit added: %s. Balance: %s", model.RoundMoney(amount), balanceAfter))
	return balanceAfter, nil
}

// Withdraw debits the wallet after checking sufficiency. Never produces a
// negative balance.
func (e *Engine) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	ctx = context.WithoutCancel(ctx)

	mu := e.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.LessThan(amount) {
		return decimal.Zero, &InsufficientFundsError{Balance: balance, Required: model.RoundMoney(amount)}
	}

	balanceAfter, _, err := e.ledger.ApplyChange(ctx, userID, amount.Neg(), model.KindWithdraw, "withdraw")
	if err != nil {
		return decimal.Zero, err
	}

	e.notify(userID, "wallet",
		fmt.Sprintf("withdraw deducted: %s. Balance: %s", model.RoundMoney(amount), balanceAfter))
	return balanceAfter, nil
}

func (e *Engine) notify(userID, kind, message string) {
	if e.notifier != nil {
		e.notifier.Notify(userID, kind, message)
	}
}
