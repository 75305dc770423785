// Package ledger implements the wallet ledger: balance reads and atomic
// balance changes, each paired with an immutable audit transaction.
//
// The ledger is a trusting primitive: it does not enforce non-negativity.
// Callers (the trading engine, the withdraw handler) pre-check sufficiency
// under their own per-user lock. What the ledger does guarantee is that the
// read-modify-write of a balance is atomic relative to other changes for
// the same user, and that every change appends exactly one transaction
// whose BalanceAfter matches the committed balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/store"
)

// ErrUserNotFound is returned when the account does not exist.
var ErrUserNotFound = errors.New("ledger: user not found")

// Ledger owns wallet balances and the append-only transaction log.
type Ledger struct {
	store store.Store
	locks userLocks
}

// New creates a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Balance returns the current wallet balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: read balance: %w", err)
	}
	return u.Balance, nil
}

// ApplyChange atomically applies a signed balance change and appends the
// matching wallet transaction. Returns the balance after the change and
// the id of the appended transaction.
//
// Concurrent calls for the same user are serialized; calls for different
// users proceed independently.
func (l *Ledger) ApplyChange(ctx context.Context, userID string, amount decimal.Decimal, kind model.TransactionKind, note string) (decimal.Decimal, string, error) {
	// Round once, up front. The rounded amount feeds both the balance
	// arithmetic and the appended record, so BalanceAfter always equals
	// the previous balance plus the recorded AmountChange.
	amount = model.RoundMoney(amount)

	mu := l.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, "", ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("ledger: read balance: %w", err)
	}

	balanceAfter := model.RoundMoney(u.Balance.Add(amount))
	if err := l.store.UpdateUserBalance(ctx, userID, balanceAfter); err != nil {
		return decimal.Zero, "", fmt.Errorf("ledger: update balance: %w", err)
	}

	tx := &model.WalletTransaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		AmountChange: amount,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		Note:         note,
		Timestamp:    time.Now().UTC(),
	}
	if err := l.store.InsertWalletTransaction(ctx, tx); err != nil {
		return decimal.Zero, "", fmt.Errorf("ledger: append transaction: %w", err)
	}

	return balanceAfter, tx.ID, nil
}

// Transactions returns the user's wallet transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	txs, err := l.store.WalletTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	return txs, nil
}
