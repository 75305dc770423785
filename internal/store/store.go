// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- User accounts ---

	// CreateUser persists a new user. Fails if the email is taken.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateUserProfile updates the mutable profile fields.
	UpdateUserProfile(ctx context.Context, id, fullName, dob, accountNumber string) error

	// UpdateUserPassword replaces the stored password hash.
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error

	// UpdateUserBalance sets the wallet balance. Callers (the ledger) are
	// responsible for serializing updates per user.
	UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// --- Immutable wallet ledger ---

	// InsertWalletTransaction appends an immutable balance-change record.
	InsertWalletTransaction(ctx context.Context, tx *model.WalletTransaction) error

	// WalletTransactionsByUser returns a user's transactions, newest first.
	WalletTransactionsByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error)

	// --- Positions ---

	// InsertPosition persists a new active position.
	InsertPosition(ctx context.Context, pos *model.Position) error

	// GetActivePosition retrieves an active position owned by the user.
	// Returns ErrNotFound for closed or foreign positions.
	GetActivePosition(ctx context.Context, id, userID string) (*model.Position, error)

	// DeactivatePosition flips active=false. The record is immutable
	// afterwards.
	DeactivatePosition(ctx context.Context, id, userID string) error

	// ActivePositionsByUser returns open positions, oldest first.
	ActivePositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// InsertPositionHistory appends a closed-position record.
	InsertPositionHistory(ctx context.Context, hist *model.PositionHistory) error

	// PositionHistoryByUser returns closed positions, newest first.
	PositionHistoryByUser(ctx context.Context, userID string) ([]model.PositionHistory, error)
}
