// Package position implements the position manager: opening and closing
// holdings, realized PnL at close, and the in-memory watched-instrument
// index that the tick fan-out reads instead of hitting durable storage
// every second.
package position

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

var (
	// ErrInvalidUnits is returned when units is not a positive integer.
	ErrInvalidUnits = errors.New("position: units must be a positive integer")

	// ErrPositionNotFound is returned when no active position with the
	// given id belongs to the user. Closing twice fails the second time
	// with this error, since active is already false.
	ErrPositionNotFound = errors.New("position: active position not found")
)

// CloseResult reports a successful close.
type CloseResult struct {
	PnL       decimal.Decimal
	HistoryID string
	Position  model.Position // state at close, Active already false
}

// Manager owns position and history records for all users.
type Manager struct {
	store store.Store
	index *watchIndex
}

// NewManager creates a position manager backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, index: newWatchIndex()}
}

// Open creates an active position and returns its id.
func (m *Manager) Open(ctx context.Context, userID, instrument string, units int64, buyPrice decimal.Decimal) (string, error) {
	if units <= 0 {
		return "", ErrInvalidUnits
	}

	pos := &model.Position{
		ID:         uuid.New().String(),
		UserID:     userID,
		Instrument: instrument,
		Units:      units,
		BuyPrice:   buyPrice,
		BuyTime:    time.Now().UTC(),
		Active:     true,
	}
	if err := m.store.InsertPosition(ctx, pos); err != nil {
		return "", fmt.Errorf("position: open: %w", err)
	}

	m.index.add(userID, instrument)
	return pos.ID, nil
}

// GetActive retrieves one active position owned by the user.
func (m *Manager) GetActive(ctx context.Context, positionID, userID string) (*model.Position, error) {
	pos, err := m.store.GetActivePosition(ctx, positionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("position: get %s: %w", positionID, err)
	}
	return pos, nil
}

// Close flips the position inactive, computes realized PnL, and writes the
// history record. PnL = units * (sellPrice - buyPrice), rounded to the
// ledger's fixed precision.
func (m *Manager) Close(ctx context.Context, positionID, userID string, sellPrice decimal.Decimal) (CloseResult, error) {
	pos, err := m.store.GetActivePosition(ctx, positionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return CloseResult{}, ErrPositionNotFound
	}
	if err != nil {
		return CloseResult{}, fmt.Errorf("position: close: %w", err)
	}

	// Deactivate first: the position must never be closeable twice, even
	// if the history append below fails.
	if err := m.store.DeactivatePosition(ctx, positionID, userID); err != nil {
		return CloseResult{}, fmt.Errorf("position: deactivate %s: %w", positionID, err)
	}
	m.index.remove(userID, pos.Instrument)

	units := decimal.NewFromInt(pos.Units)
	pnl := model.RoundMoney(sellPrice.Sub(pos.BuyPrice).Mul(units))

	hist := &model.PositionHistory{
		ID:         uuid.New().String(),
		UserID:     userID,
		Instrument: pos.Instrument,
		Units:      pos.Units,
		BuyPrice:   pos.BuyPrice,
		SellPrice:  sellPrice,
		PnL:        pnl,
		BuyTime:    pos.BuyTime,
		SellTime:   time.Now().UTC(),
	}
	if err := m.store.InsertPositionHistory(ctx, hist); err != nil {
		return CloseResult{}, fmt.Errorf("position: append history for %s: %w", positionID, err)
	}

	pos.Active = false
	return CloseResult{PnL: pnl, HistoryID: hist.ID, Position: *pos}, nil
}

// ListActive returns the user's open positions, oldest first, reflecting
// the latest committed state. It also refreshes the user's watched-
// instrument index entry, so a reconnecting user is indexed even for
// positions opened before this process started.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]model.Position, error) {
	// Observe the index version before the store read so a concurrent
	// open/close that lands in between invalidates this rebuild instead
	// of being clobbered by it.
	since := m.index.version(userID)

	positions, err := m.store.ActivePositionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("position: list active: %w", err)
	}

	m.index.reset(userID, positions, since)
	return positions, nil
}

// ListHistory returns the user's closed positions, newest first.
func (m *Manager) ListHistory(ctx context.Context, userID string) ([]model.PositionHistory, error) {
	hist, err := m.store.PositionHistoryByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("position: list history: %w", err)
	}
	return hist, nil
}

// Watched returns the set of instruments the user currently holds an
// active position in. Served from the in-memory index; never touches the
// durable store, so it is safe to call once per connection per tick.
func (m *Manager) Watched(userID string) map[string]struct{} {
	return m.index.watched(userID)
}
