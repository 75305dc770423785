package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	byEmail   map[string]string // email → user id
	walletTxs []model.WalletTransaction
	positions map[string]*model.Position
	history   []model.PositionHistory
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		byEmail:   make(map[string]string),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email]; ok {
		return fmt.Errorf("user with email %s already exists", u.Email)
	}

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user email %s: %w", email, ErrNotFound)
	}
	copy := *s.users[id]
	return &copy, nil
}

func (s *MemoryStore) UpdateUserProfile(_ context.Context, id, fullName, dob, accountNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	u.FullName = fullName
	u.DOB = dob
	u.AccountNumber = accountNumber
	return nil
}

func (s *MemoryStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *MemoryStore) UpdateUserBalance(_ context.Context, id string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	u.Balance = balance
	return nil
}

func (s *MemoryStore) InsertWalletTransaction(_ context.Context, tx *model.WalletTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.walletTxs = append(s.walletTxs, *tx)
	return nil
}

func (s *MemoryStore) WalletTransactionsByUser(_ context.Context, userID string) ([]model.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WalletTransaction
	for _, tx := range s.walletTxs {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	// Newest first. Append order breaks ties from identical timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) InsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *pos
	s.positions[pos.ID] = &copy
	return nil
}

func (s *MemoryStore) GetActivePosition(_ context.Context, id, userID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok || p.UserID != userID || !p.Active {
		return nil, fmt.Errorf("active position %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) DeactivatePosition(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.UserID != userID {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	p.Active = false
	return nil
}

func (s *MemoryStore) ActivePositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Active {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BuyTime.Before(result[j].BuyTime)
	})
	return result, nil
}

func (s *MemoryStore) InsertPositionHistory(_ context.Context, hist *model.PositionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, *hist)
	return nil
}

func (s *MemoryStore) PositionHistoryByUser(_ context.Context, userID string) ([]model.PositionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionHistory
	for _, h := range s.history {
		if h.UserID == userID {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SellTime.After(result[j].SellTime)
	})
	return result, nil
}
