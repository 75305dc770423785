package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: user records (balance checks on every
// trade) and per-user active positions. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheUser(ctx, u)
	return nil
}

func (s *CachedStore) UpdateUserProfile(ctx context.Context, id, fullName, dob, accountNumber string) error {
	if err := s.primary.UpdateUserProfile(ctx, id, fullName, dob, accountNumber); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	if err := s.primary.UpdateUserPassword(ctx, id, passwordHash); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if err := s.primary.UpdateUserBalance(ctx, id, balance); err != nil {
		return err
	}
	// Invalidate; next read re-populates. Caching the mutated record here
	// would race with concurrent invalidations.
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.UserID))
	return nil
}

func (s *CachedStore) DeactivatePosition(ctx context.Context, id, userID string) error {
	if err := s.primary.DeactivatePosition(ctx, id, userID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(userID))
	return nil
}

func (s *CachedStore) InsertPositionHistory(ctx context.Context, h *model.PositionHistory) error {
	if err := s.primary.InsertPositionHistory(ctx, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(h.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u cachedUser
		if json.Unmarshal(data, &u) == nil {
			return u.toModel(), nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheUser(ctx, u)
	return u, nil
}

func (s *CachedStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	// Login path only; not worth a second index. Read the primary.
	return s.primary.GetUserByEmail(ctx, email)
}

func (s *CachedStore) ActivePositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ActivePositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertWalletTransaction(ctx context.Context, tx *model.WalletTransaction) error {
	return s.primary.InsertWalletTransaction(ctx, tx)
}

func (s *CachedStore) WalletTransactionsByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	return s.primary.WalletTransactionsByUser(ctx, userID)
}

func (s *CachedStore) GetActivePosition(ctx context.Context, id, userID string) (*model.Position, error) {
	return s.primary.GetActivePosition(ctx, id, userID)
}

func (s *CachedStore) PositionHistoryByUser(ctx context.Context, userID string) ([]model.PositionHistory, error) {
	return s.primary.PositionHistoryByUser(ctx, userID)
}

// --- Cache helpers ---

// cachedUser carries the password hash, which model.User hides from JSON.
type cachedUser struct {
	model.User
	PasswordHash string `json:"password_hash"`
}

func (c *cachedUser) toModel() *model.User {
	u := c.User
	u.PasswordHash = c.PasswordHash
	return &u
}

func (s *CachedStore) cacheUser(ctx context.Context, u *model.User) {
	cu := cachedUser{User: *u, PasswordHash: u.PasswordHash}
	if data, err := json.Marshal(&cu); err == nil {
		s.rdb.Set(ctx, userKey(u.ID), data, s.ttl)
	}
}

func userKey(id string) string       { return fmt.Sprintf("user:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
