package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, dob, account_number, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.DOB, u.AccountNumber,
		u.Balance.String(), u.CreatedAt,
	)
	return err
}

const userColumns = `id, email, password_hash, full_name, dob, account_number, balance::TEXT, created_at`

func (s *PostgresStore) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var balance string

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.DOB,
		&u.AccountNumber, &balance, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user email %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id, fullName, dob, accountNumber string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET full_name = $2, dob = $3, account_number = $4 WHERE id = $1`,
		id, fullName, dob, accountNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`, id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertWalletTransaction(ctx context.Context, tx *model.WalletTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, amount_change, balance_after, kind, note, ts)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.AmountChange.String(), tx.BalanceAfter.String(),
		string(tx.Kind), tx.Note, tx.Timestamp,
	)
	return err
}

func (s *PostgresStore) WalletTransactionsByUser(ctx context.Context, userID string) ([]model.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount_change::TEXT, balance_after::TEXT, kind, note, ts
		 FROM wallet_transactions WHERE user_id = $1 ORDER BY ts DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.WalletTransaction
	for rows.Next() {
		var tx model.WalletTransaction
		var amountS, balanceS, kind string
		if err := rows.Scan(&tx.ID, &tx.UserID, &amountS, &balanceS, &kind,
			&tx.Note, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.AmountChange, _ = decimal.NewFromString(amountS)
		tx.BalanceAfter, _ = decimal.NewFromString(balanceS)
		tx.Kind = model.TransactionKind(kind)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, instrument, units, buy_price, buy_ts, active)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		p.ID, p.UserID, p.Instrument, p.Units, p.BuyPrice.String(), p.BuyTime, p.Active,
	)
	return err
}

func (s *PostgresStore) GetActivePosition(ctx context.Context, id, userID string) (*model.Position, error) {
	var p model.Position
	var buyPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, instrument, units, buy_price::TEXT, buy_ts, active
		 FROM positions WHERE id = $1 AND user_id = $2 AND active`, id, userID).
		Scan(&p.ID, &p.UserID, &p.Instrument, &p.Units, &buyPrice, &p.BuyTime, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active position %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}

	p.BuyPrice, _ = decimal.NewFromString(buyPrice)
	return &p, nil
}

func (s *PostgresStore) DeactivatePosition(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ActivePositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, instrument, units, buy_price::TEXT, buy_ts, active
		 FROM positions WHERE user_id = $1 AND active ORDER BY buy_ts`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var buyPrice string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Instrument, &p.Units,
			&buyPrice, &p.BuyTime, &p.Active); err != nil {
			return nil, err
		}
		p.BuyPrice, _ = decimal.NewFromString(buyPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertPositionHistory(ctx context.Context, h *model.PositionHistory) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_history (id, user_id, instrument, units, buy_price, sell_price, pnl, buy_ts, sell_ts)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		h.ID, h.UserID, h.Instrument, h.Units,
		h.BuyPrice.String(), h.SellPrice.String(), h.PnL.String(),
		h.BuyTime, h.SellTime,
	)
	return err
}

func (s *PostgresStore) PositionHistoryByUser(ctx context.Context, userID string) ([]model.PositionHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, instrument, units, buy_price::TEXT, sell_price::TEXT, pnl::TEXT, buy_ts, sell_ts
		 FROM position_history WHERE user_id = $1 ORDER BY sell_ts DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hist []model.PositionHistory
	for rows.Next() {
		var h model.PositionHistory
		var buyS, sellS, pnlS string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Instrument, &h.Units,
			&buyS, &sellS, &pnlS, &h.BuyTime, &h.SellTime); err != nil {
			return nil, err
		}
		h.BuyPrice, _ = decimal.NewFromString(buyS)
		h.SellPrice, _ = decimal.NewFromString(sellS)
		h.PnL, _ = decimal.NewFromString(pnlS)
		hist = append(hist, h)
	}
	return hist, rows.Err()
}
