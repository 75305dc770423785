// Package api provides the HTTP handlers for the request surface:
// registration, login, wallet operations, trading, profile management,
// and history queries.
//
// Handlers recover validation and not-found failures into structured JSON
// errors; they never crash the process. Reconciliation-required failures
// are surfaced with a distinct error code so operators can reconcile
// manually.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/auth"
	"github.com/stockdash/trading-engine/internal/engine"
	"github.com/stockdash/trading-engine/internal/ledger"
	"github.com/stockdash/trading-engine/internal/market"
	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/position"
	"github.com/stockdash/trading-engine/internal/store"
)

// Service holds the handler dependencies.
type Service struct {
	store     store.Store
	auth      *auth.Manager
	engine    *engine.Engine
	ledger    *ledger.Ledger
	positions *position.Manager
	market    *market.Simulator
	notifier  engine.Notifier // optional; nil disables notifications
}

// NewService creates the API service. Pass nil for notifier if out-of-band
// notifications are not needed.
func NewService(st store.Store, am *auth.Manager, eng *engine.Engine, l *ledger.Ledger, pm *position.Manager, sim *market.Simulator, notifier engine.Notifier) *Service {
	return &Service{
		store:     st,
		auth:      am,
		engine:    eng,
		ledger:    l,
		positions: pm,
		market:    sim,
		notifier:  notifier,
	}
}

// --- Request types ---

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	DOB           string `json:"dob"`
	AccountNumber string `json:"account_number"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AmountRequest is the JSON body for wallet deposit/withdraw.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BuyRequest is the JSON body for POST /trade/buy.
type BuyRequest struct {
	Instrument string `json:"instrument"`
	Units      int64  `json:"units"`
}

// SellRequest is the JSON body for POST /trade/sell.
type SellRequest struct {
	PositionID string `json:"position_id"`
}

// ProfileRequest is the JSON body for POST /profile/update.
type ProfileRequest struct {
	FullName      string `json:"full_name"`
	DOB           string `json:"dob"`
	AccountNumber string `json:"account_number"`
}

// PasswordRequest is the JSON body for POST /profile/change-password.
type PasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// --- Auth handlers ---

// Register handles POST /auth/register. The wallet always starts at zero.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, "email and password required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, "email already registered", http.StatusConflict)
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		ID:            uuid.New().String(),
		Email:         req.Email,
		PasswordHash:  hash,
		FullName:      req.FullName,
		DOB:           req.DOB,
		AccountNumber: req.AccountNumber,
		Balance:       decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		writeError(w, "email already registered", http.StatusConflict)
		return
	}

	token, err := s.auth.IssueToken(user.ID, user.Email)
	if err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	slog.Info("user registered", "user", user.ID, "email", user.Email)
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

// Login handles POST /auth/login.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, "email and password required", http.StatusBadRequest)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !s.auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, "invalid credentials", http.StatusBadRequest)
		return
	}

	token, err := s.auth.IssueToken(user.ID, user.Email)
	if err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// --- Profile handlers ---

// Me handles GET /me: profile, active positions, and the supported
// instrument list.
func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeError(w, "not found", http.StatusNotFound)
		return
	}

	positions, err := s.positions.ListActive(ctx, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":      user,
		"positions": positions,
		"supported": s.market.Instruments(),
	})
}

// UpdateProfile handles POST /profile/update.
func (s *Service) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	if err := s.store.UpdateUserProfile(ctx, userID, req.FullName, req.DOB, req.AccountNumber); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "not found", http.StatusNotFound)
			return
		}
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	s.notify(userID, "profile", "Profile updated")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// ChangePassword handles POST /profile/change-password.
func (s *Service) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, "old and new passwords required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeError(w, "not found", http.StatusNotFound)
		return
	}
	if !s.auth.CheckPassword(user.PasswordHash, req.OldPassword) {
		writeError(w, "old password incorrect", http.StatusBadRequest)
		return
	}

	hash, err := s.auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		writeError(w, "server error", http.StatusInternalServerError)
		return
	}

	s.notify(userID, "security", "Password changed")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// History handles GET /profile/history: closed positions and wallet
// transactions, both newest first.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	hist, err := s.positions.ListHistory(ctx, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if hist == nil {
		hist = []model.PositionHistory{}
	}

	txs, err := s.ledger.Transactions(ctx, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []model.WalletTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": hist, "wallet_tx": txs})
}

// --- Wallet handlers ---

// Deposit handles POST /wallet/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	balance, err := s.engine.Deposit(r.Context(), auth.UserID(r.Context()), req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

// Withdraw handles POST /wallet/withdraw.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	balance, err := s.engine.Withdraw(r.Context(), auth.UserID(r.Context()), req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

// --- Trade handlers ---

// Buy handles POST /trade/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Buy(r.Context(), auth.UserID(r.Context()), req.Instrument, req.Units)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"position_id":   res.PositionID,
		"balance_after": res.BalanceAfter,
	})
}

// Sell handles POST /trade/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" {
		writeError(w, "position_id required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Sell(r.Context(), auth.UserID(r.Context()), req.PositionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"pnl":           res.PnL,
		"balance_after": res.BalanceAfter,
		"history_id":    res.HistoryID,
	})
}

// --- Helpers ---

func (s *Service) notify(userID, kind, message string) {
	if s.notifier != nil {
		s.notifier.Notify(userID, kind, message)
	}
}

// writeDomainError maps domain errors to stable JSON failures.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *engine.InsufficientFundsError
	var reconciliation *engine.ReconciliationRequiredError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "insufficient funds",
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
	case errors.As(err, &reconciliation):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "reconciliation required",
			"code":        "reconciliation_required",
			"position_id": reconciliation.PositionID,
		})
	case errors.Is(err, engine.ErrInvalidAmount):
		writeError(w, "invalid amount", http.StatusBadRequest)
	case errors.Is(err, position.ErrInvalidUnits):
		writeError(w, "units must be a positive integer", http.StatusBadRequest)
	case errors.Is(err, market.ErrUnknownInstrument):
		writeError(w, "unsupported instrument", http.StatusBadRequest)
	case errors.Is(err, position.ErrPositionNotFound):
		writeError(w, "position not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, "user not found", http.StatusNotFound)
	case errors.Is(err, market.ErrPriceUnavailable):
		writeError(w, "price not available", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "server error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
