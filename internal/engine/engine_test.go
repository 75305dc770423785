package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/engine"
	"github.com/stockdash/trading-engine/internal/ledger"
	"github.com/stockdash/trading-engine/internal/market"
	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/position"
	"github.com/stockdash/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubPrices serves fixed quotes so trade outcomes are deterministic.
type stubPrices struct {
	mu     sync.Mutex
	quotes map[string]decimal.Decimal
}

func newStubPrices() *stubPrices {
	return &stubPrices{quotes: map[string]decimal.Decimal{"GOOG": d(500), "TSLA": d(250)}}
}

func (s *stubPrices) set(instrument string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[instrument] = price
}

func (s *stubPrices) Supported(instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.quotes[instrument]
	return ok
}

func (s *stubPrices) CurrentPrice(instrument string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.quotes[instrument]
	if !ok {
		return decimal.Zero, market.ErrUnknownInstrument
	}
	return price, nil
}

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(userID, kind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+"/"+kind)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// faultStore wraps a store to fail chosen operations.
type faultStore struct {
	store.Store
	failInsertPosition bool
	failBalanceWrites  bool
	balanceWrites      int
	failWritesAfter    int // fail UpdateUserBalance once this many have succeeded
}

func (f *faultStore) InsertPosition(ctx context.Context, pos *model.Position) error {
	if f.failInsertPosition {
		return fmt.Errorf("injected insert failure")
	}
	return f.Store.InsertPosition(ctx, pos)
}

func (f *faultStore) UpdateUserBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if f.failBalanceWrites {
		f.balanceWrites++
		if f.balanceWrites > f.failWritesAfter {
			return fmt.Errorf("injected balance write failure")
		}
	}
	return f.Store.UpdateUserBalance(ctx, userID, balance)
}

type testEnv struct {
	store     *faultStore
	ledger    *ledger.Ledger
	positions *position.Manager
	prices    *stubPrices
	notifier  *recordingNotifier
	engine    *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs := &faultStore{Store: store.NewMemoryStore()}
	l := ledger.New(fs)
	pm := position.NewManager(fs)
	prices := newStubPrices()
	notifier := &recordingNotifier{}

	env := &testEnv{
		store:     fs,
		ledger:    l,
		positions: pm,
		prices:    prices,
		notifier:  notifier,
		engine:    engine.New(l, pm, prices, notifier),
	}
	err := fs.CreateUser(context.Background(), &model.User{
		ID:        "user1",
		Email:     "user1@example.com",
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return env
}

// TestBuySell_FullScenario walks the canonical trade sequence: with 1000 in
// the wallet, buying 3 GOOG at 500 must fail with the exact shortfall; after
// topping up, the buy debits 1500, and selling at 520 realizes 60 PnL.
func TestBuySell_FullScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(1000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	_, err := env.engine.Buy(ctx, "user1", "GOOG", 3)
	var insufficientErr *engine.InsufficientFundsError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !insufficientErr.Required.Equal(d(1500)) || !insufficientErr.Balance.Equal(d(1000)) {
		t.Errorf("shortfall = required %s / balance %s, want 1500 / 1000",
			insufficientErr.Required, insufficientErr.Balance)
	}

	// The failed buy must leave no trace.
	if balance, _ := env.ledger.Balance(ctx, "user1"); !balance.Equal(d(1000)) {
		t.Errorf("balance after failed buy = %s, want 1000", balance)
	}
	if txs, _ := env.ledger.Transactions(ctx, "user1"); len(txs) != 1 {
		t.Errorf("expected only the deposit transaction, got %d", len(txs))
	}

	if _, err := env.engine.Deposit(ctx, "user1", d(1000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	buy, err := env.engine.Buy(ctx, "user1", "GOOG", 3)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if !buy.BalanceAfter.Equal(d(500)) {
		t.Errorf("balance after buy = %s, want 500", buy.BalanceAfter)
	}

	env.prices.set("GOOG", d(520))
	sell, err := env.engine.Sell(ctx, "user1", buy.PositionID)
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if !sell.PnL.Equal(d(60)) {
		t.Errorf("PnL = %s, want 60", sell.PnL)
	}
	if !sell.BalanceAfter.Equal(d(2060)) {
		t.Errorf("balance after sell = %s, want 2060", sell.BalanceAfter)
	}
	if sell.HistoryID == "" {
		t.Error("expected non-empty history id")
	}

	// deposit, deposit, buy, sell
	txs, err := env.ledger.Transactions(ctx, "user1")
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("expected 4 transactions, got %d", len(txs))
	}
	if txs[0].Kind != model.KindSell || txs[1].Kind != model.KindBuy {
		t.Errorf("unexpected transaction order: %s, %s", txs[0].Kind, txs[1].Kind)
	}
}

func TestBuy_UnknownInstrument(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Buy(context.Background(), "user1", "AAPL", 1)
	if !errors.Is(err, market.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestBuy_InvalidUnits(t *testing.T) {
	env := newTestEnv(t)

	for _, units := range []int64{0, -2} {
		_, err := env.engine.Buy(context.Background(), "user1", "GOOG", units)
		if !errors.Is(err, position.ErrInvalidUnits) {
			t.Errorf("Buy with %d units: expected ErrInvalidUnits, got %v", units, err)
		}
	}
}

// TestBuy_RollbackOnOpenFailure injects a failure between the debit and the
// position insert. The compensating credit must restore the exact balance.
func TestBuy_RollbackOnOpenFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(2000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	env.store.failInsertPosition = true
	_, err := env.engine.Buy(ctx, "user1", "GOOG", 3)
	if err == nil {
		t.Fatal("expected Buy to fail")
	}
	var recErr *engine.ReconciliationRequiredError
	if errors.As(err, &recErr) {
		t.Fatalf("rollback succeeded, should not be a reconciliation error: %v", err)
	}

	balance, err := env.ledger.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balance.Equal(d(2000)) {
		t.Errorf("balance after rollback = %s, want 2000", balance)
	}

	// The trail keeps both legs: debit then compensating credit.
	txs, err := env.ledger.Transactions(ctx, "user1")
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].Kind != model.KindRollback || txs[1].Kind != model.KindBuy {
		t.Errorf("unexpected trail: %s, %s", txs[0].Kind, txs[1].Kind)
	}

	env.store.failInsertPosition = false
	positions, err := env.positions.ListActive(ctx, "user1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no open positions after rollback, got %d", len(positions))
	}
}

// TestBuy_ReconciliationOnRollbackFailure fails both the position insert and
// the compensating credit. The engine must surface the stuck debit.
func TestBuy_ReconciliationOnRollbackFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(2000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	env.store.failInsertPosition = true
	env.store.failBalanceWrites = true
	env.store.failWritesAfter = 1 // debit commits, rollback credit fails

	_, err := env.engine.Buy(ctx, "user1", "GOOG", 2)
	var recErr *engine.ReconciliationRequiredError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected ReconciliationRequiredError, got %v", err)
	}
	if recErr.UserID != "user1" || !recErr.Amount.Equal(d(1000)) {
		t.Errorf("reconciliation details = %s / %s, want user1 / 1000", recErr.UserID, recErr.Amount)
	}
}

// TestSell_ReconciliationOnCreditFailure fails the proceeds credit after the
// close committed. The position stays closed and the error names the amount.
func TestSell_ReconciliationOnCreditFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(2000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	buy, err := env.engine.Buy(ctx, "user1", "GOOG", 2)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	env.store.failBalanceWrites = true
	env.store.failWritesAfter = 0

	_, err = env.engine.Sell(ctx, "user1", buy.PositionID)
	var recErr *engine.ReconciliationRequiredError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected ReconciliationRequiredError, got %v", err)
	}
	if recErr.PositionID != buy.PositionID || !recErr.Amount.Equal(d(1000)) {
		t.Errorf("reconciliation details = %s / %s, want %s / 1000",
			recErr.PositionID, recErr.Amount, buy.PositionID)
	}
	if recErr.HistoryID == "" {
		t.Error("expected the committed history id in the error")
	}

	// Closed is closed: retrying the sell must not find the position.
	env.store.failBalanceWrites = false
	if _, err := env.engine.Sell(ctx, "user1", buy.PositionID); !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound on retry, got %v", err)
	}
}

func TestSell_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Sell(context.Background(), "user1", "no-such-position")
	if !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestDeposit_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-5)} {
		if _, err := env.engine.Deposit(context.Background(), "user1", amount); !errors.Is(err, engine.ErrInvalidAmount) {
			t.Errorf("Deposit(%s): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestWithdraw_NeverNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(50)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	_, err := env.engine.Withdraw(ctx, "user1", d(100))
	var insufficientErr *engine.InsufficientFundsError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}

	after, err := env.engine.Withdraw(ctx, "user1", d(50))
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if !after.IsZero() {
		t.Errorf("balance = %s, want 0", after)
	}
}

// TestBuy_ConcurrentSameUser races two buys that only one balance can cover.
// Exactly one may succeed.
func TestBuy_ConcurrentSameUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(600)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.engine.Buy(ctx, "user1", "GOOG", 1)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		default:
			var insufficientErr *engine.InsufficientFundsError
			if !errors.As(err, &insufficientErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			rejected++
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("got %d successes and %d rejections, want exactly 1 each", ok, rejected)
	}

	balance, err := env.ledger.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balance.Equal(d(100)) {
		t.Errorf("balance = %s, want 100", balance)
	}
	positions, err := env.positions.ListActive(ctx, "user1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(positions) != 1 {
		t.Errorf("expected exactly 1 open position, got %d", len(positions))
	}
}

// TestMutations_SurviveCallerCancellation: a mutation is not
// connection-scoped. Once a request starts, a dropped caller context must
// not abandon it half-applied: the debit, the position, and the audit
// record all commit.
func TestMutations_SurviveCallerCancellation(t *testing.T) {
	env := newTestEnv(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.engine.Deposit(cancelled, "user1", d(2000)); err != nil {
		t.Fatalf("Deposit with cancelled context failed: %v", err)
	}

	buy, err := env.engine.Buy(cancelled, "user1", "GOOG", 2)
	if err != nil {
		t.Fatalf("Buy with cancelled context failed: %v", err)
	}
	if !buy.BalanceAfter.Equal(d(1000)) {
		t.Errorf("balance after buy = %s, want 1000", buy.BalanceAfter)
	}

	ctx := context.Background()
	positions, err := env.positions.ListActive(ctx, "user1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(positions) != 1 || positions[0].ID != buy.PositionID {
		t.Fatalf("position not committed: %+v", positions)
	}
	txs, err := env.ledger.Transactions(ctx, "user1")
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("expected deposit and buy transactions, got %d", len(txs))
	}

	if _, err := env.engine.Sell(cancelled, "user1", buy.PositionID); err != nil {
		t.Fatalf("Sell with cancelled context failed: %v", err)
	}
	balance, err := env.ledger.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !balance.Equal(d(2000)) {
		t.Errorf("balance after sell = %s, want 2000", balance)
	}
}

func TestNotifications_EmittedOnlyOnCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Deposit(ctx, "user1", d(1000)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected 1 notification after deposit, got %d", env.notifier.count())
	}

	// A rejected buy must not notify.
	if _, err := env.engine.Buy(ctx, "user1", "GOOG", 100); err == nil {
		t.Fatal("expected Buy to fail")
	}
	if env.notifier.count() != 1 {
		t.Errorf("failed buy emitted a notification")
	}

	buy, err := env.engine.Buy(ctx, "user1", "GOOG", 1)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if _, err := env.engine.Sell(ctx, "user1", buy.PositionID); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if env.notifier.count() != 3 {
		t.Errorf("expected 3 notifications total, got %d", env.notifier.count())
	}
}
