package position_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
	"github.com/stockdash/trading-engine/internal/position"
	"github.com/stockdash/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestOpen_InvalidUnits(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())

	for _, units := range []int64{0, -1, -100} {
		_, err := m.Open(context.Background(), "user1", "GOOG", units, d(500))
		if !errors.Is(err, position.ErrInvalidUnits) {
			t.Errorf("Open with %d units: expected ErrInvalidUnits, got %v", units, err)
		}
	}
}

func TestOpenClose_RealizedPnL(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())
	ctx := context.Background()

	id, err := m.Open(ctx, "user1", "GOOG", 3, d(500))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	pos, err := m.GetActive(ctx, id, "user1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if !pos.Active || pos.Instrument != "GOOG" || pos.Units != 3 {
		t.Errorf("unexpected position state: %+v", pos)
	}

	res, err := m.Close(ctx, id, "user1", d(520.5))
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// 3 * (520.5 - 500) = 61.5
	if !res.PnL.Equal(d(61.5)) {
		t.Errorf("PnL = %s, want 61.5", res.PnL)
	}
	if res.HistoryID == "" {
		t.Error("expected non-empty history id")
	}
	if res.Position.Active {
		t.Error("returned position should be inactive")
	}

	hist, err := m.ListHistory(ctx, "user1")
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(hist))
	}
	h := hist[0]
	if h.Instrument != "GOOG" || h.Units != 3 || !h.SellPrice.Equal(d(520.5)) || !h.PnL.Equal(d(61.5)) {
		t.Errorf("unexpected history record: %+v", h)
	}
	if h.SellTime.Before(h.BuyTime) {
		t.Errorf("sell time %s before buy time %s", h.SellTime, h.BuyTime)
	}
}

func TestClose_NegativePnL(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())
	ctx := context.Background()

	id, err := m.Open(ctx, "user1", "TSLA", 10, d(200.1234))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	res, err := m.Close(ctx, id, "user1", d(199.0001))
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !res.PnL.Equal(d(-11.233)) {
		t.Errorf("PnL = %s, want -11.233", res.PnL)
	}
}

func TestClose_Twice(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())
	ctx := context.Background()

	id, err := m.Open(ctx, "user1", "AMZN", 1, d(100))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.Close(ctx, id, "user1", d(110)); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if _, err := m.Close(ctx, id, "user1", d(120)); !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("second Close: expected ErrPositionNotFound, got %v", err)
	}
}

func TestClose_WrongUser(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())
	ctx := context.Background()

	id, err := m.Open(ctx, "alice", "META", 2, d(300))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.Close(ctx, id, "bob", d(310)); !errors.Is(err, position.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound for foreign position, got %v", err)
	}
	// Owner can still close it afterwards.
	if _, err := m.Close(ctx, id, "alice", d(310)); err != nil {
		t.Errorf("owner Close failed: %v", err)
	}
}

func TestListActive_OldestFirst(t *testing.T) {
	ms := store.NewMemoryStore()
	m := position.NewManager(ms)
	ctx := context.Background()

	first, err := m.Open(ctx, "user1", "GOOG", 1, d(100))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := m.Open(ctx, "user1", "NVDA", 2, d(200))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	positions, err := m.ListActive(ctx, "user1")
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].ID != first || positions[1].ID != second {
		t.Errorf("positions out of order: got %s, %s", positions[0].ID, positions[1].ID)
	}
}

func TestWatched_TracksOpenAndClose(t *testing.T) {
	m := position.NewManager(store.NewMemoryStore())
	ctx := context.Background()

	a, err := m.Open(ctx, "user1", "GOOG", 1, d(100))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b, err := m.Open(ctx, "user1", "GOOG", 1, d(101))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.Open(ctx, "user1", "TSLA", 1, d(50)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	watched := m.Watched("user1")
	if len(watched) != 2 {
		t.Fatalf("watched = %v, want {GOOG, TSLA}", watched)
	}

	// Two GOOG positions: closing one must keep GOOG watched.
	if _, err := m.Close(ctx, a, "user1", d(105)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := m.Watched("user1")["GOOG"]; !ok {
		t.Error("GOOG dropped from watched set while a position remains open")
	}
	if _, err := m.Close(ctx, b, "user1", d(105)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	watched = m.Watched("user1")
	if _, ok := watched["GOOG"]; ok {
		t.Error("GOOG still watched after both positions closed")
	}
	if _, ok := watched["TSLA"]; !ok {
		t.Error("TSLA missing from watched set")
	}
}

// TestListActive_RebuildsWatchedIndex simulates positions persisted by an
// earlier process: a fresh manager knows nothing until ListActive loads
// them, as it does on every websocket connect.
func TestListActive_RebuildsWatchedIndex(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	err := ms.InsertPosition(ctx, &model.Position{
		ID:         "pos-old",
		UserID:     "user1",
		Instrument: "AMZN",
		Units:      4,
		BuyPrice:   d(150),
		BuyTime:    time.Now().UTC(),
		Active:     true,
	})
	if err != nil {
		t.Fatalf("InsertPosition failed: %v", err)
	}

	m := position.NewManager(ms)
	if len(m.Watched("user1")) != 0 {
		t.Fatal("fresh manager should have an empty watched set")
	}
	if _, err := m.ListActive(ctx, "user1"); err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if _, ok := m.Watched("user1")["AMZN"]; !ok {
		t.Error("watched set not rebuilt from stored positions")
	}
}
