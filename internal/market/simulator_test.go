package market_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/market"
)

func TestNewSimulator_SeedsAllInstruments(t *testing.T) {
	s := market.NewSimulator(market.Instruments)

	for _, instrument := range market.Instruments {
		if !s.Supported(instrument) {
			t.Errorf("%s not supported after seeding", instrument)
		}
		price, err := s.CurrentPrice(instrument)
		if err != nil {
			t.Fatalf("CurrentPrice(%s) failed: %v", instrument, err)
		}
		if price.LessThan(decimal.NewFromInt(100)) || price.GreaterThanOrEqual(decimal.NewFromInt(4000)) {
			t.Errorf("%s seeded at %s, want [100, 4000)", instrument, price)
		}
	}
	if s.Supported("AAPL") {
		t.Error("AAPL should not be supported")
	}
}

func TestCurrentPrice_Unknown(t *testing.T) {
	s := market.NewSimulator(market.Instruments)

	_, err := s.CurrentPrice("AAPL")
	if !errors.Is(err, market.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
}

// TestTick_BoundedStep runs the walk for many ticks and checks that every
// quote stays strictly positive, keeps four decimal places, and never
// moves more than 0.8% per tick (plus one rounding ulp).
func TestTick_BoundedStep(t *testing.T) {
	s := market.NewSimulator(market.Instruments)
	prev := s.Snapshot()

	maxStep := decimal.NewFromFloat(0.008)
	ulp := decimal.New(1, -4)

	for i := 0; i < 500; i++ {
		snapshot := s.Tick()
		if len(snapshot) != len(market.Instruments) {
			t.Fatalf("tick %d: snapshot has %d instruments, want %d", i, len(snapshot), len(market.Instruments))
		}
		for instrument, pp := range snapshot {
			if !pp.Price.IsPositive() {
				t.Fatalf("tick %d: %s price %s not positive", i, instrument, pp.Price)
			}
			if pp.Price.Exponent() < -4 {
				t.Errorf("tick %d: %s price %s has more than 4 decimal places", i, instrument, pp.Price)
			}

			old := prev[instrument].Price
			bound := old.Mul(maxStep).Add(ulp)
			if pp.Price.Sub(old).Abs().GreaterThan(bound) {
				t.Errorf("tick %d: %s moved %s -> %s, beyond bound %s", i, instrument, old, pp.Price, bound)
			}
			if !pp.Change.Equal(pp.Price.Sub(old)) {
				t.Errorf("tick %d: %s change %s, want %s", i, instrument, pp.Change, pp.Price.Sub(old))
			}
		}
		prev = snapshot
	}
}

func TestSnapshot_DoesNotAdvance(t *testing.T) {
	s := market.NewSimulator(market.Instruments)

	a := s.Snapshot()
	b := s.Snapshot()
	for instrument := range a {
		if !a[instrument].Price.Equal(b[instrument].Price) {
			t.Errorf("%s price changed between snapshots: %s vs %s", instrument, a[instrument].Price, b[instrument].Price)
		}
	}
}

func TestTick_AdvancesCurrentPrice(t *testing.T) {
	s := market.NewSimulator(market.Instruments)

	snapshot := s.Tick()
	for _, instrument := range market.Instruments {
		price, err := s.CurrentPrice(instrument)
		if err != nil {
			t.Fatalf("CurrentPrice(%s) failed: %v", instrument, err)
		}
		if !price.Equal(snapshot[instrument].Price) {
			t.Errorf("%s: CurrentPrice %s disagrees with tick snapshot %s", instrument, price, snapshot[instrument].Price)
		}
	}
}
