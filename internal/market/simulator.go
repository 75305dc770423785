// Package market implements the price simulator: one continuously mutating
// quote per supported instrument, advanced by a bounded symmetric random
// walk on a fixed tick.
//
// Prices use shopspring/decimal, never float64. The random
// perturbation is drawn as float64 and immediately converted to decimal
// at fixed precision, so a quote can never become NaN and is clamped
// strictly positive.
package market

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdash/trading-engine/internal/model"
)

var (
	// ErrUnknownInstrument is returned for symbols outside the supported
	// set.
	ErrUnknownInstrument = errors.New("market: unsupported instrument")

	// ErrPriceUnavailable is returned when the simulator has no quote for
	// a supported instrument. Only possible before the first seeding.
	ErrPriceUnavailable = errors.New("market: price not available")
)

// Instruments is the fixed supported set of tradable symbols.
var Instruments = []string{"GOOG", "TSLA", "AMZN", "META", "NVDA"}

const (
	// maxStepPct bounds the relative price change per tick: ±0.8%.
	maxStepPct = 0.008

	// seedMin/seedMax bound the initial quote: uniform in [100, 4000).
	seedMin = 100
	seedMax = 4000
)

// minPrice is the clamp floor; one unit of the smallest representable
// price at MoneyScale.
var minPrice = decimal.New(1, -model.MoneyScale)

// Simulator holds the current quote per instrument. It is an explicitly
// owned process-wide service: constructed once at startup, mutated only by
// Tick, read concurrently by the trading engine and the fan-out.
type Simulator struct {
	mu          sync.RWMutex
	instruments []string
	prices      map[string]model.PricePoint
}

// NewSimulator seeds a quote for every instrument.
func NewSimulator(instruments []string) *Simulator {
	s := &Simulator{
		instruments: instruments,
		prices:      make(map[string]model.PricePoint, len(instruments)),
	}

	now := time.Now().UTC()
	for _, instrument := range instruments {
		seed := seedMin + rand.Float64()*(seedMax-seedMin)
		s.prices[instrument] = model.PricePoint{
			Instrument: instrument,
			Price:      model.RoundMoney(decimal.NewFromFloat(seed)),
			Change:     decimal.Zero,
			Time:       now,
		}
	}
	return s
}

// Supported reports whether the instrument is in the supported set.
func (s *Simulator) Supported(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.prices[instrument]
	return ok
}

// Instruments returns the supported symbols in stable order.
func (s *Simulator) Instruments() []string {
	out := make([]string, len(s.instruments))
	copy(out, s.instruments)
	return out
}

// CurrentPrice returns the latest quote for one instrument.
func (s *Simulator) CurrentPrice(instrument string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pp, ok := s.prices[instrument]
	if !ok {
		return decimal.Zero, ErrUnknownInstrument
	}
	if pp.Price.IsZero() {
		return decimal.Zero, ErrPriceUnavailable
	}
	return pp.Price, nil
}

// Tick advances every instrument by one random-walk step and returns the
// complete post-tick snapshot. The whole tick is applied under one lock,
// so readers never observe a partially applied tick, and every caller of
// the returned snapshot sees one consistent set of prices.
func (s *Simulator) Tick() map[string]model.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	snapshot := make(map[string]model.PricePoint, len(s.prices))

	for instrument, old := range s.prices {
		pct := (rand.Float64()*2 - 1) * maxStepPct
		step := decimal.NewFromFloat(1 + pct)

		price := model.RoundMoney(old.Price.Mul(step))
		if price.LessThan(minPrice) {
			price = minPrice
		}

		pp := model.PricePoint{
			Instrument: instrument,
			Price:      price,
			Change:     price.Sub(old.Price),
			Time:       now,
		}
		s.prices[instrument] = pp
		snapshot[instrument] = pp
	}
	return snapshot
}

// Snapshot returns a consistent copy of the current quotes without
// advancing them.
func (s *Simulator) Snapshot() map[string]model.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]model.PricePoint, len(s.prices))
	for instrument, pp := range s.prices {
		snapshot[instrument] = pp
	}
	return snapshot
}
