package stream

import (
	"context"
	"time"

	"github.com/stockdash/trading-engine/internal/model"
)

// Ticker advances simulated prices by one step. Satisfied by
// *market.Simulator.
type Ticker interface {
	Tick() map[string]model.PricePoint
}

// RunBroadcaster drives the tick cadence: every interval it advances the
// simulator once and fans the resulting snapshot out to every connection.
// This loop is the single source of all price-change notifications; there
// is no on-demand push outside it. Blocks until ctx is cancelled.
//
// The hub never blocks this loop on slow request handling: broadcast
// iterates a snapshot of the client set and per-connection failures only
// drop that connection.
func RunBroadcaster(ctx context.Context, interval time.Duration, sim Ticker, hub *Hub) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.BroadcastTick(sim.Tick())
		}
	}
}
