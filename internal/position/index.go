package position

import (
	"sync"

	"github.com/stockdash/trading-engine/internal/model"
)

// watchIndex tracks, per user, how many active positions they hold in each
// instrument. Updated on open/close and rebuilt from committed state on
// every ListActive, it gives the tick fan-out an O(1) watched-set lookup.
//
// Rebuilds race with concurrent opens/closes: the store read for a rebuild
// can miss a position whose open commits just after it, yet the open's
// add() can land before the rebuild's reset(). Each user entry therefore
// carries a version, bumped by add/remove; a reset computed against an
// older version is discarded, never clobbering a fresher entry.
type watchIndex struct {
	mu    sync.RWMutex
	count map[string]map[string]int // userID → instrument → open positions
	ver   map[string]uint64         // userID → mutation version, never deleted
}

func newWatchIndex() *watchIndex {
	return &watchIndex{
		count: make(map[string]map[string]int),
		ver:   make(map[string]uint64),
	}
}

func (idx *watchIndex) add(userID, instrument string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byInstr, ok := idx.count[userID]
	if !ok {
		byInstr = make(map[string]int)
		idx.count[userID] = byInstr
	}
	byInstr[instrument]++
	idx.ver[userID]++
}

func (idx *watchIndex) remove(userID, instrument string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byInstr, ok := idx.count[userID]
	if !ok {
		return
	}
	if byInstr[instrument] <= 1 {
		delete(byInstr, instrument)
	} else {
		byInstr[instrument]--
	}
	if len(byInstr) == 0 {
		delete(idx.count, userID)
	}
	idx.ver[userID]++
}

// version returns the user's current mutation version. Callers read it
// before the store query that feeds reset.
func (idx *watchIndex) version(userID string) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ver[userID]
}

// reset replaces the user's entry with counts derived from committed
// positions, unless an add/remove has run since the caller observed
// version since. A stale rebuild is dropped; the entry it would have
// overwritten is already newer.
func (idx *watchIndex) reset(userID string, positions []model.Position, since uint64) {
	fresh := make(map[string]int, len(positions))
	for _, p := range positions {
		fresh[p.Instrument]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.ver[userID] != since {
		return
	}
	if len(fresh) == 0 {
		delete(idx.count, userID)
		return
	}
	idx.count[userID] = fresh
}

// watched returns a copy of the user's instrument set.
func (idx *watchIndex) watched(userID string) map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byInstr := idx.count[userID]
	set := make(map[string]struct{}, len(byInstr))
	for instrument := range byInstr {
		set[instrument] = struct{}{}
	}
	return set
}
