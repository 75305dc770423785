package engine

import "sync"

// userLocks hands out one mutex per user id, lazily. The engine holds a
// user's mutex for the full span of a request, so the balance pre-check
// and the subsequent ledger/position mutations form one atomic unit
// relative to other requests for that user.
type userLocks struct {
	m sync.Map // userID → *sync.Mutex
}

func (l *userLocks) forUser(userID string) *sync.Mutex {
	mu, ok := l.m.Load(userID)
	if !ok {
		mu, _ = l.m.LoadOrStore(userID, &sync.Mutex{})
	}
	return mu.(*sync.Mutex)
}
