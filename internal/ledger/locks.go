package ledger

import (
	"hash/fnv"
	"sync"
)

// lockShards trades memory for contention. Collisions between users are
// harmless: they only cause unnecessary serialization, never corruption.
const lockShards = 64

// userLocks is a fixed pool of mutexes sharded by user id. It provides
// per-user mutual exclusion without an unbounded lock map.
type userLocks struct {
	shards [lockShards]sync.Mutex
}

func (ul *userLocks) forUser(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &ul.shards[h.Sum32()%lockShards]
}
