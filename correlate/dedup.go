package correlate

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dedupShards must stay a power of 2 for the mask below.
const dedupShards = 16

// dedupRetention bounds how long raise timestamps are kept. The live
// suppression window is compared explicitly on every lookup, so threshold
// updates take effect immediately; retention only caps memory.
const dedupRetention = 24 * time.Hour

type dedupShard struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, time.Time]
}

// dedupCache records the raise time of each dedup key. Keys are sharded
// by hash so concurrent scoring workers rarely share a lock. Entries are
// evicted by TTL only, never by size pressure.
type dedupCache struct {
	shards [dedupShards]*dedupShard
}

func newDedupCache() *dedupCache {
	c := &dedupCache{}
	for i := range c.shards {
		c.shards[i] = &dedupShard{
			entries: expirable.NewLRU[string, time.Time](0, nil, dedupRetention),
		}
	}
	return c
}

// shouldRaise reports whether an alert with the given key may be raised
// at the given time. The first raise inside a window wins and its record
// is kept, so a sustained signal re-raises once per window rather than
// sliding forever. Suppression is unconditional: a growing signal that
// crosses a severity band mid-window still waits for the window to lapse.
func (c *dedupCache) shouldRaise(key string, at time.Time, window time.Duration) bool {
	s := c.shards[xxhash.Sum64String(key)&(dedupShards-1)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.entries.Get(key); ok && window > 0 {
		delta := at.Sub(last)
		if delta < 0 {
			delta = -delta
		}
		if delta < window {
			return false
		}
	}
	s.entries.Add(key, at)
	return true
}
