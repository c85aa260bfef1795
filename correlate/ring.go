package correlate

import (
	"container/ring"
	"sync"
)

// recentRing keeps the last n remembered alerts for the admin API.
// The cursor always points at the next slot to overwrite.
type recentRing struct {
	mu   sync.Mutex
	r    *ring.Ring
	size int
}

func newRecentRing(n int) *recentRing {
	return &recentRing{r: ring.New(n), size: n}
}

func (rr *recentRing) push(a Alert) {
	rr.mu.Lock()
	rr.r.Value = a
	rr.r = rr.r.Next()
	rr.mu.Unlock()
}

// recent returns up to limit alerts, newest first.
func (rr *recentRing) recent(limit int) []Alert {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if limit <= 0 || limit > rr.size {
		limit = rr.size
	}
	out := make([]Alert, 0, limit)
	p := rr.r
	for i := 0; i < limit; i++ {
		p = p.Prev()
		a, ok := p.Value.(Alert)
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}
