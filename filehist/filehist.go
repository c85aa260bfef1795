// Package filehist remembers the last observed state of recently
// modified files so the detector can tell in-place encryption (same
// path, entropy jump, unrelated content) from ordinary edits. History
// lives in a TTL-bounded cache; stale paths simply age out.
package filehist

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vigil/fuzzy"
)

// Record is the remembered state of one path.
type Record struct {
	Path      string
	Entropy   float64
	TLSH      string
	Digest    string
	Changes   int
	UpdatedAt time.Time
}

// Change describes how the current observation compares to the
// previous one for the same path.
type Change struct {
	First           bool
	PrevEntropy     float64
	Delta           float64
	SignificantJump bool
	ContentChanged  bool
	// TLSHDistance is the fuzzy-hash distance to the previous
	// content, or -1 when either side has no hash. Small values mean
	// similar content; encryption typically produces large ones.
	TLSHDistance int
	Changes      int
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	cache      *expirable.LRU[string, Record]
	minDelta   float64
	similarity fuzzy.Hasher
}

// New builds a tracker holding at most maxEntries paths for ttl each.
// minDelta is the entropy jump considered significant.
func New(maxEntries int, ttl time.Duration, minDelta float64) *Tracker {
	if maxEntries <= 0 {
		maxEntries = 8192
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if minDelta <= 0 {
		minDelta = 2.0
	}
	sim, _ := fuzzy.Lookup("tlsh")
	return &Tracker{
		cache:      expirable.NewLRU[string, Record](maxEntries, nil, ttl),
		minDelta:   minDelta,
		similarity: sim,
	}
}

// Observe records the current state of path and reports the change
// against the previous observation, if one is still cached.
func (t *Tracker) Observe(path string, entropyBits float64, tlshHash, digest string) Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.cache.Get(path)
	ch := Change{First: !ok, TLSHDistance: -1}
	rec := Record{
		Path:      path,
		Entropy:   entropyBits,
		TLSH:      tlshHash,
		Digest:    digest,
		UpdatedAt: time.Now().UTC(),
	}
	if ok {
		ch.PrevEntropy = prev.Entropy
		ch.Delta = entropyBits - prev.Entropy
		ch.SignificantJump = ch.Delta >= t.minDelta
		ch.ContentChanged = digest != "" && prev.Digest != "" && digest != prev.Digest
		ch.TLSHDistance = t.distance(prev.TLSH, tlshHash)
		rec.Changes = prev.Changes + 1
	}
	ch.Changes = rec.Changes
	t.cache.Add(path, rec)
	return ch
}

// Forget drops the history for a deleted path.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(path)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

func (t *Tracker) distance(a, b string) int {
	if a == "" || b == "" || t.similarity == nil {
		return -1
	}
	d, err := t.similarity.Distance(a, b)
	if err != nil {
		return -1
	}
	return d
}
