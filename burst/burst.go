// Package burst implements anomalous-burst tracking: per-scope event
// counts in fixed time buckets, scored against a rolling baseline of
// the trailing window. Scopes are parent directories and originating
// processes; a burst is a current bucket count far above the baseline
// mean in stddev terms.
package burst

import (
	"errors"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"vigil/event"
)

// ErrScopeContention reports that the shard lock for a scope could not
// be acquired within the configured timeout. Callers retry once and
// then drop the event rather than stall the pipeline.
var ErrScopeContention = errors.New("burst scope lock contention")

// Stddev floor so a flat baseline cannot divide to infinity.
const epsilon = 1e-6

// Thresholds is the per-update snapshot of tunables. Callers load one
// snapshot per event so a concurrent config swap cannot split a single
// scoring pass.
type Thresholds struct {
	// Multiplier is the score above which a bucket counts as bursting.
	Multiplier float64
	// WindowBuckets is the trailing baseline length in buckets.
	WindowBuckets int
	// MinBuckets is the cold-start floor: fewer closed baseline
	// buckets than this never flags a burst.
	MinBuckets int
	// MinEvents is the floor on the current bucket count before a
	// burst can flag, keeping lone events over a flat baseline quiet.
	MinEvents int
}

// Options configures a Tracker at construction. Bucket width and shard
// count are fixed for the Tracker's lifetime; the statistical knobs
// arrive per update via Thresholds.
type Options struct {
	BucketSeconds    int           // bucket width, default 60
	MaxWindowBuckets int           // hard cap on retained buckets per scope, default 20160
	Shards           int           // lock shards, rounded up to a power of two, default 64
	LockTimeout      time.Duration // shard acquire timeout, default 100ms
}

func (o *Options) defaults() {
	if o.BucketSeconds <= 0 {
		o.BucketSeconds = 60
	}
	if o.MaxWindowBuckets <= 0 {
		o.MaxWindowBuckets = 14 * 24 * 60
	}
	if o.Shards <= 0 {
		o.Shards = 64
	}
	n := 1
	for n < o.Shards {
		n <<= 1
	}
	o.Shards = n
	if o.LockTimeout <= 0 {
		o.LockTimeout = 100 * time.Millisecond
	}
}

// Score is the outcome of counting one event into its scope bucket.
type Score struct {
	Scope           event.Scope
	Bucket          int64 // bucket index: event unix time / bucket width
	Count           int   // events in the current bucket including this one
	Mean            float64
	Stddev          float64
	Value           float64 // (Count - Mean) / max(Stddev, epsilon)
	BaselineBuckets int     // closed buckets inside the trailing window
	Bursting        bool
	Cold            bool // baseline too thin to judge
}

type bucketCount struct {
	idx   int64
	count int
}

// scopeState is guarded by its shard's semaphore. closed holds the
// non-empty closed buckets in ascending index order; empty buckets are
// implicit and contribute nothing to the baseline.
type scopeState struct {
	closed []bucketCount
	curIdx int64
	curN   int
	seen   bool
}

type shard struct {
	sem    chan struct{}
	scopes map[string]*scopeState
}

// Tracker holds burst state for every scope, sharded so updates to
// unrelated scopes never serialize against each other.
type Tracker struct {
	opts   Options
	mask   uint64
	shards []*shard
}

func New(opts Options) *Tracker {
	opts.defaults()
	t := &Tracker{
		opts:   opts,
		mask:   uint64(opts.Shards - 1),
		shards: make([]*shard, opts.Shards),
	}
	for i := range t.shards {
		t.shards[i] = &shard{
			sem:    make(chan struct{}, 1),
			scopes: make(map[string]*scopeState),
		}
	}
	return t
}

func (t *Tracker) shardFor(key string) *shard {
	return t.shards[xxhash.Sum64String(key)&t.mask]
}

func (t *Tracker) acquire(sh *shard) bool {
	timer := time.NewTimer(t.opts.LockTimeout)
	defer timer.Stop()
	select {
	case sh.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (t *Tracker) release(sh *shard) {
	<-sh.sem
}

// Update counts one event at time at into its scope bucket and returns
// the resulting score. It returns ErrScopeContention when the shard
// lock cannot be acquired within the timeout; the scope state is left
// untouched in that case.
func (t *Tracker) Update(sc event.Scope, at time.Time, th Thresholds) (Score, error) {
	key := sc.Key()
	sh := t.shardFor(key)
	if !t.acquire(sh) {
		return Score{}, ErrScopeContention
	}
	defer t.release(sh)

	st := sh.scopes[key]
	if st == nil {
		st = &scopeState{}
		sh.scopes[key] = st
	}

	idx := at.Unix() / int64(t.opts.BucketSeconds)
	switch {
	case !st.seen:
		st.seen = true
		st.curIdx = idx
		st.curN = 1
	case idx == st.curIdx:
		st.curN++
	case idx > st.curIdx:
		st.closed = append(st.closed, bucketCount{idx: st.curIdx, count: st.curN})
		st.curIdx = idx
		st.curN = 1
	default:
		// Late event behind the current bucket: fold it in rather
		// than rewrite a closed bucket.
		st.curN++
	}

	window := th.WindowBuckets
	if window <= 0 || window > t.opts.MaxWindowBuckets {
		window = t.opts.MaxWindowBuckets
	}
	st.closed = trimWindow(st.closed, st.curIdx-int64(window), t.opts.MaxWindowBuckets)

	mean, stddev := baselineStats(st.closed)
	score := Score{
		Scope:           sc,
		Bucket:          st.curIdx,
		Count:           st.curN,
		Mean:            mean,
		Stddev:          stddev,
		BaselineBuckets: len(st.closed),
	}
	score.Value = (float64(st.curN) - mean) / math.Max(stddev, epsilon)
	if len(st.closed) < th.MinBuckets {
		score.Cold = true
		return score, nil
	}
	if score.Value > th.Multiplier && st.curN >= th.MinEvents {
		score.Bursting = true
	}
	return score, nil
}

// Len returns the number of scopes currently tracked.
func (t *Tracker) Len() int {
	total := 0
	for _, sh := range t.shards {
		if !t.acquire(sh) {
			continue
		}
		total += len(sh.scopes)
		t.release(sh)
	}
	return total
}

// BaselineStats describes a scope's current baseline, for status
// surfaces and tests.
type BaselineStats struct {
	Buckets int
	Mean    float64
	Stddev  float64
	Current int
}

// Baseline returns the baseline for one scope, if tracked.
func (t *Tracker) Baseline(sc event.Scope) (BaselineStats, bool) {
	key := sc.Key()
	sh := t.shardFor(key)
	if !t.acquire(sh) {
		return BaselineStats{}, false
	}
	defer t.release(sh)
	st, ok := sh.scopes[key]
	if !ok {
		return BaselineStats{}, false
	}
	mean, stddev := baselineStats(st.closed)
	return BaselineStats{
		Buckets: len(st.closed),
		Mean:    mean,
		Stddev:  stddev,
		Current: st.curN,
	}, true
}

// trimWindow drops closed buckets older than lo (exclusive) and caps
// the slice length, compacting the backing array when it has grown
// well past what it holds.
func trimWindow(closed []bucketCount, lo int64, max int) []bucketCount {
	i := 0
	for i < len(closed) && closed[i].idx <= lo {
		i++
	}
	closed = closed[i:]
	if len(closed) > max {
		closed = closed[len(closed)-max:]
	}
	if cap(closed) > 64 && cap(closed) > 4*len(closed) {
		compact := make([]bucketCount, len(closed))
		copy(compact, closed)
		closed = compact
	}
	return closed
}

func baselineStats(closed []bucketCount) (mean, stddev float64) {
	n := len(closed)
	if n == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, b := range closed {
		sum += float64(b.count)
	}
	mean = sum / float64(n)
	sq := 0.0
	for _, b := range closed {
		d := float64(b.count) - mean
		sq += d * d
	}
	variance := sq / float64(n)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
