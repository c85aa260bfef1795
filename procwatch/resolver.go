package procwatch

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"vigil/logger"
)

// WriterStat is one process's cumulative disk write counter.
type WriterStat struct {
	PID        int32
	Name       string
	WriteBytes uint64
}

// WriterSampler reads the current write counters.
type WriterSampler func() ([]WriterStat, error)

const (
	// Writers below this many bytes between samples are background
	// noise, not candidates for attribution.
	defaultMinWriteDelta = 256 * 1024
	// An attribution older than this says nothing about the current
	// event and is discarded.
	defaultBusiestTTL = 15 * time.Second
)

type ResolverOptions struct {
	Sampler       WriterSampler
	MinWriteDelta uint64
	TTL           time.Duration
	NowFn         func() time.Time
}

// Resolver attributes file activity to processes. Filesystem polling
// carries no writer identity, so the heaviest recent disk writer is
// recorded as the likely author of new events. Best effort only: the
// answer is advisory and never blocks detection.
type Resolver struct {
	sampler  WriterSampler
	minDelta uint64
	ttl      time.Duration
	nowFn    func() time.Time

	mu      sync.Mutex
	prev    map[int32]uint64
	busiest string
	at      time.Time
}

func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Sampler == nil {
		opts.Sampler = sampleWriters
	}
	if opts.MinWriteDelta == 0 {
		opts.MinWriteDelta = defaultMinWriteDelta
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultBusiestTTL
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	return &Resolver{
		sampler:  opts.Sampler,
		minDelta: opts.MinWriteDelta,
		ttl:      opts.TTL,
		nowFn:    opts.NowFn,
	}
}

// Sample reads the write counters once and updates the attribution.
// The first sample only establishes the baseline.
func (r *Resolver) Sample() {
	stats, err := r.sampler()
	if err != nil {
		logger.Debugf("Writer sampling unavailable: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[int32]uint64, len(stats))
	first := r.prev == nil
	var topName string
	var topDelta uint64
	for _, st := range stats {
		next[st.PID] = st.WriteBytes
		if first {
			continue
		}
		prev, ok := r.prev[st.PID]
		if !ok || st.WriteBytes < prev {
			// New PID or counter reset: no usable delta this round.
			continue
		}
		delta := st.WriteBytes - prev
		if delta >= r.minDelta && delta > topDelta {
			topDelta = delta
			topName = st.Name
		}
	}
	r.prev = next

	if topName != "" {
		r.busiest = topName
		r.at = r.nowFn()
	}
}

// Busiest returns the most recent attribution if it is still fresh.
func (r *Resolver) Busiest() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busiest == "" || r.nowFn().Sub(r.at) > r.ttl {
		return "", false
	}
	return r.busiest, true
}

func sampleWriters() ([]WriterStat, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]WriterStat, 0, len(procs))
	for _, pr := range procs {
		counters, err := pr.IOCounters()
		if err != nil || counters == nil {
			continue
		}
		name, err := pr.Name()
		if err != nil {
			continue
		}
		out = append(out, WriterStat{PID: pr.Pid, Name: name, WriteBytes: counters.WriteBytes})
	}
	return out, nil
}
