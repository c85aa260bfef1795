// Package watcher turns filesystem differences into FileEvents by
// polling the watched roots. Polling needs no platform hooks and works
// on network shares; its cost is bounded by the emit limiter, which
// also caps the snapshot reads each event triggers downstream.
package watcher

import (
	"context"
	"io/fs"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"vigil/event"
	"vigil/logger"
	"vigil/utils"
)

type fileState struct {
	size    int64
	modTime time.Time
}

type Options struct {
	Roots           []string
	PollInterval    time.Duration
	IncludePatterns []string
	ExcludePatterns []string
	// MaxPerSecond bounds event emission, and with it the downstream
	// snapshot read rate. Zero means unlimited.
	MaxPerSecond int
	// Emit receives every detected change. Must not be nil.
	Emit func(event.FileEvent)
	// ProcessNamer, when set, attributes events to a likely writer.
	ProcessNamer func() (string, bool)
	NowFn        func() time.Time
}

// Watcher diffs successive walks of the roots. The first walk only
// seeds the baseline: emitting every pre-existing file would flood the
// detector with phantom creates.
type Watcher struct {
	roots    []string
	interval time.Duration
	matcher  *utils.PatternMatcher
	limiter  *rate.Limiter
	emit     func(event.FileEvent)
	procName func() (string, bool)
	nowFn    func() time.Time
	walker   walker

	// state is owned by the polling goroutine; Scan must not be called
	// concurrently.
	state  map[string]fileState
	primed bool

	tracked atomic.Int64
	scans   atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		if r == "" {
			continue
		}
		roots = append(roots, utils.NormalizePath(r))
	}
	var limiter *rate.Limiter
	if opts.MaxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxPerSecond), opts.MaxPerSecond)
	}
	return &Watcher{
		roots:    roots,
		interval: opts.PollInterval,
		matcher:  utils.NewPatternMatcher(opts.IncludePatterns, opts.ExcludePatterns),
		limiter:  limiter,
		emit:     opts.Emit,
		procName: opts.ProcessNamer,
		nowFn:    opts.NowFn,
		walker:   fastWalker{},
		state:    make(map[string]fileState),
	}
}

func (w *Watcher) Start(ctx context.Context) {
	if w.stopCh != nil {
		return
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		// Seed the baseline immediately instead of waiting a full tick.
		if err := w.Scan(ctx); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if err := w.Scan(ctx); err != nil {
					return
				}
			}
		}
	}()
}

func (w *Watcher) Close() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

// Tracked reports how many files the last completed scan saw.
func (w *Watcher) Tracked() int64 { return w.tracked.Load() }

// Scans reports how many diff passes have run, the baseline included.
func (w *Watcher) Scans() int64 { return w.scans.Load() }

// Scan walks the roots once and emits the differences against the
// previous walk. It returns an error only when ctx is done.
func (w *Watcher) Scan(ctx context.Context) error {
	now := w.nowFn()
	current := make(map[string]fileState, len(w.state))
	for _, root := range w.roots {
		err := w.walker.Walk(ctx, root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warnf("Failed to access %s: %v", path, err)
				return nil
			}
			if d == nil || d.IsDir() {
				return nil
			}
			if !w.matcher.ShouldInclude(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			current[path] = fileState{size: info.Size(), modTime: info.ModTime()}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("Error walking %s: %v", root, err)
		}
	}

	w.scans.Add(1)
	w.tracked.Store(int64(len(current)))

	if !w.primed {
		w.state = current
		w.primed = true
		return nil
	}

	var created []string
	for path, cur := range current {
		prev, ok := w.state[path]
		switch {
		case !ok:
			created = append(created, path)
		case cur.modTime != prev.modTime || cur.size != prev.size:
			w.send(ctx, event.FileEvent{Path: path, Kind: event.Modified, Time: now, Size: cur.size})
		}
	}

	// A delete and a create with identical size and mtime in the same
	// pass is a rename; pair them up before reporting the leftovers.
	type stateKey struct {
		size  int64
		mtime int64
	}
	vanished := make(map[stateKey][]string)
	for path, prev := range w.state {
		if _, ok := current[path]; !ok {
			k := stateKey{prev.size, prev.modTime.UnixNano()}
			vanished[k] = append(vanished[k], path)
		}
	}
	for _, path := range created {
		cur := current[path]
		k := stateKey{cur.size, cur.modTime.UnixNano()}
		if olds := vanished[k]; len(olds) > 0 {
			vanished[k] = olds[1:]
			w.send(ctx, event.FileEvent{Path: path, Kind: event.Renamed, Time: now, Size: cur.size})
			continue
		}
		w.send(ctx, event.FileEvent{Path: path, Kind: event.Created, Time: now, Size: cur.size})
	}
	for _, olds := range vanished {
		for _, path := range olds {
			w.send(ctx, event.FileEvent{Path: path, Kind: event.Deleted, Time: now, Size: w.state[path].size})
		}
	}

	w.state = current
	return ctx.Err()
}

func (w *Watcher) send(ctx context.Context, ev event.FileEvent) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}
	if ev.ProcessName == "" && w.procName != nil {
		if name, ok := w.procName(); ok {
			ev.ProcessName = name
		}
	}
	w.emit(ev)
}
