// Package whitelist suppresses detection for trusted processes and
// directory trees. Reads run lock-free against an immutable snapshot;
// writers serialize and publish a new snapshot atomically, so a match
// never sees a half-applied update.
package whitelist

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/event"
	"vigil/utils"
)

type Kind string

const (
	KindProcess   Kind = "process"
	KindDirectory Kind = "directory"
)

// Entry is one whitelisted process name or directory prefix.
type Entry struct {
	Kind    Kind      `json:"kind"`
	Value   string    `json:"value"`
	AddedAt time.Time `json:"added_at"`
}

type snapshot struct {
	procs map[string]Entry
	dirs  []Entry
}

// Filter is the whitelist store. The zero value is not usable; call New.
type Filter struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func New() *Filter {
	f := &Filter{}
	f.snap.Store(&snapshot{procs: map[string]Entry{}})
	return f
}

func normalizeProcess(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddProcess whitelists a process by exact name, case-insensitively.
// Adding an existing entry is a no-op that keeps the original AddedAt.
func (f *Filter) AddProcess(name string) Entry {
	name = normalizeProcess(name)
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := f.snap.Load()
	if e, ok := cur.procs[name]; ok {
		return e
	}
	e := Entry{Kind: KindProcess, Value: name, AddedAt: time.Now().UTC()}
	next := &snapshot{procs: make(map[string]Entry, len(cur.procs)+1), dirs: cur.dirs}
	for k, v := range cur.procs {
		next.procs[k] = v
	}
	next.procs[name] = e
	f.snap.Store(next)
	return e
}

// AddDirectory whitelists a directory prefix. The path is normalized;
// everything at or below it matches. Idempotent.
func (f *Filter) AddDirectory(path string) Entry {
	path = utils.NormalizePath(path)
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := f.snap.Load()
	for _, e := range cur.dirs {
		if e.Value == path {
			return e
		}
	}
	e := Entry{Kind: KindDirectory, Value: path, AddedAt: time.Now().UTC()}
	dirs := make([]Entry, 0, len(cur.dirs)+1)
	dirs = append(dirs, cur.dirs...)
	dirs = append(dirs, e)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Value < dirs[j].Value })
	f.snap.Store(&snapshot{procs: cur.procs, dirs: dirs})
	return e
}

// Remove deletes an entry and reports whether it existed.
func (f *Filter) Remove(kind Kind, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := f.snap.Load()
	switch kind {
	case KindProcess:
		value = normalizeProcess(value)
		if _, ok := cur.procs[value]; !ok {
			return false
		}
		next := &snapshot{procs: make(map[string]Entry, len(cur.procs)), dirs: cur.dirs}
		for k, v := range cur.procs {
			if k != value {
				next.procs[k] = v
			}
		}
		f.snap.Store(next)
		return true
	case KindDirectory:
		value = utils.NormalizePath(value)
		idx := -1
		for i, e := range cur.dirs {
			if e.Value == value {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		dirs := make([]Entry, 0, len(cur.dirs)-1)
		dirs = append(dirs, cur.dirs[:idx]...)
		dirs = append(dirs, cur.dirs[idx+1:]...)
		f.snap.Store(&snapshot{procs: cur.procs, dirs: dirs})
		return true
	}
	return false
}

// Match reports whether the event is whitelisted, either by exact
// process name or because its path sits under a whitelisted directory.
func (f *Filter) Match(ev event.FileEvent) bool {
	s := f.snap.Load()
	if ev.ProcessName != "" {
		if _, ok := s.procs[normalizeProcess(ev.ProcessName)]; ok {
			return true
		}
	}
	if len(s.dirs) == 0 {
		return false
	}
	path := utils.NormalizePath(ev.Path)
	for _, d := range s.dirs {
		if utils.HasPathPrefix(path, d.Value) {
			return true
		}
	}
	return false
}

// MatchProcess reports whether a bare process name is whitelisted.
func (f *Filter) MatchProcess(name string) bool {
	if name == "" {
		return false
	}
	_, ok := f.snap.Load().procs[normalizeProcess(name)]
	return ok
}

// Entries returns every entry, directories first, each group sorted.
func (f *Filter) Entries() []Entry {
	s := f.snap.Load()
	out := make([]Entry, 0, len(s.dirs)+len(s.procs))
	out = append(out, s.dirs...)
	procs := make([]Entry, 0, len(s.procs))
	for _, e := range s.procs {
		procs = append(procs, e)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Value < procs[j].Value })
	return append(out, procs...)
}

func (f *Filter) Len() int {
	s := f.snap.Load()
	return len(s.dirs) + len(s.procs)
}

type seedFile struct {
	Processes   []string `json:"processes"`
	Directories []string `json:"directories"`
}

// LoadFile seeds the filter from a JSON file with "processes" and
// "directories" arrays. Returns the number of entries added.
func (f *Filter) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read whitelist file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse whitelist file %s: %w", path, err)
	}
	before := f.Len()
	for _, p := range seed.Processes {
		if strings.TrimSpace(p) != "" {
			f.AddProcess(p)
		}
	}
	for _, d := range seed.Directories {
		if strings.TrimSpace(d) != "" {
			f.AddDirectory(d)
		}
	}
	return f.Len() - before, nil
}
