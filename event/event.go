// Package event defines the filesystem change records that flow through
// the detection pipeline and the scope keys derived from them.
package event

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a filesystem change.
type Kind uint8

const (
	Created Kind = iota
	Modified
	Deleted
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent is one observed filesystem change. Size is -1 when the
// producer could not stat the file (deletions, races with the writer).
// ProcessName is best-effort and empty when no resolver attributed the
// change to a process.
type FileEvent struct {
	Path        string
	Kind        Kind
	Time        time.Time
	Size        int64
	ProcessName string
}

// Ext returns the lowercased final extension of the event path,
// including the dot, or "" when there is none.
func (e FileEvent) Ext() string {
	return strings.ToLower(filepath.Ext(e.Path))
}

// Base returns the final path element.
func (e FileEvent) Base() string {
	return filepath.Base(e.Path)
}

// ScopeKind separates the two aggregation domains burst tracking runs
// over.
type ScopeKind uint8

const (
	ScopeDirectory ScopeKind = iota
	ScopeProcess
)

func (k ScopeKind) String() string {
	if k == ScopeProcess {
		return "process"
	}
	return "directory"
}

// Scope identifies one aggregation bucket domain: a parent directory or
// an originating process. Value is normalized so that equal scopes
// compare equal as map keys.
type Scope struct {
	Kind  ScopeKind
	Value string
}

// Key returns the canonical string form used for sharding, locking and
// alert dedup.
func (s Scope) Key() string {
	if s.Kind == ScopeProcess {
		return "proc:" + s.Value
	}
	return "dir:" + s.Value
}

// DirScope returns the directory scope for the event path.
func (e FileEvent) DirScope() Scope {
	return Scope{Kind: ScopeDirectory, Value: filepath.Dir(filepath.Clean(e.Path))}
}

// ProcScope returns the process scope when the event carries an
// attributed process name.
func (e FileEvent) ProcScope() (Scope, bool) {
	if e.ProcessName == "" {
		return Scope{}, false
	}
	return Scope{Kind: ScopeProcess, Value: strings.ToLower(e.ProcessName)}, true
}

// Scopes returns every scope the event belongs to, directory first.
func (e FileEvent) Scopes() []Scope {
	scopes := []Scope{e.DirScope()}
	if ps, ok := e.ProcScope(); ok {
		scopes = append(scopes, ps)
	}
	return scopes
}

// VSSSignal reports a process observed running a shadow-copy or
// recovery tampering command.
type VSSSignal struct {
	Time    time.Time
	PID     int32
	Process string
	Command string
}

// Scope returns the process scope the signal aggregates under.
func (s VSSSignal) Scope() Scope {
	return Scope{Kind: ScopeProcess, Value: strings.ToLower(s.Process)}
}
