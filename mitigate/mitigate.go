// Package mitigate maps alert classifications onto recommended actions.
// The decider never performs the action itself; it stamps the alert and
// the operator (or an enforcement sidecar) acts on it.
package mitigate

import (
	"sync/atomic"

	"vigil/correlate"
)

type Action string

const (
	ActionNone           Action = "none"
	ActionNotify         Action = "notify"
	ActionIsolateProcess Action = "isolate-process"
	ActionBlockPath      Action = "block-path"
)

func (a Action) String() string {
	return string(a)
}

// Decider chooses an action from severity and type. The enabled flag can
// flip at runtime and takes effect on the next decision.
type Decider struct {
	enabled atomic.Bool
}

func NewDecider(enabled bool) *Decider {
	d := &Decider{}
	d.enabled.Store(enabled)
	return d
}

func (d *Decider) SetEnabled(v bool) {
	d.enabled.Store(v)
}

func (d *Decider) Enabled() bool {
	return d.enabled.Load()
}

// Decide returns the recommended action. With mitigation disabled,
// anything worth seeing degrades to a notification.
func (d *Decider) Decide(severity correlate.Severity, _ correlate.Type) Action {
	if !d.enabled.Load() {
		if severity.AtLeast(correlate.SeverityMedium) {
			return ActionNotify
		}
		return ActionNone
	}
	switch severity {
	case correlate.SeverityCritical:
		return ActionIsolateProcess
	case correlate.SeverityHigh:
		return ActionBlockPath
	case correlate.SeverityMedium:
		return ActionNotify
	default:
		return ActionNone
	}
}
