// Package correlate fuses entropy, burst, and process signals into
// classified alerts, suppressing duplicates inside the configured window.
package correlate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"vigil/burst"
	"vigil/entropy"
	"vigil/event"
)

const recentCapacity = 100

// Input carries everything known about one observation. Sample, Bursts,
// and VSS are each optional; Evidence holds enrichment gathered upstream
// and is copied, never mutated.
type Input struct {
	Event       event.FileEvent
	Sample      *entropy.Sample
	Bursts      []burst.Score
	VSS         *event.VSSSignal
	ProcessName string
	Evidence    map[string]string
}

// Params is the per-evaluation threshold snapshot. Callers load it once
// per event so a mid-pass update cannot mix old and new limits.
type Params struct {
	ConfidenceCutoff   float64
	HighConfidenceBand float64
	BurstMultiplier    float64
	SuppressionWindow  time.Duration
}

type Correlator struct {
	dedup  *dedupCache
	recent *recentRing
}

func New() *Correlator {
	return &Correlator{
		dedup:  newDedupCache(),
		recent: newRecentRing(recentCapacity),
	}
}

// Evaluate classifies the input. It returns the alert to raise, or nil
// with suppressed=true when a duplicate fell inside the suppression
// window, or nil with suppressed=false when no rule matched. Dedup state
// is recorded here, at raise time, before any sink sees the alert.
func (c *Correlator) Evaluate(in Input, p Params) (alert *Alert, suppressed bool) {
	a := classify(in, p)
	if a == nil {
		return nil, false
	}
	if !c.dedup.shouldRaise(a.DedupKey, a.Timestamp, p.SuppressionWindow) {
		return nil, true
	}
	return a, false
}

// Remember adds a raised alert to the recent ring. Callers invoke it
// after the decider stamped ActionTaken so the admin API shows the
// final form.
func (c *Correlator) Remember(a Alert) {
	c.recent.push(a)
}

// RecentAlerts returns up to limit remembered alerts, newest first.
// A non-positive limit returns the whole ring.
func (c *Correlator) RecentAlerts(limit int) []Alert {
	return c.recent.recent(limit)
}

// classify applies the rules in order; the first match wins.
func classify(in Input, p Params) *Alert {
	if in.VSS != nil {
		sig := in.VSS
		scope := sig.Scope()
		ev := cloneEvidence(in.Evidence)
		ev["command"] = sig.Command
		ev["pid"] = fmt.Sprintf("%d", sig.PID)
		return &Alert{
			ID:          uuid.NewString(),
			Type:        TypeVSS,
			Severity:    SeverityCritical,
			Message:     fmt.Sprintf("Shadow copy tampering by %s (pid %d)", sig.Process, sig.PID),
			Scope:       scope.Key(),
			ProcessName: sig.Process,
			Timestamp:   sig.Time,
			DedupKey:    dedupKey(scope.Key(), TypeVSS),
			Evidence:    ev,
		}
	}

	entropic := in.Sample != nil && in.Sample.Confidence >= p.ConfidenceCutoff
	strongest, bursting := strongestBurst(in.Bursts)

	switch {
	case entropic && bursting:
		ev := entropyEvidence(cloneEvidence(in.Evidence), in.Sample)
		ev = burstEvidence(ev, strongest)
		return &Alert{
			ID:       uuid.NewString(),
			Type:     TypeCombined,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("Encryption burst: high entropy write to %s during modification burst on %s",
				in.Event.Path, strongest.Scope.Key()),
			Path:        in.Event.Path,
			Scope:       strongest.Scope.Key(),
			ProcessName: in.ProcessName,
			Timestamp:   in.Event.Time,
			DedupKey:    dedupKey(strongest.Scope.Key(), TypeCombined),
			Evidence:    ev,
		}

	case entropic:
		sev := SeverityMedium
		if in.Sample.Confidence >= p.HighConfidenceBand {
			sev = SeverityHigh
		}
		return &Alert{
			ID:       uuid.NewString(),
			Type:     TypeEntropy,
			Severity: sev,
			Message: fmt.Sprintf("High entropy write to %s (confidence %.2f)",
				in.Event.Path, in.Sample.Confidence),
			Path:        in.Event.Path,
			ProcessName: in.ProcessName,
			Timestamp:   in.Event.Time,
			DedupKey:    dedupKey(in.Event.Path, TypeEntropy),
			Evidence:    entropyEvidence(cloneEvidence(in.Evidence), in.Sample),
		}

	case bursting:
		sev := SeverityMedium
		if strongest.Value > 2*p.BurstMultiplier {
			sev = SeverityHigh
		}
		return &Alert{
			ID:       uuid.NewString(),
			Type:     TypeBurst,
			Severity: sev,
			Message: fmt.Sprintf("Modification burst on %s: %d events against baseline %.1f",
				strongest.Scope.Key(), strongest.Count, strongest.Mean),
			Path:        in.Event.Path,
			Scope:       strongest.Scope.Key(),
			ProcessName: in.ProcessName,
			Timestamp:   in.Event.Time,
			DedupKey:    dedupKey(strongest.Scope.Key(), TypeBurst),
			Evidence:    burstEvidence(cloneEvidence(in.Evidence), strongest),
		}
	}

	return nil
}

// strongestBurst picks the bursting scope with the highest score.
func strongestBurst(scores []burst.Score) (burst.Score, bool) {
	var best burst.Score
	found := false
	for _, s := range scores {
		if !s.Bursting {
			continue
		}
		if !found || s.Value > best.Value {
			best = s
			found = true
		}
	}
	return best, found
}

func dedupKey(scopeOrPath string, t Type) string {
	return scopeOrPath + "|" + string(t)
}

func cloneEvidence(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+4)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func entropyEvidence(ev map[string]string, s *entropy.Sample) map[string]string {
	ev["mean_entropy"] = fmt.Sprintf("%.2f", s.Mean)
	ev["entropy_variance"] = fmt.Sprintf("%.2f", s.Variance)
	ev["chi_square"] = fmt.Sprintf("%.1f", s.ChiSquare)
	ev["confidence"] = fmt.Sprintf("%.2f", s.Confidence)
	return ev
}

func burstEvidence(ev map[string]string, s burst.Score) map[string]string {
	ev["burst_scope"] = s.Scope.Key()
	ev["burst_score"] = fmt.Sprintf("%.1f", s.Value)
	ev["bucket_events"] = fmt.Sprintf("%d", s.Count)
	ev["baseline_mean"] = fmt.Sprintf("%.1f", s.Mean)
	return ev
}
