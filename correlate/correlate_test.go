package correlate

import (
	"fmt"
	"testing"
	"time"

	"vigil/burst"
	"vigil/entropy"
	"vigil/event"
)

var testParams = Params{
	ConfidenceCutoff:   0.5,
	HighConfidenceBand: 0.8,
	BurstMultiplier:    3.0,
	SuppressionWindow:  5 * time.Minute,
}

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func fileEvent(path string, at time.Time) event.FileEvent {
	return event.FileEvent{Path: path, Kind: event.Modified, Time: at, Size: 4096}
}

func dirScope(path string) event.Scope {
	return event.Scope{Kind: event.ScopeDirectory, Value: path}
}

func procScope(name string) event.Scope {
	return event.Scope{Kind: event.ScopeProcess, Value: name}
}

func sample(conf float64) *entropy.Sample {
	return &entropy.Sample{Mean: 7.9, Variance: 0.01, ChiSquare: 250, Confidence: conf}
}

func burstScore(scope event.Scope, value float64, bursting bool) burst.Score {
	return burst.Score{Scope: scope, Count: 50, Mean: 5.0, Stddev: 1.0, Value: value, Bursting: bursting}
}

func TestVSSRuleWinsOverEverything(t *testing.T) {
	c := New()
	in := Input{
		Event:  fileEvent("/home/user/doc.txt", base),
		Sample: sample(0.9),
		Bursts: []burst.Score{burstScore(dirScope("/home/user"), 45, true)},
		VSS: &event.VSSSignal{
			Time:    base,
			PID:     4242,
			Process: "vssadmin.exe",
			Command: "vssadmin delete shadows /all /quiet",
		},
	}

	a, suppressed := c.Evaluate(in, testParams)
	if suppressed {
		t.Fatal("first alert should not be suppressed")
	}
	if a == nil {
		t.Fatal("expected an alert")
	}
	if a.Type != TypeVSS {
		t.Errorf("expected vss type, got %s", a.Type)
	}
	if a.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", a.Severity)
	}
	if a.ProcessName != "vssadmin.exe" {
		t.Errorf("unexpected process name %q", a.ProcessName)
	}
	if a.Evidence["command"] != "vssadmin delete shadows /all /quiet" {
		t.Errorf("command missing from evidence: %v", a.Evidence)
	}
	if a.ID == "" {
		t.Error("alert should carry an ID")
	}
}

func TestCombinedRule(t *testing.T) {
	c := New()
	scope := dirScope("/home/user")
	in := Input{
		Event:  fileEvent("/home/user/doc.txt", base),
		Sample: sample(0.6),
		Bursts: []burst.Score{burstScore(scope, 12, true)},
	}

	a, _ := c.Evaluate(in, testParams)
	if a == nil {
		t.Fatal("expected an alert")
	}
	if a.Type != TypeCombined {
		t.Errorf("expected combined type, got %s", a.Type)
	}
	if a.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", a.Severity)
	}
	if a.Scope != scope.Key() {
		t.Errorf("expected scope %s, got %s", scope.Key(), a.Scope)
	}
	if a.Evidence["burst_score"] != "12.0" {
		t.Errorf("expected burst score evidence, got %v", a.Evidence)
	}
	if a.Evidence["confidence"] != "0.60" {
		t.Errorf("expected confidence evidence, got %v", a.Evidence)
	}
}

func TestEntropySeverityBands(t *testing.T) {
	c := New()

	in := Input{Event: fileEvent("/home/user/a.txt", base), Sample: sample(0.6)}
	a, _ := c.Evaluate(in, testParams)
	if a == nil || a.Type != TypeEntropy || a.Severity != SeverityMedium {
		t.Fatalf("confidence 0.6 should raise medium entropy alert, got %+v", a)
	}

	in = Input{Event: fileEvent("/home/user/b.txt", base), Sample: sample(0.85)}
	a, _ = c.Evaluate(in, testParams)
	if a == nil || a.Severity != SeverityHigh {
		t.Fatalf("confidence 0.85 should raise high entropy alert, got %+v", a)
	}

	in = Input{Event: fileEvent("/home/user/c.txt", base), Sample: sample(0.4)}
	a, suppressed := c.Evaluate(in, testParams)
	if a != nil || suppressed {
		t.Fatalf("confidence below cutoff should raise nothing, got %+v", a)
	}
}

func TestBurstSeverityScalesWithScore(t *testing.T) {
	c := New()
	scopeA := dirScope("/srv/a")
	scopeB := dirScope("/srv/b")

	in := Input{
		Event:  fileEvent("/srv/a/f.txt", base),
		Bursts: []burst.Score{burstScore(scopeA, 4, true)},
	}
	a, _ := c.Evaluate(in, testParams)
	if a == nil || a.Type != TypeBurst || a.Severity != SeverityMedium {
		t.Fatalf("score 4 should raise medium burst alert, got %+v", a)
	}

	in = Input{
		Event:  fileEvent("/srv/b/f.txt", base),
		Bursts: []burst.Score{burstScore(scopeB, 45, true)},
	}
	a, _ = c.Evaluate(in, testParams)
	if a == nil || a.Severity != SeverityHigh {
		t.Fatalf("score 45 should raise high burst alert, got %+v", a)
	}
}

func TestStrongestBurstingScopeWins(t *testing.T) {
	c := New()
	dir := dirScope("/srv/data")
	proc := procScope("Encryptor.EXE")
	in := Input{
		Event: fileEvent("/srv/data/f.txt", base),
		Bursts: []burst.Score{
			burstScore(dir, 8, true),
			burstScore(proc, 20, true),
			burstScore(dirScope("/srv/quiet"), 99, false),
		},
	}

	a, _ := c.Evaluate(in, testParams)
	if a == nil {
		t.Fatal("expected an alert")
	}
	if a.Scope != proc.Key() {
		t.Errorf("expected strongest bursting scope %s, got %s", proc.Key(), a.Scope)
	}
}

func TestNoSignalNoAlert(t *testing.T) {
	c := New()
	in := Input{
		Event:  fileEvent("/home/user/quiet.txt", base),
		Bursts: []burst.Score{burstScore(dirScope("/home/user"), 1.0, false)},
	}
	a, suppressed := c.Evaluate(in, testParams)
	if a != nil {
		t.Errorf("expected no alert, got %+v", a)
	}
	if suppressed {
		t.Error("nothing was suppressed")
	}
}

func TestDedupWindow(t *testing.T) {
	c := New()
	mk := func(at time.Time) Input {
		return Input{Event: fileEvent("/home/user/doc.txt", at), Sample: sample(0.9)}
	}

	a, suppressed := c.Evaluate(mk(base), testParams)
	if a == nil || suppressed {
		t.Fatal("first alert should raise")
	}

	a, suppressed = c.Evaluate(mk(base.Add(4*time.Minute)), testParams)
	if a != nil || !suppressed {
		t.Fatal("duplicate inside the window should be suppressed")
	}

	// The first raise survives: suppression measures from base, not from
	// the suppressed attempt.
	a, suppressed = c.Evaluate(mk(base.Add(6*time.Minute)), testParams)
	if a == nil || suppressed {
		t.Fatal("alert outside the window should raise again")
	}

	a, suppressed = c.Evaluate(mk(base.Add(8*time.Minute)), testParams)
	if a != nil || !suppressed {
		t.Fatal("duplicate inside the renewed window should be suppressed")
	}
}

func TestDedupHoldsAcrossSeverityChange(t *testing.T) {
	c := New()
	scope := dirScope("/srv/data")
	mk := func(score float64, at time.Time) Input {
		return Input{
			Event:  fileEvent("/srv/data/f.txt", at),
			Bursts: []burst.Score{burstScore(scope, score, true)},
		}
	}

	a, _ := c.Evaluate(mk(4, base), testParams)
	if a == nil || a.Severity != SeverityMedium {
		t.Fatalf("score 4 should raise medium, got %+v", a)
	}

	// A growing burst crosses into the high band mid-window. The key is
	// the same, so the candidate is suppressed like any other duplicate:
	// at most one alert per key per window.
	a, suppressed := c.Evaluate(mk(7, base.Add(time.Minute)), testParams)
	if a != nil || !suppressed {
		t.Fatalf("more severe duplicate inside window should be suppressed, got %+v", a)
	}

	// The window lapses and the high-band score raises normally.
	a, suppressed = c.Evaluate(mk(8, base.Add(6*time.Minute)), testParams)
	if a == nil || suppressed {
		t.Fatal("alert outside the window should raise again")
	}
	if a.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", a.Severity)
	}
}

func TestDedupKeysSeparatePathsAndTypes(t *testing.T) {
	c := New()

	a1, _ := c.Evaluate(Input{Event: fileEvent("/home/user/a.txt", base), Sample: sample(0.9)}, testParams)
	a2, _ := c.Evaluate(Input{Event: fileEvent("/home/user/b.txt", base), Sample: sample(0.9)}, testParams)
	if a1 == nil || a2 == nil {
		t.Fatal("different paths must not dedup against each other")
	}

	// Burst alerts key on scope, not path, so the earlier entropy
	// raises cannot suppress them.
	scope := dirScope("/home/user")
	a3, _ := c.Evaluate(Input{
		Event:  fileEvent("/home/user/a.txt", base),
		Bursts: []burst.Score{burstScore(scope, 10, true)},
	}, testParams)
	if a3 == nil || a3.Type != TypeBurst {
		t.Fatalf("burst alert should raise independently of entropy dedup, got %+v", a3)
	}
}

func TestEvidencePropagation(t *testing.T) {
	c := New()
	in := Input{
		Event:    fileEvent("/home/user/report.docx", base),
		Sample:   sample(0.9),
		Evidence: map[string]string{"signature_mismatch": "claimed docx, detected unknown"},
	}

	a, _ := c.Evaluate(in, testParams)
	if a == nil {
		t.Fatal("expected an alert")
	}
	if a.Evidence["signature_mismatch"] == "" {
		t.Error("caller evidence should be carried into the alert")
	}
	if a.Evidence["mean_entropy"] == "" {
		t.Error("entropy numbers should be added to evidence")
	}
	if len(in.Evidence) != 1 {
		t.Errorf("caller map must not be mutated, got %v", in.Evidence)
	}
}

func TestRecentRing(t *testing.T) {
	c := New()
	for i := 0; i < 150; i++ {
		c.Remember(Alert{ID: fmt.Sprintf("a-%d", i), Type: TypeEntropy, Severity: SeverityMedium})
	}

	all := c.RecentAlerts(0)
	if len(all) != recentCapacity {
		t.Fatalf("expected ring capped at %d, got %d", recentCapacity, len(all))
	}
	if all[0].ID != "a-149" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}
	if all[len(all)-1].ID != "a-50" {
		t.Errorf("expected oldest retained a-50, got %s", all[len(all)-1].ID)
	}

	five := c.RecentAlerts(5)
	if len(five) != 5 || five[0].ID != "a-149" || five[4].ID != "a-145" {
		t.Errorf("unexpected limited slice: %+v", five)
	}
}

func TestRecentRingPartialFill(t *testing.T) {
	c := New()
	c.Remember(Alert{ID: "only"})
	got := c.RecentAlerts(10)
	if len(got) != 1 || got[0].ID != "only" {
		t.Errorf("expected single alert, got %+v", got)
	}
}

func TestSeverityRank(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should rank at least high")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("low should not rank at least medium")
	}
	if !SeverityMedium.AtLeast(SeverityMedium) {
		t.Error("a severity ranks at least itself")
	}
	if Severity("bogus").AtLeast(SeverityLow) {
		t.Error("unknown severities rank below low")
	}
}
