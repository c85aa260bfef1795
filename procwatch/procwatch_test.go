package procwatch

import (
	"errors"
	"testing"
	"time"

	"vigil/event"
)

func TestMatchTamper(t *testing.T) {
	positives := []struct{ name, cmdline string }{
		{"vssadmin.exe", "vssadmin delete shadows /all /quiet"},
		{"VSSADMIN.EXE", "VSSADMIN Delete Shadows /All"},
		{"vssadmin", "vssadmin delete shadows"},
		{"wmic.exe", "wmic shadowcopy delete"},
		{"bcdedit.exe", "bcdedit /set {default} recoveryenabled no"},
		{"bcdedit.exe", "bcdedit /set {default} bootstatuspolicy ignoreallfailures"},
		{"powershell.exe", "powershell -c get-wmiobject win32_shadowcopy | foreach { $_.delete() }"},
		{"cmd.exe", `cmd /c "vssadmin delete shadows /all"`},
		{"wbadmin.exe", "wbadmin delete catalog -quiet"},
	}
	for _, tc := range positives {
		if !matchTamper(tc.name, tc.cmdline) {
			t.Errorf("matchTamper(%q, %q) = false, want true", tc.name, tc.cmdline)
		}
	}

	negatives := []struct{ name, cmdline string }{
		{"vssadmin.exe", "vssadmin list shadows"},
		{"bcdedit.exe", "bcdedit /enum"},
		{"explorer.exe", "explorer.exe"},
		{"powershell.exe", "powershell get-process"},
		{"notepad.exe", "notepad vssadmin delete shadows.txt"},
		{"", "vssadmin delete shadows"},
	}
	for _, tc := range negatives {
		if matchTamper(tc.name, tc.cmdline) {
			t.Errorf("matchTamper(%q, %q) = true, want false", tc.name, tc.cmdline)
		}
	}
}

func TestPollerScanDedupAndReuse(t *testing.T) {
	listing := []ProcessInfo{
		{PID: 100, Name: "vssadmin.exe", Cmdline: "vssadmin delete shadows /all"},
		{PID: 101, Name: "notepad.exe", Cmdline: "notepad.exe"},
	}
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	var got []event.VSSSignal
	p := NewPoller(Options{
		List:     func() ([]ProcessInfo, error) { return listing, nil },
		OnSignal: func(s event.VSSSignal) { got = append(got, s) },
		NowFn:    func() time.Time { return now },
	})

	if err := p.scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(got))
	}
	sig := got[0]
	if sig.PID != 100 || sig.Process != "vssadmin.exe" || !sig.Time.Equal(now) {
		t.Errorf("unexpected signal %+v", sig)
	}
	if sig.Command != "vssadmin delete shadows /all" {
		t.Errorf("unexpected command %q", sig.Command)
	}

	// The process keeps running: no duplicate.
	if err := p.scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("long-running process matched twice, got %d signals", len(got))
	}

	// A changed command line on the same PID is a new invocation.
	listing[0].Cmdline = "vssadmin delete shadows /for=c:"
	p.scan()
	if len(got) != 2 {
		t.Fatalf("changed cmdline should signal again, got %d", len(got))
	}

	// PID exits, then the same invocation reappears under the same PID.
	listing = []ProcessInfo{{PID: 101, Name: "notepad.exe", Cmdline: "notepad.exe"}}
	p.scan()
	listing = append(listing, ProcessInfo{PID: 100, Name: "vssadmin.exe", Cmdline: "vssadmin delete shadows /for=c:"})
	p.scan()
	if len(got) != 3 {
		t.Fatalf("reused PID after exit should signal again, got %d", len(got))
	}
	if p.Signals() != 3 {
		t.Errorf("Signals() = %d, want 3", p.Signals())
	}
}

func TestPollerScanError(t *testing.T) {
	p := NewPoller(Options{
		List: func() ([]ProcessInfo, error) { return nil, errors.New("access denied") },
	})
	if err := p.scan(); err == nil {
		t.Fatal("expected scan error")
	}
}

func TestResolverAttribution(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	var stats []WriterStat
	r := NewResolver(ResolverOptions{
		Sampler:       func() ([]WriterStat, error) { return stats, nil },
		MinWriteDelta: 1024,
		TTL:           10 * time.Second,
		NowFn:         func() time.Time { return now },
	})

	stats = []WriterStat{
		{PID: 1, Name: "encryptor", WriteBytes: 0},
		{PID: 2, Name: "editor", WriteBytes: 0},
	}
	r.Sample()
	if _, ok := r.Busiest(); ok {
		t.Fatal("baseline sample must not attribute")
	}

	stats = []WriterStat{
		{PID: 1, Name: "encryptor", WriteBytes: 5 << 20},
		{PID: 2, Name: "editor", WriteBytes: 2048},
	}
	r.Sample()
	name, ok := r.Busiest()
	if !ok || name != "encryptor" {
		t.Fatalf("Busiest() = %q, %t; want encryptor", name, ok)
	}

	// Idle deltas below the floor keep the previous attribution.
	stats = []WriterStat{
		{PID: 1, Name: "encryptor", WriteBytes: 5<<20 + 10},
		{PID: 2, Name: "editor", WriteBytes: 2100},
	}
	r.Sample()
	if name, ok = r.Busiest(); !ok || name != "encryptor" {
		t.Fatalf("Busiest() = %q, %t after idle sample", name, ok)
	}

	now = now.Add(11 * time.Second)
	if _, ok = r.Busiest(); ok {
		t.Fatal("stale attribution should age out")
	}
}

func TestResolverCounterReset(t *testing.T) {
	var stats []WriterStat
	r := NewResolver(ResolverOptions{
		Sampler:       func() ([]WriterStat, error) { return stats, nil },
		MinWriteDelta: 1024,
	})

	stats = []WriterStat{{PID: 7, Name: "old", WriteBytes: 10 << 20}}
	r.Sample()
	// PID reused by a different process: the counter went backwards and
	// must not produce a bogus delta.
	stats = []WriterStat{{PID: 7, Name: "new", WriteBytes: 1 << 20}}
	r.Sample()
	if name, ok := r.Busiest(); ok {
		t.Fatalf("counter reset attributed to %q", name)
	}
}

func TestResolverSamplerError(t *testing.T) {
	r := NewResolver(ResolverOptions{
		Sampler: func() ([]WriterStat, error) { return nil, errors.New("unsupported") },
	})
	r.Sample()
	if _, ok := r.Busiest(); ok {
		t.Fatal("failed sampling must not attribute")
	}
}
