// Package procwatch polls the process table for shadow-copy tampering,
// the loudest precursor of a ransomware run, and keeps track of which
// process is writing the most so file events can name a likely writer.
package procwatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"vigil/event"
	"vigil/logger"
)

// ProcessInfo is the slice of process state the tamper check needs.
type ProcessInfo struct {
	PID     int32
	Name    string
	Cmdline string
}

// ProcessLister enumerates running processes.
type ProcessLister func() ([]ProcessInfo, error)

// pattern matches a process by executable name plus required command
// line keywords. All keywords must appear.
type pattern struct {
	process  string
	keywords []string
}

var tamperPatterns = []pattern{
	{"vssadmin", []string{"delete", "shadows"}},
	{"wmic", []string{"shadowcopy", "delete"}},
	{"bcdedit", []string{"recoveryenabled", "no"}},
	{"bcdedit", []string{"bootstatuspolicy", "ignoreallfailures"}},
	{"powershell", []string{"get-wmiobject", "win32_shadowcopy", "delete"}},
	{"cmd", []string{"vssadmin", "delete"}},
	{"wbadmin", []string{"delete", "catalog"}},
}

// matchTamper reports whether the process name and command line match a
// known shadow-copy tampering pattern.
func matchTamper(name, cmdline string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	if name == "" {
		return false
	}
	cmdline = strings.ToLower(cmdline)
	for _, p := range tamperPatterns {
		if p.process != name {
			continue
		}
		matched := true
		for _, kw := range p.keywords {
			if !strings.Contains(cmdline, kw) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

type Options struct {
	// Interval between process table scans. Defaults to 5s.
	Interval time.Duration
	// OnSignal receives one signal per offending process invocation.
	OnSignal func(event.VSSSignal)
	// List enumerates processes. Defaults to the live process table.
	List ProcessLister
	// Resolver, when set, is sampled on every scan.
	Resolver *Resolver
	NowFn    func() time.Time
}

// Poller runs the periodic scan. A process that keeps running matches
// once; it matches again only if its command line changes or its PID is
// reused after an exit.
type Poller struct {
	interval time.Duration
	onSignal func(event.VSSSignal)
	list     ProcessLister
	resolver *Resolver
	nowFn    func() time.Time

	mu   sync.Mutex
	seen map[int32]string

	signals atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewPoller(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.List == nil {
		opts.List = listProcesses
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	return &Poller{
		interval: opts.Interval,
		onSignal: opts.OnSignal,
		list:     opts.List,
		resolver: opts.Resolver,
		nowFn:    opts.NowFn,
		seen:     make(map[int32]string),
	}
}

func (p *Poller) Start(ctx context.Context) {
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		defer close(p.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				if err := p.scan(); err != nil {
					logger.Warnf("Process scan failed: %v", err)
					// Back off one beat so a broken process table is not
					// hammered at full cadence.
					ticker.Reset(2 * p.interval)
				} else {
					ticker.Reset(p.interval)
				}
			}
		}
	}()
}

func (p *Poller) Close() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.stopCh = nil
	p.doneCh = nil
}

// Signals reports how many tampering signals have been emitted.
func (p *Poller) Signals() int64 {
	return p.signals.Load()
}

// scan runs one pass over the process table.
func (p *Poller) scan() error {
	procs, err := p.list()
	if err != nil {
		return err
	}
	if p.resolver != nil {
		p.resolver.Sample()
	}
	now := p.nowFn()

	p.mu.Lock()
	live := make(map[int32]string, len(procs))
	var hits []event.VSSSignal
	for _, pr := range procs {
		live[pr.PID] = pr.Cmdline
		if !matchTamper(pr.Name, pr.Cmdline) {
			continue
		}
		if prev, ok := p.seen[pr.PID]; ok && prev == pr.Cmdline {
			continue
		}
		p.seen[pr.PID] = pr.Cmdline
		hits = append(hits, event.VSSSignal{
			Time:    now,
			PID:     pr.PID,
			Process: pr.Name,
			Command: pr.Cmdline,
		})
	}
	// Drop exited PIDs so reuse after exit matches again.
	for pid := range p.seen {
		if _, ok := live[pid]; !ok {
			delete(p.seen, pid)
		}
	}
	p.mu.Unlock()

	for _, sig := range hits {
		p.signals.Add(1)
		logger.Warnf("Shadow copy tampering: %s (pid %d): %s", sig.Process, sig.PID, sig.Command)
		if p.onSignal != nil {
			p.onSignal(sig)
		}
	}
	return nil
}

func listProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, pr := range procs {
		name, err := pr.Name()
		if err != nil {
			continue
		}
		cmdline, err := pr.Cmdline()
		if err != nil {
			cmdline = ""
		}
		out = append(out, ProcessInfo{PID: pr.Pid, Name: name, Cmdline: cmdline})
	}
	return out, nil
}
