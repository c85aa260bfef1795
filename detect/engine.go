// Package detect wires the detection pipeline: file events enter a
// bounded queue, a worker pool snapshots and scores them, the
// correlator classifies the result, and raised alerts fan out to the
// sinks. Nothing in here blocks on a slow sink; overflow is counted
// and dropped instead.
package detect

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vigil/burst"
	"vigil/config"
	"vigil/correlate"
	"vigil/entropy"
	"vigil/event"
	"vigil/filehist"
	"vigil/filesig"
	"vigil/iocs"
	"vigil/logger"
	"vigil/metrics"
	"vigil/mitigate"
	"vigil/snapshot"
	"vigil/whitelist"
)

// A TLSH distance above this between successive versions of one path
// means the content was rewritten wholesale, not edited.
const rewriteTLSHDistance = 100

// AlertSink receives every raised alert. The fanout satisfies this.
type AlertSink interface {
	Publish(a correlate.Alert)
}

// EventRecorder persists raw file events. The store satisfies this.
type EventRecorder interface {
	Append(ev event.FileEvent)
}

// SampleWriter archives entropy samples. The archive writer satisfies
// this.
type SampleWriter interface {
	WriteSample(s *entropy.Sample) error
}

type Options struct {
	Workers      int
	QueueSize    int
	RetryBackoff time.Duration
	// BucketSeconds mirrors the tracker's bucket width; the baseline
	// window is derived from it.
	BucketSeconds int
	// ArchiveSamples forwards every scored sample to Samples.
	ArchiveSamples bool

	Thresholds *config.ThresholdStore
	Whitelist  *whitelist.Filter
	Tracker    *burst.Tracker
	Correlator *correlate.Correlator
	Decider    *mitigate.Decider
	History    *filehist.Tracker
	Reader     *snapshot.Reader
	Metrics    *metrics.Metrics

	Alerts  AlertSink
	Events  EventRecorder
	Samples SampleWriter
	// OnAction runs after an alert is stamped with a mitigation other
	// than none. The actuator lives outside the pipeline.
	OnAction func(action mitigate.Action, a correlate.Alert)
}

// Stats is a point-in-time view of the pipeline for the admin API.
type Stats struct {
	Processed     int64 `json:"processed"`
	Dropped       int64 `json:"dropped"`
	AlertsRaised  int64 `json:"alerts_raised"`
	Suppressed    int64 `json:"suppressed"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	TrackedScopes int   `json:"tracked_scopes"`
	HistoryPaths  int   `json:"history_paths"`
}

type Engine struct {
	opts Options

	queue   chan event.FileEvent
	samples chan *entropy.Sample

	wg       sync.WaitGroup
	sampleWG sync.WaitGroup

	processed    atomic.Int64
	dropped      atomic.Int64
	alertsRaised atomic.Int64
	suppressed   atomic.Int64

	closed atomic.Bool
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Thresholds == nil:
		return nil, errors.New("detect: threshold store is required")
	case opts.Whitelist == nil:
		return nil, errors.New("detect: whitelist filter is required")
	case opts.Tracker == nil:
		return nil, errors.New("detect: burst tracker is required")
	case opts.Correlator == nil:
		return nil, errors.New("detect: correlator is required")
	case opts.Decider == nil:
		return nil, errors.New("detect: mitigation decider is required")
	case opts.History == nil:
		return nil, errors.New("detect: file history is required")
	case opts.Reader == nil:
		return nil, errors.New("detect: snapshot reader is required")
	case opts.Alerts == nil:
		return nil, errors.New("detect: alert sink is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	if opts.BucketSeconds <= 0 {
		opts.BucketSeconds = 60
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	return &Engine{
		opts:    opts,
		queue:   make(chan event.FileEvent, opts.QueueSize),
		samples: make(chan *entropy.Sample, opts.QueueSize),
	}, nil
}

// Start launches the worker pool. Call exactly once.
func (e *Engine) Start() {
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.process(ev)
				e.processed.Add(1)
				e.opts.Metrics.QueueDepth.Set(float64(len(e.queue)))
			}
		}()
	}

	e.sampleWG.Add(1)
	go func() {
		defer e.sampleWG.Done()
		for s := range e.samples {
			if e.opts.Samples == nil {
				continue
			}
			if err := e.opts.Samples.WriteSample(s); err != nil {
				e.opts.Metrics.ObserveSinkError("archive")
				logger.Warnf("Sample archive write failed: %v", err)
			}
		}
	}()
}

// Ingest enqueues one event without blocking. A full queue drops the
// event and reports false; the producer must never stall on the
// detector.
func (e *Engine) Ingest(ev event.FileEvent) bool {
	if e.closed.Load() {
		return false
	}
	select {
	case e.queue <- ev:
		e.opts.Metrics.QueueDepth.Set(float64(len(e.queue)))
		return true
	default:
		e.dropped.Add(1)
		e.opts.Metrics.ObserveDrop("queue_full")
		logger.Warnf("Event queue full, dropping %s", ev.Path)
		return false
	}
}

// HandleVSS classifies a shadow-copy tampering signal on the caller's
// goroutine. The process whitelist applies: backup agents legitimately
// manage shadow copies.
func (e *Engine) HandleVSS(sig event.VSSSignal) {
	e.opts.Metrics.VSSSignalsTotal.Inc()
	if e.opts.Whitelist.MatchProcess(sig.Process) {
		e.opts.Metrics.ObserveDrop("whitelist")
		return
	}
	th := e.opts.Thresholds.Load()
	e.finish(correlate.Input{VSS: &sig, ProcessName: sig.Process}, th)
}

// Close drains the queue and stops the workers. All producers must be
// stopped first; Ingest after Close returns false.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.queue)
	e.wg.Wait()
	close(e.samples)
	e.sampleWG.Wait()
}

// Processed reports how many events the workers have finished. The
// diagnostics stall probe watches this.
func (e *Engine) Processed() int64 { return e.processed.Load() }

// Pending reports the current intake queue depth.
func (e *Engine) Pending() int { return len(e.queue) }

func (e *Engine) Stats() Stats {
	return Stats{
		Processed:     e.processed.Load(),
		Dropped:       e.dropped.Load(),
		AlertsRaised:  e.alertsRaised.Load(),
		Suppressed:    e.suppressed.Load(),
		QueueDepth:    len(e.queue),
		QueueCapacity: cap(e.queue),
		TrackedScopes: e.opts.Tracker.Len(),
		HistoryPaths:  e.opts.History.Len(),
	}
}

func (e *Engine) process(ev event.FileEvent) {
	e.opts.Metrics.EventsTotal.Inc()

	if e.opts.Whitelist.Match(ev) {
		e.opts.Metrics.ObserveDrop("whitelist")
		return
	}
	if e.opts.Events != nil {
		e.opts.Events.Append(ev)
	}

	th := e.opts.Thresholds.Load()
	var evidence map[string]string

	ext := ev.Ext()
	if iocs.RansomExtension(ext) {
		evidence = putEvidence(evidence, "ransom_extension", ext)
	}
	if iocs.MatchNoteName(ev.Base()) {
		evidence = putEvidence(evidence, "ransom_note_name", ev.Base())
	}

	var sample *entropy.Sample
	switch ev.Kind {
	case event.Created, event.Modified, event.Renamed:
		sample, evidence = e.score(ev, ext, th, evidence)
	case event.Deleted:
		e.opts.History.Forget(ev.Path)
	}

	e.finish(correlate.Input{
		Event:       ev,
		Sample:      sample,
		Bursts:      e.trackBursts(ev, th),
		ProcessName: ev.ProcessName,
		Evidence:    evidence,
	}, th)
}

// score reads a bounded snapshot of the file and runs entropy analysis
// plus the static checks that need content. A nil sample means the
// event still counts toward bursts but carries no entropy signal.
func (e *Engine) score(ev event.FileEvent, ext string, th config.ThresholdConfig, evidence map[string]string) (*entropy.Sample, map[string]string) {
	snap, err := e.opts.Reader.Read(ev.Path)
	if err != nil {
		e.opts.Metrics.SnapshotErrors.Inc()
		logger.Debugf("Snapshot unavailable for %s: %v", ev.Path, err)
		return nil, evidence
	}

	skip := iocs.SkipEntropyAnalysis(ext)
	if skip {
		// Formats that are high-entropy by design are only trusted as
		// long as they are what they claim to be.
		res := filesig.Verify(ev.Path, ext, snap.Header)
		if res.Suspicious() {
			detail := res.Detail
			if detail == "" {
				detected := res.DetectedExt
				if detected == "" {
					detected = "unknown"
				}
				detail = fmt.Sprintf("claimed %s, detected %s", res.ClaimedExt, detected)
			}
			evidence = putEvidence(evidence, "signature_mismatch", detail)
			skip = false
		}
	}
	if skip {
		return nil, evidence
	}

	sample, err := entropy.Analyze(ev.Path, snap.Data, snap.SegmentSize, entropy.Params{
		EntropyThreshold:   th.EntropyThreshold,
		VarianceThreshold:  th.VarianceThreshold,
		ChiSquareThreshold: th.ChiSquareThreshold,
	})
	if err != nil {
		logger.Debugf("Entropy analysis failed for %s: %v", ev.Path, err)
		return nil, evidence
	}

	// Ransom notes are plaintext; scan anything without a recognized
	// binary signature.
	if snap.MIME == "" {
		if hits := iocs.ScanNoteContent(snap.Data); len(hits) > 0 {
			evidence = putEvidence(evidence, "note_phrases", phraseList(hits))
		}
	}

	chg := e.opts.History.Observe(ev.Path, sample.Mean, snap.TLSH, snap.Blake3)
	if !chg.First {
		if chg.SignificantJump {
			evidence = putEvidence(evidence, "entropy_jump",
				fmt.Sprintf("%.2f to %.2f", chg.PrevEntropy, sample.Mean))
		}
		if chg.ContentChanged && chg.TLSHDistance >= rewriteTLSHDistance {
			evidence = putEvidence(evidence, "content_rewrite", strconv.Itoa(chg.TLSHDistance))
		}
	}

	if e.opts.ArchiveSamples && e.opts.Samples != nil {
		select {
		case e.samples <- sample:
		default:
			e.opts.Metrics.ObserveDrop("sample_queue_full")
		}
	}
	return sample, evidence
}

// trackBursts counts the event into each of its scopes. Contention is
// retried once after a short backoff, then the scope update is dropped;
// a hot shard must not stall the worker.
func (e *Engine) trackBursts(ev event.FileEvent, th config.ThresholdConfig) []burst.Score {
	scopes := ev.Scopes()
	if len(scopes) == 0 {
		return nil
	}
	bth := burst.Thresholds{
		Multiplier:    th.BurstMultiplier,
		WindowBuckets: th.BaselineDays * 24 * 3600 / e.opts.BucketSeconds,
		MinBuckets:    th.MinBaselineBuckets,
		MinEvents:     th.MinBurstEvents,
	}
	out := make([]burst.Score, 0, len(scopes))
	for _, sc := range scopes {
		score, err := e.opts.Tracker.Update(sc, ev.Time, bth)
		if errors.Is(err, burst.ErrScopeContention) {
			time.Sleep(e.opts.RetryBackoff)
			score, err = e.opts.Tracker.Update(sc, ev.Time, bth)
		}
		if err != nil {
			e.opts.Metrics.ObserveDrop("contention")
			logger.Warnf("Burst update dropped for %s: %v", sc.Key(), err)
			continue
		}
		out = append(out, score)
	}
	e.opts.Metrics.TrackedScopes.Set(float64(e.opts.Tracker.Len()))
	return out
}

// finish runs classification, stamps the mitigation, and hands the
// alert to the sinks.
func (e *Engine) finish(in correlate.Input, th config.ThresholdConfig) {
	params := correlate.Params{
		ConfidenceCutoff:   th.ConfidenceCutoff,
		HighConfidenceBand: th.HighConfidenceBand,
		BurstMultiplier:    th.BurstMultiplier,
		SuppressionWindow:  th.SuppressionWindow,
	}
	a, suppressed := e.opts.Correlator.Evaluate(in, params)
	if suppressed {
		e.suppressed.Add(1)
		e.opts.Metrics.SuppressedTotal.Inc()
		return
	}
	if a == nil {
		return
	}

	action := e.opts.Decider.Decide(a.Severity, a.Type)
	a.ActionTaken = action.String()
	e.opts.Correlator.Remember(*a)
	e.alertsRaised.Add(1)
	e.opts.Metrics.ObserveAlert(string(a.Severity), string(a.Type))

	if action != mitigate.ActionNone && e.opts.OnAction != nil {
		e.opts.OnAction(action, *a)
	}
	e.opts.Alerts.Publish(*a)
}

func putEvidence(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = make(map[string]string, 4)
	}
	m[k] = v
	return m
}

func phraseList(hits map[string]int) string {
	keys := make([]string, 0, len(hits))
	for k := range hits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
