package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vigil/admin"
	"vigil/burst"
	"vigil/config"
	"vigil/correlate"
	"vigil/detect"
	"vigil/diag"
	"vigil/event"
	"vigil/filehist"
	"vigil/logger"
	"vigil/metrics"
	"vigil/mitigate"
	"vigil/notify"
	"vigil/output"
	"vigil/procwatch"
	"vigil/snapshot"
	"vigil/store"
	"vigil/tracing"
	"vigil/version"
	"vigil/watcher"
	"vigil/whitelist"
)

func main() {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	logger.Infof("Vigil %s starting", version.Version)

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	thresholds, err := config.NewThresholdStore(cfg.Thresholds())
	if err != nil {
		logger.Fatalf("Invalid detection thresholds: %v", err)
	}

	wl := whitelist.New()
	for _, p := range cfg.WhitelistProcesses {
		wl.AddProcess(p)
	}
	for _, d := range cfg.WhitelistDirs {
		wl.AddDirectory(d)
	}
	if cfg.WhitelistFile != "" {
		n, err := wl.LoadFile(cfg.WhitelistFile)
		if err != nil {
			logger.Fatalf("Failed to load whitelist file: %v", err)
		}
		logger.Infof("Loaded %d whitelist entries from %s", n, cfg.WhitelistFile)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	tracker := burst.New(burst.Options{
		BucketSeconds: cfg.BucketSeconds,
		LockTimeout:   cfg.LockTimeout,
	})
	correlator := correlate.New()
	decider := mitigate.NewDecider(cfg.MitigationEnabled)
	history := filehist.New(cfg.HistoryMaxEntries, cfg.HistoryTTL, cfg.EntropyJumpDelta)
	reader := snapshot.NewReader(cfg.MmapMinSize)

	fanout := notify.NewFanout(cfg.SinkQueueSize, notify.WithErrorHandler(func(sink string, err error) {
		m.ObserveSinkError(sink)
		logger.Warnf("Sink %s failed: %v", sink, err)
	}))
	fanout.Add(notify.LogSink{})

	archive, err := output.New(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize alert archive: %v", err)
	}
	fanout.Add(archive)

	var db *store.Store
	if cfg.DatabasePath != "" {
		db, err = store.Open(cfg.DatabasePath, cfg.EventBatchSize, cfg.EventFlushInterval)
		if err != nil {
			logger.Fatalf("Failed to open database %s: %v", cfg.DatabasePath, err)
		}
		fanout.Add(db)
		logger.Infof("Persisting alerts and events to %s", cfg.DatabasePath)
	}

	if cfg.NATSURL != "" {
		nats, err := notify.NewNATSSink(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			logger.Errorf("NATS sink unavailable, continuing without it: %v", err)
		} else {
			fanout.Add(nats)
			logger.Infof("Publishing alerts to NATS at %s", cfg.NATSURL)
		}
	}

	engineOpts := detect.Options{
		Workers:        cfg.EffectiveWorkers(),
		QueueSize:      cfg.QueueSize,
		RetryBackoff:   cfg.RetryBackoff,
		BucketSeconds:  cfg.BucketSeconds,
		ArchiveSamples: cfg.ArchiveSamples,
		Thresholds:     thresholds,
		Whitelist:      wl,
		Tracker:        tracker,
		Correlator:     correlator,
		Decider:        decider,
		History:        history,
		Reader:         reader,
		Metrics:        m,
		Alerts:         fanout,
		Samples:        archive,
		OnAction: func(action mitigate.Action, a correlate.Alert) {
			logger.Warnf("Mitigation recommended: %s for alert %s (%s/%s)", action, a.ID, a.Severity, a.Type)
		},
	}
	if db != nil {
		engineOpts.Events = db
	}
	engine, err := detect.New(engineOpts)
	if err != nil {
		logger.Fatalf("Failed to build detection engine: %v", err)
	}
	engine.Start()
	logger.Infof("Detection engine running with %d workers", cfg.EffectiveWorkers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchdog := diag.NewController(diag.Options{
		StallThreshold:     cfg.DiagStallThreshold,
		Dir:                cfg.DiagDir,
		GoroutineLeak:      cfg.DiagGoroutineLeak,
		ProcessedFn:        engine.Processed,
		PendingFn:          func() int { return engine.Pending() },
		DumpFlightRecorder: tracing.WriteFlightRecorder,
	})
	watchdog.Start(ctx)

	resolver := procwatch.NewResolver(procwatch.ResolverOptions{})
	var poller *procwatch.Poller
	if cfg.ProcessScanEnabled {
		poller = procwatch.NewPoller(procwatch.Options{
			Interval: cfg.ProcessScanInterval,
			OnSignal: engine.HandleVSS,
			Resolver: resolver,
		})
		poller.Start(ctx)
		logger.Infof("Process scan running every %s", cfg.ProcessScanInterval)
	}

	var fsw *watcher.Watcher
	if cfg.WatchEnabled {
		fsw = watcher.New(watcher.Options{
			Roots:           cfg.WatchPaths,
			PollInterval:    cfg.PollInterval,
			IncludePatterns: cfg.IncludePatterns,
			ExcludePatterns: cfg.ExcludePatterns,
			MaxPerSecond:    cfg.MaxIOPerSecond,
			Emit:            func(ev event.FileEvent) { engine.Ingest(ev) },
			ProcessNamer:    resolver.Busiest,
		})
		fsw.Start(ctx)
		logger.Infof("Watching %d roots every %s", len(cfg.WatchPaths), cfg.PollInterval)
	}

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		adminSrv, err = admin.NewServer(admin.Options{
			Addr:       cfg.AdminAddr,
			Engine:     engine,
			Alerts:     correlator,
			Thresholds: thresholds,
			Whitelist:  wl,
			Decider:    decider,
			Gatherer:   registry,
		})
		if err != nil {
			logger.Fatalf("Failed to build admin API: %v", err)
		}
		adminSrv.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	cancel()

	// Stop producers first, then let the pipeline drain into the sinks.
	if fsw != nil {
		fsw.Close()
	}
	if poller != nil {
		poller.Close()
	}
	engine.Close()
	if err := fanout.Close(); err != nil {
		logger.Warnf("Sink shutdown: %v", err)
	}
	watchdog.Close()
	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminSrv.Close(shutdownCtx); err != nil {
			logger.Warnf("Admin API shutdown: %v", err)
		}
		shutdownCancel()
	}

	stats := engine.Stats()
	logger.Infof("Shutdown complete: %d events processed, %d alerts raised, %d suppressed, %d dropped",
		stats.Processed, stats.AlertsRaised, stats.Suppressed, stats.Dropped)
}
