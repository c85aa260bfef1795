package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"vigil/version"
)

type Config struct {
	WatchPaths          []string      `json:"watch_paths"`
	WatchEnabled        bool          `json:"watch_enabled"`
	PollInterval        time.Duration `json:"poll_interval"`
	IncludePatterns     []string      `json:"include_patterns"`
	ExcludePatterns     []string      `json:"exclude_patterns"`
	LogLevel            string        `json:"log_level"`
	ConfigFile          string        `json:"config_file"`
	Workers             int           `json:"workers"`
	NiceLevel           string        `json:"nice_level"`
	QueueSize           int           `json:"queue_size"`
	SinkQueueSize       int           `json:"sink_queue_size"`
	MaxIOPerSecond      int           `json:"max_io_per_second"`
	MmapMinSize         int64         `json:"mmap_min_size"`
	EntropyThreshold    float64       `json:"entropy_threshold"`
	VarianceThreshold   float64       `json:"variance_threshold"`
	ChiSquareThreshold  float64       `json:"chi_square_threshold"`
	ConfidenceCutoff    float64       `json:"confidence_cutoff"`
	HighConfidenceBand  float64       `json:"high_confidence_band"`
	BurstMultiplier     float64       `json:"burst_multiplier"`
	BaselineDays        int           `json:"baseline_days"`
	BucketSeconds       int           `json:"bucket_seconds"`
	MinBaselineBuckets  int           `json:"min_baseline_buckets"`
	MinBurstEvents      int           `json:"min_burst_events"`
	SuppressionWindow   time.Duration `json:"suppression_window"`
	LockTimeout         time.Duration `json:"lock_timeout"`
	RetryBackoff        time.Duration `json:"retry_backoff"`
	EntropyJumpDelta    float64       `json:"entropy_jump_delta"`
	HistoryTTL          time.Duration `json:"history_ttl"`
	HistoryMaxEntries   int           `json:"history_max_entries"`
	MitigationEnabled   bool          `json:"mitigation_enabled"`
	WhitelistFile       string        `json:"whitelist_file"`
	WhitelistProcesses  []string      `json:"whitelist_processes"`
	WhitelistDirs       []string      `json:"whitelist_dirs"`
	DatabasePath        string        `json:"database_path"`
	EventBatchSize      int           `json:"event_batch_size"`
	EventFlushInterval  time.Duration `json:"event_flush_interval"`
	NATSURL             string        `json:"nats_url"`
	NATSSubjectPrefix   string        `json:"nats_subject_prefix"`
	AdminAddr           string        `json:"admin_addr"`
	ArchiveFile         string        `json:"archive_file"`
	MaxArchiveSize      int64         `json:"max_archive_size"`
	ArchiveSamples      bool          `json:"archive_samples"`
	ProcessScanEnabled  bool          `json:"process_scan_enabled"`
	ProcessScanInterval time.Duration `json:"process_scan_interval"`
	OtelEndpoint        string        `json:"otel_endpoint"`
	OtelHeaders         map[string]string `json:"otel_headers"`
	OtelServiceName     string        `json:"otel_service_name"`
	OtelTimeout         time.Duration `json:"otel_timeout"`
	OtelExportPaths     bool          `json:"otel_export_paths"`
	DiagStallThreshold  time.Duration `json:"diag_stall_threshold"`
	DiagDir             string        `json:"diag_dir"`
	DiagGoroutineLeak   bool          `json:"diag_goroutine_leak"`
	TraceFlight         bool          `json:"trace_flight"`
	TraceFlightFile     string        `json:"trace_flight_file"`
	TraceFlightMaxBytes uint64        `json:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration `json:"trace_flight_min_age"`
	WorkersSet          bool          `json:"-"`
}

func LoadConfig() (*Config, error) {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg := &Config{
		WatchPaths:          []string{home},
		WatchEnabled:        true,
		PollInterval:        2 * time.Second,
		ExcludePatterns:     []string{"*.tmp", "*.swp", "*.part", "~$*"},
		LogLevel:            "info",
		Workers:             runtime.NumCPU(),
		NiceLevel:           "medium",
		QueueSize:           1024,
		SinkQueueSize:       256,
		MaxIOPerSecond:      200,
		MmapMinSize:         128 * 1024,
		EntropyThreshold:    7.0,
		VarianceThreshold:   0.5,
		ChiSquareThreshold:  500,
		ConfidenceCutoff:    0.5,
		HighConfidenceBand:  0.8,
		BurstMultiplier:     3.0,
		BaselineDays:        7,
		BucketSeconds:       60,
		MinBaselineBuckets:  10,
		MinBurstEvents:      5,
		SuppressionWindow:   5 * time.Minute,
		LockTimeout:         100 * time.Millisecond,
		RetryBackoff:        10 * time.Millisecond,
		EntropyJumpDelta:    2.0,
		HistoryTTL:          time.Hour,
		HistoryMaxEntries:   8192,
		MitigationEnabled:   false,
		WhitelistProcesses:  []string{},
		WhitelistDirs:       []string{},
		EventBatchSize:      10,
		EventFlushInterval:  5 * time.Second,
		NATSSubjectPrefix:   "vigil.alerts",
		ArchiveFile:         fmt.Sprintf("vigil-%s-%d.ndjson", timestamp, now.Unix()),
		MaxArchiveSize:      104857600,
		ProcessScanEnabled:  true,
		ProcessScanInterval: 5 * time.Second,
		OtelHeaders:         map[string]string{},
		OtelServiceName:     "vigil",
		OtelTimeout:         5 * time.Second,
		DiagDir:             ".",
		TraceFlightFile:     "trace-flight.out",
	}

	watchPaths := flag.String("path", strings.Join(cfg.WatchPaths, ","), "Comma-separated list of directories to watch (default: home directory).")
	watchEnabled := flag.Bool("watch", cfg.WatchEnabled, fmt.Sprintf("Enable the filesystem watcher (default: %t).", cfg.WatchEnabled))
	pollInterval := flag.Duration("poll-interval", cfg.PollInterval, "Filesystem poll interval (default: 2s).")
	includes := flag.String("include", "", "Comma-separated list of include patterns (default: none).")
	excludes := flag.String("exclude", strings.Join(cfg.ExcludePatterns, ","), "Comma-separated list of exclude patterns.")
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	workers := flag.Int("workers", cfg.Workers, fmt.Sprintf("Analysis worker count (default: %d).", cfg.Workers))
	nice := flag.String("nice", cfg.NiceLevel, fmt.Sprintf("Nice level: high, medium, or low (default: %s).", cfg.NiceLevel))
	queueSize := flag.Int("queue-size", cfg.QueueSize, fmt.Sprintf("Event intake queue size (default: %d).", cfg.QueueSize))
	sinkQueueSize := flag.Int("sink-queue-size", cfg.SinkQueueSize, fmt.Sprintf("Per-sink alert queue size (default: %d).", cfg.SinkQueueSize))
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, fmt.Sprintf("Maximum snapshot reads per second (default: %d).", cfg.MaxIOPerSecond))
	mmapMinSize := flag.Int64("mmap-min-size", cfg.MmapMinSize, "Minimum file size in bytes for mmap snapshot reads (default: 131072).")
	entropyThreshold := flag.Float64("entropy-threshold", cfg.EntropyThreshold, fmt.Sprintf("Mean segment entropy considered high, in bits per byte (default: %.1f).", cfg.EntropyThreshold))
	varianceThreshold := flag.Float64("variance-threshold", cfg.VarianceThreshold, fmt.Sprintf("Segment entropy variance below which content counts as uniformly random (default: %.1f).", cfg.VarianceThreshold))
	chiSquareThreshold := flag.Float64("chi-square-threshold", cfg.ChiSquareThreshold, fmt.Sprintf("Chi-square statistic considered anomalous (default: %.0f).", cfg.ChiSquareThreshold))
	confidenceCutoff := flag.Float64("confidence-cutoff", cfg.ConfidenceCutoff, fmt.Sprintf("Minimum confidence for an entropy alert (default: %.2f).", cfg.ConfidenceCutoff))
	highBand := flag.Float64("high-confidence-band", cfg.HighConfidenceBand, fmt.Sprintf("Confidence above which entropy alerts escalate to high severity (default: %.2f).", cfg.HighConfidenceBand))
	burstMultiplier := flag.Float64("burst-multiplier", cfg.BurstMultiplier, fmt.Sprintf("Stddevs over baseline mean that flag a burst (default: %.1f).", cfg.BurstMultiplier))
	baselineDays := flag.Int("baseline-days", cfg.BaselineDays, fmt.Sprintf("Trailing baseline window in days (default: %d).", cfg.BaselineDays))
	bucketSeconds := flag.Int("bucket-seconds", cfg.BucketSeconds, fmt.Sprintf("Burst bucket width in seconds (default: %d).", cfg.BucketSeconds))
	minBaselineBuckets := flag.Int("min-baseline-buckets", cfg.MinBaselineBuckets, fmt.Sprintf("Closed baseline buckets required before bursts can flag (default: %d).", cfg.MinBaselineBuckets))
	minBurstEvents := flag.Int("min-burst-events", cfg.MinBurstEvents, fmt.Sprintf("Minimum events in the current bucket for a burst (default: %d).", cfg.MinBurstEvents))
	suppressionWindow := flag.Duration("suppression-window", cfg.SuppressionWindow, "Window during which duplicate alerts are suppressed (default: 5m).")
	lockTimeout := flag.Duration("lock-timeout", cfg.LockTimeout, "Burst scope lock acquire timeout (default: 100ms).")
	retryBackoff := flag.Duration("retry-backoff", cfg.RetryBackoff, "Backoff before retrying a contended scope update (default: 10ms).")
	entropyJump := flag.Float64("entropy-jump", cfg.EntropyJumpDelta, fmt.Sprintf("Entropy increase on one path considered an in-place encryption signal (default: %.1f).", cfg.EntropyJumpDelta))
	historyTTL := flag.Duration("history-ttl", cfg.HistoryTTL, "How long per-file history is kept (default: 1h).")
	historyMaxEntries := flag.Int("history-max-entries", cfg.HistoryMaxEntries, fmt.Sprintf("Maximum paths kept in file history (default: %d).", cfg.HistoryMaxEntries))
	mitigate := flag.Bool("mitigate", cfg.MitigationEnabled, fmt.Sprintf("Enable mitigation actions beyond notify (default: %t).", cfg.MitigationEnabled))
	whitelistFile := flag.String("whitelist-file", cfg.WhitelistFile, "Path to JSON whitelist seed file (default: none).")
	whitelistProcs := flag.String("whitelist-process", "", "Comma-separated list of whitelisted process names (default: none).")
	whitelistDirs := flag.String("whitelist-dir", "", "Comma-separated list of whitelisted directory prefixes (default: none).")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path for alert and event persistence (default: none).")
	eventBatchSize := flag.Int("event-batch-size", cfg.EventBatchSize, fmt.Sprintf("Events buffered before a database flush (default: %d).", cfg.EventBatchSize))
	eventFlushInterval := flag.Duration("event-flush-interval", cfg.EventFlushInterval, "Maximum time events wait before a database flush (default: 5s).")
	natsURL := flag.String("nats-url", cfg.NATSURL, "NATS server URL for alert publishing (default: none).")
	natsSubjectPrefix := flag.String("nats-subject-prefix", cfg.NATSSubjectPrefix, fmt.Sprintf("NATS subject prefix for alerts (default: %s).", cfg.NATSSubjectPrefix))
	adminAddr := flag.String("admin-addr", cfg.AdminAddr, "Listen address for the admin API, e.g. 127.0.0.1:8808 (default: disabled).")
	archiveFile := flag.String("archive", cfg.ArchiveFile, "Alert archive file name (default: vigil-<timestamp>-<unix>.ndjson).")
	maxArchiveSize := flag.Int64("max-archive-size", cfg.MaxArchiveSize, fmt.Sprintf("Maximum archive size before rotation in bytes (default: %d).", cfg.MaxArchiveSize))
	archiveSamples := flag.Bool("archive-samples", cfg.ArchiveSamples, fmt.Sprintf("Also archive entropy samples that scored above the cutoff (default: %t).", cfg.ArchiveSamples))
	processScan := flag.Bool("process-scan", cfg.ProcessScanEnabled, fmt.Sprintf("Enable process scanning for shadow-copy tampering (default: %t).", cfg.ProcessScanEnabled))
	processScanInterval := flag.Duration("process-scan-interval", cfg.ProcessScanInterval, "Process scan interval (default: 5s).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, fmt.Sprintf("OTEL service name for export (default: %s).", cfg.OtelServiceName))
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include raw file paths in OTEL payloads (default: false).")
	diagStallThreshold := flag.Duration(
		"diag-stall-threshold",
		cfg.DiagStallThreshold,
		"If positive, emit diagnostics when event processing stalls for this duration (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	diagGoroutineLeak := flag.Bool(
		"diag-goroutine-leak",
		cfg.DiagGoroutineLeak,
		"Write goroutine leak profile on shutdown (default: false).",
	)
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for flight recorder buffer (default: 0 for runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain (default: 0).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("Vigil version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.WatchPaths = parseCommaSeparated(*watchPaths)
		case "watch":
			cfg.WatchEnabled = *watchEnabled
		case "poll-interval":
			cfg.PollInterval = *pollInterval
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "log-level":
			cfg.LogLevel = *logLevel
		case "workers":
			cfg.Workers = *workers
			cfg.WorkersSet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "queue-size":
			cfg.QueueSize = *queueSize
		case "sink-queue-size":
			cfg.SinkQueueSize = *sinkQueueSize
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "mmap-min-size":
			cfg.MmapMinSize = *mmapMinSize
		case "entropy-threshold":
			cfg.EntropyThreshold = *entropyThreshold
		case "variance-threshold":
			cfg.VarianceThreshold = *varianceThreshold
		case "chi-square-threshold":
			cfg.ChiSquareThreshold = *chiSquareThreshold
		case "confidence-cutoff":
			cfg.ConfidenceCutoff = *confidenceCutoff
		case "high-confidence-band":
			cfg.HighConfidenceBand = *highBand
		case "burst-multiplier":
			cfg.BurstMultiplier = *burstMultiplier
		case "baseline-days":
			cfg.BaselineDays = *baselineDays
		case "bucket-seconds":
			cfg.BucketSeconds = *bucketSeconds
		case "min-baseline-buckets":
			cfg.MinBaselineBuckets = *minBaselineBuckets
		case "min-burst-events":
			cfg.MinBurstEvents = *minBurstEvents
		case "suppression-window":
			cfg.SuppressionWindow = *suppressionWindow
		case "lock-timeout":
			cfg.LockTimeout = *lockTimeout
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "entropy-jump":
			cfg.EntropyJumpDelta = *entropyJump
		case "history-ttl":
			cfg.HistoryTTL = *historyTTL
		case "history-max-entries":
			cfg.HistoryMaxEntries = *historyMaxEntries
		case "mitigate":
			cfg.MitigationEnabled = *mitigate
		case "whitelist-file":
			cfg.WhitelistFile = strings.TrimSpace(*whitelistFile)
		case "whitelist-process":
			cfg.WhitelistProcesses = parseCommaSeparated(*whitelistProcs)
		case "whitelist-dir":
			cfg.WhitelistDirs = parseCommaSeparated(*whitelistDirs)
		case "db":
			cfg.DatabasePath = strings.TrimSpace(*dbPath)
		case "event-batch-size":
			cfg.EventBatchSize = *eventBatchSize
		case "event-flush-interval":
			cfg.EventFlushInterval = *eventFlushInterval
		case "nats-url":
			cfg.NATSURL = strings.TrimSpace(*natsURL)
		case "nats-subject-prefix":
			cfg.NATSSubjectPrefix = strings.TrimSpace(*natsSubjectPrefix)
		case "admin-addr":
			cfg.AdminAddr = strings.TrimSpace(*adminAddr)
		case "archive":
			cfg.ArchiveFile = *archiveFile
		case "max-archive-size":
			cfg.MaxArchiveSize = *maxArchiveSize
		case "archive-samples":
			cfg.ArchiveSamples = *archiveSamples
		case "process-scan":
			cfg.ProcessScanEnabled = *processScan
		case "process-scan-interval":
			cfg.ProcessScanInterval = *processScanInterval
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStallThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutine-leak":
			cfg.DiagGoroutineLeak = *diagGoroutineLeak
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		}
	})

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	if cfg.NiceLevel == "" {
		cfg.NiceLevel = "medium"
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.NATSSubjectPrefix == "" {
		cfg.NATSSubjectPrefix = "vigil.alerts"
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
	if len(cfg.WatchPaths) == 0 {
		cfg.WatchPaths = []string{home}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("Vigil - Passive Ransomware Activity Detector")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vigil [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  vigil --path \"/home,/srv/share\"")
	fmt.Println("  vigil --path \"/home\" --db vigil.db --admin-addr 127.0.0.1:8808")
	fmt.Println("  vigil --mitigate --whitelist-dir \"/var/backups\"")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["workers"]; ok {
		cfg.WorkersSet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.NiceLevel) == "" {
		cfg.NiceLevel = "medium"
	}
	if strings.TrimSpace(cfg.DiagDir) == "" {
		cfg.DiagDir = "."
	}

	if cfg.WatchEnabled && len(cfg.WatchPaths) == 0 {
		return fmt.Errorf("at least one watch path must be specified when the watcher is enabled")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be positive")
	}
	if cfg.SinkQueueSize <= 0 {
		return fmt.Errorf("sink-queue-size must be positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.MmapMinSize < 0 {
		return fmt.Errorf("mmap-min-size must be zero or positive")
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.BucketSeconds <= 0 {
		return fmt.Errorf("bucket-seconds must be positive")
	}
	if cfg.LockTimeout <= 0 {
		return fmt.Errorf("lock-timeout must be positive")
	}
	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("retry-backoff must be zero or positive")
	}
	if cfg.EntropyJumpDelta <= 0 {
		return fmt.Errorf("entropy-jump must be positive")
	}
	if cfg.HistoryTTL <= 0 {
		return fmt.Errorf("history-ttl must be positive")
	}
	if cfg.HistoryMaxEntries <= 0 {
		return fmt.Errorf("history-max-entries must be positive")
	}
	if cfg.EventBatchSize <= 0 {
		return fmt.Errorf("event-batch-size must be positive")
	}
	if cfg.EventFlushInterval <= 0 {
		return fmt.Errorf("event-flush-interval must be positive")
	}
	if cfg.ProcessScanEnabled && cfg.ProcessScanInterval <= 0 {
		return fmt.Errorf("process-scan-interval must be positive")
	}
	if cfg.MaxArchiveSize < 0 {
		return fmt.Errorf("max-archive-size must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.DiagStallThreshold < 0 {
		return fmt.Errorf("diag-stall-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if err := cfg.Thresholds().Validate(); err != nil {
		return err
	}
	return nil
}

// EffectiveWorkers maps the nice level onto the worker count unless an
// explicit -workers value was given.
func (cfg *Config) EffectiveWorkers() int {
	if cfg.WorkersSet {
		return cfg.Workers
	}
	n := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "low":
		return 1
	case "high":
		return n
	default:
		half := n / 2
		if half < 2 {
			half = 2
		}
		if half > n {
			half = n
		}
		return half
	}
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := items[:0]
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
