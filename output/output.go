// Package output archives raised alerts and notable entropy samples as
// NDJSON with size-based rotation, and mirrors alerts to an OTLP log
// endpoint when one is configured.
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/config"
	"vigil/correlate"
	"vigil/entropy"
	"vigil/logger"
	"vigil/version"
)

const SchemaVersion = "1.0"

// Durability knobs: sync after this many records or this much time,
// whichever hits first.
const (
	flushEveryRecords = 32
	flushMaxInterval  = 2 * time.Second
)

// ArchiveMetrics summarizes one writer run and lands as the final
// record of the archive.
type ArchiveMetrics struct {
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	AlertsWritten  int64  `json:"alerts_written"`
	SamplesWritten int64  `json:"samples_written"`
}

type archiveRecord struct {
	RecordType    string      `json:"record_type"`
	SchemaVersion string      `json:"schema_version"`
	Time          string      `json:"time"`
	Payload       interface{} `json:"payload,omitempty"`
}

type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	otel *otelLogger

	base    string
	ext     string
	index   int
	maxSize int64
	closed  bool

	startTime        time.Time
	alertsWritten    atomic.Int64
	samplesWritten   atomic.Int64
	recordsSinceSync int
	lastSyncAt       time.Time
}

func New(cfg *config.Config) (*Writer, error) {
	ext := filepath.Ext(cfg.ArchiveFile)
	base := strings.TrimSuffix(cfg.ArchiveFile, ext)

	w := &Writer{
		base:      base,
		ext:       ext,
		maxSize:   cfg.MaxArchiveSize,
		startTime: time.Now().UTC(),
	}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Name() string { return "archive" }

// Publish archives one alert. It satisfies the sink interface and runs
// on the fanout's writer goroutine.
func (w *Writer) Publish(a correlate.Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("alert archive already closed")
	}
	if err := w.writeRecordLocked("alert", a); err != nil {
		return fmt.Errorf("archiving alert %s: %w", a.ID, err)
	}
	w.alertsWritten.Add(1)
	w.otel.Emit(a)
	w.maybeRotateLocked()
	return nil
}

// WriteSample archives one entropy sample that scored above the cutoff.
func (w *Writer) WriteSample(s *entropy.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("alert archive already closed")
	}
	if err := w.writeRecordLocked("sample", s); err != nil {
		return fmt.Errorf("archiving sample for %s: %w", s.Path, err)
	}
	w.samplesWritten.Add(1)
	w.maybeRotateLocked()
	return nil
}

func (w *Writer) AlertsWritten() int64  { return w.alertsWritten.Load() }
func (w *Writer) SamplesWritten() int64 { return w.samplesWritten.Load() }

// Close writes the run metrics record and releases the file and the
// OTEL provider. Safe to call once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	metrics := ArchiveMetrics{
		StartTime:      w.startTime.Format(time.RFC3339),
		EndTime:        time.Now().UTC().Format(time.RFC3339),
		AlertsWritten:  w.alertsWritten.Load(),
		SamplesWritten: w.samplesWritten.Load(),
	}
	if err := w.writeRecordLocked("metrics", metrics); err != nil {
		logger.Warnf("archive metrics record failed: %v", err)
	}
	err := w.closeFileLocked()
	w.otel.Shutdown()
	return err
}

func (w *Writer) openFile() error {
	name := w.base + w.ext
	if w.index > 0 {
		name = fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1024*1024)
	w.recordsSinceSync = 0
	w.lastSyncAt = time.Now()

	// Each file opens with a run_start record so rotated archives stay
	// self-describing.
	if err := w.writeRecordLocked("run_start", map[string]string{"version": version.Version}); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *Writer) writeRecordLocked(recordType string, payload interface{}) error {
	rec := archiveRecord{
		RecordType:    recordType,
		SchemaVersion: SchemaVersion,
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Payload:       payload,
	}
	data, err := jsonMarshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	w.recordsSinceSync++
	if w.shouldSync() {
		if err := w.buf.Flush(); err != nil {
			return err
		}
		_ = w.file.Sync()
		w.recordsSinceSync = 0
		w.lastSyncAt = time.Now()
	}
	return nil
}

func (w *Writer) shouldSync() bool {
	if w.recordsSinceSync == 1 {
		return true
	}
	if w.recordsSinceSync >= flushEveryRecords {
		return true
	}
	return time.Since(w.lastSyncAt) > flushMaxInterval
}

func (w *Writer) maybeRotateLocked() {
	if w.maxSize <= 0 {
		return
	}
	_ = w.buf.Flush()
	info, err := w.file.Stat()
	if err != nil || info.Size() < w.maxSize {
		return
	}
	if err := w.closeFileLocked(); err != nil {
		logger.Warnf("archive rotation close failed: %v", err)
	}
	w.index++
	if err := w.openFile(); err != nil {
		logger.Errorf("archive rotation reopen failed: %v", err)
	}
}

func (w *Writer) closeFileLocked() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	_ = w.file.Sync()
	return w.file.Close()
}
