// Package store persists alerts and file events to SQLite. Alert writes
// arrive through the sink interface on a fanout writer goroutine; event
// writes are batched and flushed off the scoring path.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"vigil/correlate"
	"vigil/event"
	"vigil/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT,
	alert_type TEXT NOT NULL,
	message TEXT NOT NULL,
	file_path TEXT,
	scope TEXT,
	process_id INTEGER,
	process_name TEXT,
	severity TEXT DEFAULT 'medium',
	timestamp REAL NOT NULL,
	action_taken TEXT,
	evidence TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
CREATE TABLE IF NOT EXISTS file_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp REAL NOT NULL,
	size INTEGER,
	process_name TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_timestamp_type ON file_events(timestamp, event_type);
CREATE INDEX IF NOT EXISTS idx_path ON file_events(path);
`

type Store struct {
	db *sql.DB

	events    chan event.FileEvent
	batchSize int
	flushTick time.Duration
	done      chan struct{}
}

// Open opens (creating if needed) the database at path and starts the
// event flush loop. Events flush every batchSize appends or flushEvery,
// whichever comes first.
func Open(path string, batchSize int, flushEvery time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// modernc sqlite surfaces busy errors under concurrent writers;
	// a single connection serializes the sink and the flush loop.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{
		db:        db,
		events:    make(chan event.FileEvent, 4*batchSize),
		batchSize: batchSize,
		flushTick: flushEvery,
		done:      make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Store) Name() string { return "sqlite" }

// Publish records one raised alert. It runs on the fanout's writer
// goroutine, never on the scoring path.
func (s *Store) Publish(a correlate.Alert) error {
	var pid sql.NullInt64
	if v, err := strconv.ParseInt(a.Evidence["pid"], 10, 64); err == nil {
		pid = sql.NullInt64{Int64: v, Valid: true}
	}
	var evidence sql.NullString
	if len(a.Evidence) > 0 {
		if data, err := json.Marshal(a.Evidence); err == nil {
			evidence = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO alerts
		(alert_id, alert_type, message, file_path, scope, process_id, process_name,
		 severity, timestamp, action_taken, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Message, nullable(a.Path), nullable(a.Scope), pid,
		nullable(a.ProcessName), string(a.Severity), unixSeconds(a.Timestamp),
		nullable(a.ActionTaken), evidence,
	)
	if err != nil {
		return fmt.Errorf("inserting alert %s: %w", a.ID, err)
	}
	return nil
}

// Append queues a file event for the next batch. It never blocks: when
// the queue is full the event is dropped, the event log is best effort.
func (s *Store) Append(ev event.FileEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// Close flushes pending events and closes the database.
func (s *Store) Close() error {
	close(s.events)
	<-s.done
	return s.db.Close()
}

func (s *Store) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushTick)
	defer ticker.Stop()
	batch := make([]event.FileEvent, 0, s.batchSize)
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flush(batch []event.FileEvent) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		logger.Warnf("event flush failed to begin: %v", err)
		return
	}
	stmt, err := tx.Prepare(`
		INSERT INTO file_events (path, event_type, timestamp, size, process_name)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		logger.Warnf("event flush failed to prepare: %v", err)
		tx.Rollback()
		return
	}
	for _, ev := range batch {
		if _, err := stmt.Exec(ev.Path, ev.Kind.String(), unixSeconds(ev.Time), ev.Size, nullable(ev.ProcessName)); err != nil {
			logger.Warnf("event insert failed for %s: %v", ev.Path, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		logger.Warnf("event flush failed to commit: %v", err)
		return
	}
	logger.Debugf("flushed %d file events", len(batch))
}

// RecentAlerts returns up to limit stored alerts, newest first.
func (s *Store) RecentAlerts(limit int) ([]correlate.Alert, error) {
	rows, err := s.db.Query(`
		SELECT alert_id, alert_type, message, file_path, scope, process_name,
		       severity, timestamp, action_taken, evidence
		FROM alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []correlate.Alert
	for rows.Next() {
		var a correlate.Alert
		var alertType, severity string
		var path, scope, procName, action, evidence sql.NullString
		var ts float64
		if err := rows.Scan(&a.ID, &alertType, &a.Message, &path, &scope, &procName,
			&severity, &ts, &action, &evidence); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		a.Type = correlate.Type(alertType)
		a.Severity = correlate.Severity(severity)
		a.Path = path.String
		a.Scope = scope.String
		a.ProcessName = procName.String
		a.ActionTaken = action.String
		a.Timestamp = time.Unix(0, int64(ts*float64(time.Second))).UTC()
		if evidence.Valid {
			var m map[string]string
			if err := json.Unmarshal([]byte(evidence.String), &m); err == nil {
				a.Evidence = m
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EventCount reports how many file events have been flushed.
func (s *Store) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM file_events`).Scan(&n)
	return n, err
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
