// Package eventlog provides SQLite-backed audit recording of routed sessions
// and dead-lettered messages. The log is write-mostly and purely additive:
// retry counters and breaker state never read from it.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGo-free sqlite driver

	"agentflow/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	event_key TEXT,
	msg_type TEXT NOT NULL,
	command TEXT,
	status TEXT NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id);

CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	message TEXT NOT NULL,
	error TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SessionRecord is one completed routing session.
type SessionRecord struct {
	SessionID string
	RequestID string
	EventKey  string
	MsgType   string
	Command   string
	Status    string // "success", "error", "dropped"
	Error     string
	Duration  time.Duration
}

// DeadLetterRecord is one dead-lettered message.
type DeadLetterRecord struct {
	Queue   string
	Message string
	Error   string
}

// Writer records engine audit events to SQLite.
type Writer struct {
	logger *logx.Logger
	db     *sql.DB
}

// NewWriter opens (or creates) the audit database at path with WAL mode and
// a busy timeout, and initializes the schema.
func NewWriter(path string) (*Writer, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Writer{
		logger: logx.NewLogger("eventlog"),
		db:     db,
	}, nil
}

// RecordSession writes one completed session to the log.
func (w *Writer) RecordSession(rec SessionRecord) error {
	_, err := w.db.Exec(
		`INSERT INTO sessions (session_id, request_id, event_key, msg_type, command, status, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RequestID, rec.EventKey, rec.MsgType, rec.Command, rec.Status, rec.Error, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.SessionID, err)
	}
	return nil
}

// RecordDeadLetter writes one dead-letter event. It satisfies the retry
// handler's audit interface; failures are logged and swallowed so audit
// trouble never disturbs dead-letter handling.
func (w *Writer) RecordDeadLetter(queue, message, cause string) {
	_, err := w.db.Exec(
		`INSERT INTO dead_letters (queue, message, error) VALUES (?, ?, ?)`,
		queue, message, cause,
	)
	if err != nil {
		w.logger.Warn("Failed to record dead letter for %s: %v", queue, err)
	}
}

// RecentSessions returns up to limit sessions, newest first.
func (w *Writer) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := w.db.Query(
		`SELECT session_id, request_id, event_key, msg_type, command, status, error, duration_ms
		 FROM sessions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var durationMS int64
		if err := rows.Scan(&rec.SessionID, &rec.RequestID, &rec.EventKey, &rec.MsgType, &rec.Command, &rec.Status, &rec.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeadLetters returns up to limit dead-letter records, newest first.
func (w *Writer) DeadLetters(limit int) ([]DeadLetterRecord, error) {
	rows, err := w.db.Query(
		`SELECT queue, message, error FROM dead_letters ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []DeadLetterRecord
	for rows.Next() {
		var rec DeadLetterRecord
		if err := rows.Scan(&rec.Queue, &rec.Message, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (w *Writer) Close() error {
	return w.db.Close()
}
