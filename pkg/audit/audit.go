// Package audit records registry operations in a SQLite log so daemon
// activity can be inspected after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"weave/pkg/domain"
)

// SchemaDDL creates the operations table. Idempotent.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS operations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT NOT NULL,
	op         TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_operations_session ON operations(session_id);
CREATE INDEX IF NOT EXISTS idx_operations_at ON operations(at);
`

// Op names recorded by the daemon.
const (
	OpRegister  = "register"
	OpUpdate    = "update"
	OpHeartbeat = "heartbeat"
	OpForceStop = "force_stop"
	OpSweep     = "sweep"
	OpShutdown  = "shutdown"
	OpUpgrade   = "upgrade"
)

// Entry is one recorded operation.
type Entry struct {
	ID        int64
	At        time.Time
	Op        string
	SessionID domain.WorkflowID
	Detail    string
}

// Log is the write handle. One writer (the daemon) appends; readers use
// Reader against the same file.
type Log struct {
	db *sql.DB

	nowFunc func() time.Time
}

// Open creates or opens the log at path and applies the schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if _, err := db.Exec(SchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Log{db: db, nowFunc: time.Now}, nil
}

// Close releases the database handle.
func (l *Log) Close() error { return l.db.Close() }

// Record appends one operation.
func (l *Log) Record(ctx context.Context, op string, sessionID domain.WorkflowID, detail string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO operations (at, op, session_id, detail) VALUES (?, ?, ?, ?)`,
		l.nowFunc().UTC().Format(time.RFC3339Nano), op, sessionID.String(), detail)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}
