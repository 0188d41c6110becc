package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"weave/pkg/domain"
)

// Reader queries the log read-only, so it can run against a live
// daemon's file without write contention.
type Reader struct {
	db *sql.DB
}

// OpenReader opens the log at path for queries.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open audit log read-only: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the database handle.
func (r *Reader) Close() error { return r.db.Close() }

// QueryOpts filter and bound a query. Zero values mean "no filter".
type QueryOpts struct {
	SessionID domain.WorkflowID
	Op        string
	Since     time.Time
	Limit     int
}

// Query returns matching entries, newest first.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Entry, error) {
	query, args := buildQuery(opts)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
			id string
		)
		if err := rows.Scan(&e.ID, &at, &e.Op, &id, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.SessionID = domain.WorkflowID(id)
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildQuery(opts QueryOpts) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, at, op, session_id, detail FROM operations`)

	var where []string
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID.String())
	}
	if opts.Op != "" {
		where = append(where, "op = ?")
		args = append(args, opts.Op)
	}
	if !opts.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	sb.WriteString(" ORDER BY id DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	return sb.String(), args
}
