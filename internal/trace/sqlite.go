package trace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// IndexFile is the trace index database name under the state root.
const IndexFile = "nudge_trace.db"

// #region schema
const indexSchema = `
CREATE TABLE IF NOT EXISTS trace_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id    TEXT NOT NULL UNIQUE,
	trace_id     TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_log_trace_id ON trace_log(trace_id);
CREATE INDEX IF NOT EXISTS idx_trace_log_agent ON trace_log(agent_id, created_at);
`

// #endregion schema

// #region index

// SQLiteIndex mirrors trace records into a queryable table. It is an
// additional Recorder; the JSONL log stays the source of record.
type SQLiteIndex struct {
	db *sql.DB
}

var _ Recorder = (*SQLiteIndex)(nil)

// OpenIndex opens <root>/nudge_trace.db.
func OpenIndex(root string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}
	return NewIndex("file:" + filepath.Join(root, IndexFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
}

// NewIndex opens an index by DSN and runs migrations.
func NewIndex(dsn string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close closes the underlying database connection.
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

// #endregion index

// #region append

func (x *SQLiteIndex) Append(ctx context.Context, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO trace_log (record_id, trace_id, agent_id, outcome, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RecordID,
		rec.TraceID,
		rec.AgentID,
		rec.Outcome,
		string(rec.Payload),
		rec.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("index trace record: %w", err)
	}
	return nil
}

// #endregion append

// #region query

// ByTraceID returns every indexed record with the given trace ID, oldest first.
func (x *SQLiteIndex) ByTraceID(ctx context.Context, traceID string) ([]Record, error) {
	return x.query(ctx,
		`SELECT record_id, trace_id, agent_id, outcome, payload_json, created_at
		 FROM trace_log WHERE trace_id = ? ORDER BY id`, traceID)
}

// Recent returns the newest records for agentID, or for every agent when agentID is empty.
func (x *SQLiteIndex) Recent(ctx context.Context, agentID string, limit int) ([]Record, error) {
	if agentID == "" {
		return x.query(ctx,
			`SELECT record_id, trace_id, agent_id, outcome, payload_json, created_at
			 FROM trace_log ORDER BY id DESC LIMIT ?`, limit)
	}
	return x.query(ctx,
		`SELECT record_id, trace_id, agent_id, outcome, payload_json, created_at
		 FROM trace_log WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
}

func (x *SQLiteIndex) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trace_log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload, created string
		if err := rows.Scan(&rec.RecordID, &rec.TraceID, &rec.AgentID, &rec.Outcome, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.Payload = []byte(payload)
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion query
