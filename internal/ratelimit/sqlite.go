package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteFile is the database name used when the store is rooted in a directory.
const SQLiteFile = "nudge_rate_limit.db"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS dispatch_state (
	agent_id         TEXT PRIMARY KEY,
	last_dispatch_ms INTEGER,
	day_key          TEXT,
	day_count        INTEGER
);
`

// #endregion schema

// #region sqlite-store

// SQLiteStore keeps State in a SQLite table. Update runs inside an IMMEDIATE
// transaction, which serializes writers across processes.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) <root>/nudge_rate_limit.db.
func OpenSQLite(root string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}
	dsn := "file:" + filepath.Join(root, SQLiteFile) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	return NewSQLiteStore(dsn, logger)
}

// NewSQLiteStore opens a database by DSN and runs migrations.
func NewSQLiteStore(dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.Named("ratelimit")}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion sqlite-store

// #region load

// Load reads every agent row. Query failures are logged and yield Empty().
func (s *SQLiteStore) Load(ctx context.Context) State {
	st, err := loadRows(ctx, s.db)
	if err != nil {
		s.logger.Warn("rate-limit table unreadable, starting empty", zap.Error(err))
		return Empty()
	}
	return st
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRows(ctx context.Context, q queryer) (State, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT agent_id, last_dispatch_ms, day_key, day_count FROM dispatch_state`)
	if err != nil {
		return State{}, fmt.Errorf("query dispatch_state: %w", err)
	}
	defer rows.Close()

	st := Empty()
	for rows.Next() {
		var agent string
		var last, count sql.NullInt64
		var dayKey sql.NullString
		if err := rows.Scan(&agent, &last, &dayKey, &count); err != nil {
			return State{}, fmt.Errorf("scan row: %w", err)
		}
		if last.Valid {
			st.LastDispatchByAgent[agent] = last.Int64
		}
		if dayKey.Valid {
			st.DailyDispatchByAgent[agent] = DailyCount{DayKey: dayKey.String, Count: int(count.Int64)}
		}
	}
	return st, rows.Err()
}

// #endregion load

// #region save

// Save replaces the whole table with st in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeRows(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

func writeRows(ctx context.Context, tx *sql.Tx, st State) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_state`); err != nil {
		return fmt.Errorf("clear dispatch_state: %w", err)
	}
	// An agent may appear in either map alone; NULL columns mark the gap.
	agents := make(map[string]struct{}, len(st.LastDispatchByAgent))
	for agent := range st.LastDispatchByAgent {
		agents[agent] = struct{}{}
	}
	for agent := range st.DailyDispatchByAgent {
		agents[agent] = struct{}{}
	}
	for agent := range agents {
		var last, dayKey, count any
		if v, ok := st.LastDispatchByAgent[agent]; ok {
			last = v
		}
		if d, ok := st.DailyDispatchByAgent[agent]; ok {
			dayKey, count = d.DayKey, d.Count
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dispatch_state (agent_id, last_dispatch_ms, day_key, day_count) VALUES (?, ?, ?, ?)`,
			agent, last, dayKey, count,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", agent, err)
		}
	}
	return nil
}

// #endregion save

// #region update

// Update loads, applies fn and writes back inside a single transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(*State) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	st, err := loadRows(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	if err := writeRows(ctx, tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

// #endregion update
