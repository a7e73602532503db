package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens the journal at dbPath. Use ":memory:" for an
// in-memory journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		action TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT,
		category TEXT,
		duration_ms INTEGER NOT NULL,
		log_count INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_worker ON outcomes(worker_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_kind ON outcomes(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends e. A zero RecordedAt is set to now.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (operation_id, worker_id, action, kind, message, category, duration_ms, log_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OperationID, e.WorkerID, e.Action, e.Kind, e.Message, e.Category, e.DurationMS, e.LogCount, e.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, worker_id, action, kind, message, category, duration_ms, log_count, recorded_at
		FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountByKind returns the number of entries per response kind.
func (s *SQLiteStore) CountByKind(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM outcomes GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return counts, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var message, category sql.NullString
		var recorded int64
		if err := rows.Scan(&e.ID, &e.OperationID, &e.WorkerID, &e.Action, &e.Kind,
			&message, &category, &e.DurationMS, &e.LogCount, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Message = message.String
		e.Category = category.String
		e.RecordedAt = time.UnixMilli(recorded)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
