// Package journal persists the outcome of every request a host sends to its
// workers.
package journal

import (
	"context"
	"time"
)

// Entry is one recorded request outcome.
type Entry struct {
	ID          int64
	OperationID string
	WorkerID    string
	Action      string
	// Kind is the response kind: completed, failed or infrastructure_failed.
	Kind       string
	Message    string
	Category   string
	DurationMS int64
	LogCount   int
	RecordedAt time.Time
}

// Store records and queries outcomes.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	CountByKind(ctx context.Context) (map[string]int, error)
	Close() error
}
