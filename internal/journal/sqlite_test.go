package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, Entry{OperationID: "op-1", WorkerID: "w", Action: "echo", Kind: "completed", DurationMS: 4, LogCount: 2}))
	require.NoError(t, store.Record(ctx, Entry{OperationID: "op-2", WorkerID: "w", Action: "compile", Kind: "failed", Message: "boom", Category: "action"}))
	require.NoError(t, store.Record(ctx, Entry{OperationID: "op-3", WorkerID: "w", Action: "compile", Kind: "failed"}))

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "op-3", recent[0].OperationID)
	assert.Equal(t, "op-2", recent[1].OperationID)
	assert.Equal(t, "boom", recent[1].Message)
	assert.Equal(t, "action", recent[1].Category)
	assert.WithinDuration(t, time.Now(), recent[0].RecordedAt, time.Minute)

	counts, err := store.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"completed": 1, "failed": 2}, counts)
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, Entry{OperationID: "op", WorkerID: "w", Action: "a", Kind: "infrastructure_failed", LogCount: 1}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	recent, err := reopened.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "infrastructure_failed", recent[0].Kind)
	assert.Equal(t, 1, recent[0].LogCount)
}
