package resultstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"scrapekit/internal/components/telemetry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, config Config) Store {
	t.Helper()
	db, err := config.OpenDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, &telemetry.Recorder{})
}

func TestSaveAndReadRecords(t *testing.T) {
	store := openTestStore(t, Config{File: ":memory:"})
	ctx := context.Background()
	at := time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)

	run, err := store.Start(ctx, "https://example.org/list", at)
	require.NoError(t, err)
	require.Equal(t, at.Unix(), run.StartedAt.Unix())

	require.NoError(t, store.Save(ctx, run, "https://example.org/list?page=1", []map[string]any{
		{"name": "a", "price": decimal.RequireFromString("12.50")},
		{"name": "b", "price": decimal.RequireFromString("-3")},
	}))
	require.NoError(t, store.Save(ctx, run, "https://example.org/list?page=2", []map[string]any{
		{"name": "c", "date": at},
	}))

	records, err := store.Records(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, 0, records[0].Index)
	require.Equal(t, "https://example.org/list?page=1", records[0].Page)
	require.Equal(t, map[string]any{"name": "a", "price": "12.5"}, records[0].Data)
	require.Equal(t, 2, records[2].Index)
	require.Equal(t, "https://example.org/list?page=2", records[2].Page)
	require.Equal(t, "2024-10-15T12:00:00Z", records[2].Data["date"])

	empty, err := store.Records(ctx, run.ID+1)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRuns(t *testing.T) {
	store := openTestStore(t, Config{File: filepath.Join(t.TempDir(), "nested", "results.db")})
	ctx := context.Background()

	first, err := store.Start(ctx, "calendar", time.Unix(100, 0))
	require.NoError(t, err)
	second, err := store.Start(ctx, "calendar", time.Unix(200, 0))
	require.NoError(t, err)
	_, err = store.Start(ctx, "moodle", time.Unix(300, 0))
	require.NoError(t, err)

	runs, err := store.Runs(ctx, "calendar")
	require.NoError(t, err)
	require.Equal(t, []int64{second.ID, first.ID}, []int64{runs[0].ID, runs[1].ID})
}

func TestOpenWithoutTarget(t *testing.T) {
	_, err := Config{}.OpenDB()
	require.Error(t, err)
}
