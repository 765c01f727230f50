package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/run"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

func seedConfig(t *testing.T, oldRows, freshRows int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.DB.Path = filepath.Join(cfg.BaseDir, "db", "telemetry.sqlite")
	cfg.Retention.BatchSize = 3

	store, err := storage.Open(cfg.DB)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < oldRows; i++ {
		rec := &run.Record{
			EventID: fmt.Sprintf("old%d", i), RunID: fmt.Sprintf("r%d", i),
			AgentName: "a", JobType: "j",
			StartTime: "2020-01-01T00:00:00Z", CreatedAt: "2020-01-01T00:00:00Z",
			Status: "success",
		}
		_, err := store.InsertRun(ctx, rec)
		require.NoError(t, err)
	}
	for i := 0; i < freshRows; i++ {
		rec := &run.Record{
			EventID: fmt.Sprintf("fresh%d", i), RunID: fmt.Sprintf("f%d", i),
			AgentName: "a", JobType: "j",
			StartTime: run.Now(), Status: "running",
		}
		_, err := store.InsertRun(ctx, rec)
		require.NoError(t, err)
	}
	return cfg
}

func TestDryRunCountsWithoutDeleting(t *testing.T) {
	cfg := seedConfig(t, 5, 2)
	ctrl := New(cfg, nil, nil)

	report, err := ctrl.Run(context.Background(), 90, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, int64(5), report.RowsDeleted)
	assert.Equal(t, int64(7), report.Before.TotalRuns)

	store, err := storage.Open(cfg.DB)
	require.NoError(t, err)
	defer store.Close()
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalRuns)
}

func TestRunDeletesOldRows(t *testing.T) {
	cfg := seedConfig(t, 5, 2)
	ctrl := New(cfg, nil, nil)

	report, err := ctrl.Run(context.Background(), 90, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.RowsDeleted)
	assert.Equal(t, int64(2), report.After.TotalRuns)
	assert.Empty(t, report.ReclaimError)

	// the lock was released on the way out
	report, err = ctrl.Run(context.Background(), 90, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.RowsDeleted)
}

func TestRunNothingToDelete(t *testing.T) {
	cfg := seedConfig(t, 0, 3)
	ctrl := New(cfg, nil, nil)

	report, err := ctrl.Run(context.Background(), 90, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.RowsDeleted)
	assert.Equal(t, int64(3), report.After.TotalRuns)
}
