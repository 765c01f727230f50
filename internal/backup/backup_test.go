package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/run"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

func seedStore(t *testing.T) (*config.Config, *storage.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.DB.Path = filepath.Join(cfg.BaseDir, "db", "telemetry.sqlite")
	cfg.Backup.Dir = filepath.Join(cfg.BaseDir, "backups")
	cfg.Backup.MinFreeBytes = 0

	store, err := storage.Open(cfg.DB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.InsertRun(context.Background(), &run.Record{
		EventID: "e1", RunID: "r1", AgentName: "a", JobType: "j",
		StartTime: "2026-01-01T00:00:00Z", Status: "success",
	})
	require.NoError(t, err)
	return cfg, store
}

func TestBackupWritesVerifiedCopy(t *testing.T) {
	cfg, store := seedStore(t)
	ctrl := New(cfg, nil, nil)

	dir, err := ctrl.Backup(context.Background(), store)
	require.NoError(t, err)

	copyPath := filepath.Join(dir, "telemetry.sqlite")
	require.FileExists(t, copyPath)

	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.True(t, meta.Verified)
	assert.Equal(t, "vacuum_into", meta.Method)
	assert.Positive(t, meta.SizeBytes)

	// the copy is a readable database with the seeded row
	snap, err := storage.Open(config.DBConfig{Path: copyPath})
	require.NoError(t, err)
	defer snap.Close()
	row, err := snap.FetchByEventID(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", row["event_id"])
}

func TestBackupRefusesWithoutFreeSpace(t *testing.T) {
	cfg, store := seedStore(t)
	cfg.Backup.MinFreeBytes = 1 << 60 // more than any disk has
	ctrl := New(cfg, nil, nil)

	_, err := ctrl.Backup(context.Background(), store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient free space")
}

func TestListBackupsNewestFirst(t *testing.T) {
	cfg, store := seedStore(t)
	ctrl := New(cfg, nil, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Backup.Dir, "20200101_000000"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Backup.Dir, "safety_backups"), 0o755))
	_, err := ctrl.Backup(context.Background(), store)
	require.NoError(t, err)

	dirs, err := ctrl.ListBackups()
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, filepath.Join(cfg.Backup.Dir, "20200101_000000"), dirs[1])
}

func TestPruneDropsExpiredBackups(t *testing.T) {
	cfg, store := seedStore(t)
	cfg.Backup.RetentionDays = 14
	ctrl := New(cfg, nil, nil)

	expired := filepath.Join(cfg.Backup.Dir, "20200101_000000")
	require.NoError(t, os.MkdirAll(expired, 0o755))

	_, err := ctrl.Backup(context.Background(), store)
	require.NoError(t, err)

	_, err = os.Stat(expired)
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreReplacesLiveFile(t *testing.T) {
	cfg, store := seedStore(t)
	ctrl := New(cfg, nil, nil)
	ctx := context.Background()

	dir, err := ctrl.Backup(ctx, store)
	require.NoError(t, err)

	// diverge the live database after the backup
	_, err = store.InsertRun(ctx, &run.Record{
		EventID: "e2", RunID: "r2", AgentName: "a", JobType: "j",
		StartTime: "2026-01-02T00:00:00Z", Status: "success",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	result, err := ctrl.Restore(ctx, RestoreOptions{BackupDir: dir})
	require.NoError(t, err)
	assert.False(t, result.RolledBack)
	assert.NotEmpty(t, result.SafetyCopy)
	require.FileExists(t, result.SafetyCopy)

	restored, err := storage.Open(cfg.DB)
	require.NoError(t, err)
	defer restored.Close()
	_, err = restored.FetchByEventID(ctx, "e1")
	require.NoError(t, err)
	_, err = restored.FetchByEventID(ctx, "e2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRestoreRefusesCorruptBackup(t *testing.T) {
	cfg, _ := seedStore(t)
	ctrl := New(cfg, nil, nil)

	bad := filepath.Join(cfg.Backup.Dir, "20260101_000000")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "telemetry.sqlite"), []byte("not a database"), 0o644))

	_, err := ctrl.Restore(context.Background(), RestoreOptions{BackupDir: bad})
	require.Error(t, err)
}
