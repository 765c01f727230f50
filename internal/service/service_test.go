package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/runledger/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.DB.Path = filepath.Join(cfg.BaseDir, "db", "telemetry.sqlite")
	cfg.Backup.Dir = filepath.Join(cfg.BaseDir, "backups")
	cfg.Backup.MinFreeBytes = 0
	cfg.API.Port = 0
	return cfg
}

func TestStartServesHealthAndStops(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, Options{Logger: slog.Default()})
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", svc.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.Stop(ctx))

	// the writer lock is gone, a fresh instance can start
	second := New(cfg, Options{Logger: slog.Default()})
	require.NoError(t, second.Start(ctx))
	require.NoError(t, second.Stop(ctx))
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := New(cfg, Options{Logger: slog.Default()})
	require.NoError(t, first.Start(ctx))
	defer first.Stop(ctx)

	second := New(cfg, Options{Logger: slog.Default()})
	err := second.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock")
}

func TestScheduledBackupRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Schedule = 50 * time.Millisecond
	svc := New(cfg, Options{Logger: slog.Default()})
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.Backup.Dir)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.IsDir() && e.Name() != "safety_backups" {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond)
}

func TestConfigReloadAdjustsLogLevel(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "runledger.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0o644))

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	svc := New(cfg, Options{ConfigPath: configPath, LogLevel: level, Logger: slog.Default()})
	svc.watchDebounce = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0o644))

	assert.Eventually(t, func() bool {
		return level.Level() == slog.LevelDebug
	}, 10*time.Second, 50*time.Millisecond)
}
