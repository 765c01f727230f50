// Package service assembles the runledger daemon: single-writer lock,
// storage engine, HTTP server, scheduled backups, and config-file watching.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/runledger/internal/backup"
	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/lock"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/server/httpserver"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// Service owns the daemon lifecycle. Start acquires the writer lock, opens
// the database, and brings up the HTTP surface; Stop tears everything down
// in reverse order and releases the lock last.
type Service struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	logLevel   *slog.LevelVar

	watchDebounce time.Duration

	guard     *lock.Guard
	store     *storage.Engine
	httpSrv   *httpserver.Server
	scheduler gocron.Scheduler
	watcher   *configWatcher
	recorder  metrics.Recorder
	registry  *prom.Registry
}

// Options carries optional service collaborators.
type Options struct {
	// ConfigPath, when set, enables live config watching (log level reload).
	ConfigPath string
	// LogLevel is the shared level var backing the process logger; the
	// watcher adjusts it on reload.
	LogLevel *slog.LevelVar
	Logger   *slog.Logger
}

// New creates the daemon. Nothing is started yet.
func New(cfg *config.Config, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := prom.NewRegistry()
	return &Service{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		logger:     logger,
		logLevel:   opts.LogLevel,
		recorder:   metrics.NewPrometheusRecorder(registry),
		registry:   registry,
	}
}

// Start brings the daemon up. On any failure everything already started is
// torn down before returning.
func (s *Service) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.Stop(stopCtx)
		}
	}()

	for _, dir := range []string{s.cfg.RawDir(), s.cfg.BufferDir(), s.cfg.LogsDir()} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("create data directory %s: %w", dir, mkErr)
		}
	}

	s.guard, err = lock.Acquire(s.cfg.LockPath())
	if err != nil {
		return err
	}

	s.store, err = storage.Open(s.cfg.DB)
	if err != nil {
		return err
	}

	s.httpSrv = httpserver.New(s.cfg, s.store, httpserver.Options{
		Recorder: s.recorder,
		Registry: s.registry,
		Logger:   s.logger,
	})
	if err = s.httpSrv.Start(ctx); err != nil {
		return err
	}

	if s.cfg.Backup.Schedule > 0 {
		if err = s.startBackupSchedule(); err != nil {
			return err
		}
	}

	if s.configPath != "" {
		s.watcher, err = newConfigWatcher(s.configPath, s, s.logger)
		if err != nil {
			s.logger.Warn("config watching disabled", logfields.Error(err))
			err = nil
		} else {
			if s.watchDebounce > 0 {
				s.watcher.debounce = s.watchDebounce
			}
			s.watcher.start(ctx)
		}
	}

	s.logger.Info("service started",
		slog.String("addr", s.httpSrv.Addr()),
		logfields.Path(s.cfg.BaseDir))
	return nil
}

// startBackupSchedule runs the backup controller on a fixed interval.
func (s *Service) startBackupSchedule() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create backup scheduler: %w", err)
	}
	ctrl := backup.New(s.cfg, s.recorder, s.logger)
	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Backup.Schedule),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if dir, berr := ctrl.Backup(ctx, s.store); berr != nil {
				s.logger.Error("scheduled backup failed", logfields.Error(berr))
			} else {
				s.logger.Info("scheduled backup complete", logfields.Path(dir))
			}
		}),
		gocron.WithName("scheduled-backup"),
	)
	if err != nil {
		return fmt.Errorf("schedule backups: %w", err)
	}
	sched.Start()
	s.scheduler = sched
	s.logger.Info("scheduled backups enabled",
		slog.Duration("interval", s.cfg.Backup.Schedule))
	return nil
}

// reload applies a freshly loaded configuration. Only the log level changes
// at runtime; everything else needs a restart and is logged when it differs.
func (s *Service) reload(newCfg *config.Config) {
	if s.logLevel != nil {
		old := s.logLevel.Level()
		next := newCfg.Logging.SlogLevel()
		if old != next {
			s.logLevel.Set(next)
			s.logger.Info("log level changed",
				slog.String("from", old.String()),
				slog.String("to", next.String()))
		}
	}
	if newCfg.API.Port != s.cfg.API.Port || newCfg.API.Host != s.cfg.API.Host {
		s.logger.Warn("listen address change requires restart")
	}
	if newCfg.DB.Path != s.cfg.DB.Path {
		s.logger.Warn("database path change requires restart")
	}
	s.cfg.Logging = newCfg.Logging
}

// Addr returns the bound HTTP listen address, or "" before Start.
func (s *Service) Addr() string {
	if s.httpSrv == nil {
		return ""
	}
	return s.httpSrv.Addr()
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop tears the daemon down in reverse start order. The writer lock is
// released last so no second instance can open the database while this one
// still has it.
func (s *Service) Stop(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.watcher != nil {
		s.watcher.stop()
		s.watcher = nil
	}
	if s.scheduler != nil {
		record(s.scheduler.Shutdown())
		s.scheduler = nil
	}
	if s.httpSrv != nil {
		record(s.httpSrv.Stop(ctx))
		s.httpSrv = nil
	}
	if s.store != nil {
		record(s.store.Close())
		s.store = nil
	}
	if s.guard != nil {
		record(s.guard.Release())
		s.guard = nil
	}

	if firstErr != nil {
		return firstErr
	}
	s.logger.Info("service stopped")
	return nil
}
