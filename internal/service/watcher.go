package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/logfields"
)

// configWatcher reloads the configuration file when it changes on disk.
// Events are debounced because editors write config files in several steps.
type configWatcher struct {
	path     string
	svc      *Service
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConfigWatcher(path string, svc *Service, logger *slog.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watching the directory survives editors that replace the file.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &configWatcher{
		path:     abs,
		svc:      svc,
		logger:   logger,
		watcher:  w,
		debounce: 2 * time.Second,
	}, nil
}

func (cw *configWatcher) start(ctx context.Context) {
	ctx, cw.cancel = context.WithCancel(ctx)
	cw.wg.Add(1)
	go cw.loop(ctx)
	cw.logger.Info("watching configuration file", logfields.Path(cw.path))
}

func (cw *configWatcher) stop() {
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.watcher.Close()
	cw.wg.Wait()
}

func (cw *configWatcher) loop(ctx context.Context) {
	defer cw.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	name := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, func() { cw.reload(ctx) })
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", logfields.Error(err))
		}
	}
}

func (cw *configWatcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	newCfg, err := config.Load(cw.path)
	if err != nil {
		cw.logger.Error("config reload failed, keeping current configuration",
			logfields.Error(err))
		return
	}
	cw.svc.reload(newCfg)
	cw.logger.Info("configuration reloaded", logfields.Path(cw.path))
}
