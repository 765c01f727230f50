package client

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/retry"
)

const defaultSyncInterval = 60 * time.Second

// drainBuffer replays every pending buffer file once, removing each file
// only after the API accepted it. Replay stops at the first API-unavailable
// error (the next cycle will retry) but skips past terminal per-file errors.
func (c *Client) drainBuffer(ctx context.Context) (int, error) {
	paths, err := c.buffer.list()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		ev, err := c.buffer.load(path)
		if err != nil {
			// Torn or foreign file; leave it for inspection and move on.
			c.logger.Error("unreadable buffer file skipped", logfields.Path(path), logfields.Error(err))
			continue
		}

		err = c.replay(ctx, ev)
		switch {
		case err == nil:
			if rerr := c.buffer.remove(path); rerr != nil {
				c.logger.Error("failed to remove replayed buffer file", logfields.Path(path), logfields.Error(rerr))
			}
			replayed++
		case apiUnavailable(err):
			// API is down again; keep the file and stop the cycle.
			return replayed, err
		default:
			// Terminal rejection (validation); the event-log line remains the
			// durable record. Drop the file so the queue cannot wedge.
			c.logger.Error("buffered event rejected by API, dropping",
				logfields.Path(path),
				logfields.EventID(ev.Record.EventID),
				logfields.Error(err))
			_ = c.buffer.remove(path)
		}
	}
	return replayed, nil
}

func (c *Client) replay(ctx context.Context, ev *bufferedEvent) error {
	switch ev.Op {
	case opFinalize:
		return c.finalize(ctx, ev.Record)
	default:
		return c.api.postRun(ctx, ev.Record)
	}
}

// syncWorker is the background buffer drain loop: one cooperative goroutine
// per client process, woken by a periodic ticker and by filesystem events on
// the buffer directory. At most one drain cycle is in flight; consecutive
// failed cycles back off exponentially.
type syncWorker struct {
	client   *Client
	interval time.Duration
	policy   retry.Policy

	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}
}

func newSyncWorker(c *Client, interval time.Duration) *syncWorker {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &syncWorker{
		client:   c,
		interval: interval,
		policy:   retry.NewPolicy(retry.BackoffExponential, time.Second, 5*time.Second, 0),
		kick:     make(chan struct{}, 1),
	}
}

func (w *syncWorker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(w.client.buffer.dir); werr != nil {
			// Directory may not exist yet; the ticker alone still drives sync.
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	w.wg.Add(1)
	go w.loop(ctx, watcher)
}

// stop cancels the loop. Cancellation drains at most the one in-flight
// replay; remaining buffer files stay on disk for the next process.
func (w *syncWorker) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *syncWorker) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	var backoffUntil time.Time

	runCycle := func() {
		if time.Now().Before(backoffUntil) {
			return
		}
		n, err := w.client.drainBuffer(ctx)
		if err != nil && ctx.Err() == nil {
			failures++
			backoffUntil = time.Now().Add(w.policy.Delay(failures))
			w.client.logger.Debug("buffer sync cycle failed",
				logfields.Count(n), logfields.Error(err))
			return
		}
		failures = 0
		backoffUntil = time.Time{}
		if n > 0 {
			w.client.logger.Info("buffer events replayed", logfields.Count(n))
		}
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle()
		case <-w.kick:
			runCycle()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				runCycle()
			}
		}
	}
}
