package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// eventLog appends JSON lines to the per-day disaster-recovery file
// raw/events_YYYYMMDD.ndjson. The file is append-only and never mutated;
// concurrent appends within the process are serialized by the mutex to keep
// line integrity.
type eventLog struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func newEventLog(dir string) *eventLog {
	return &eventLog{dir: dir, now: time.Now}
}

// appendLine writes one JSON object plus newline to today's file.
func (l *eventLog) appendLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event-log line: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create event-log directory: %w", err)
	}
	path := l.currentPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event log %s: %w", path, err)
	}
	return nil
}

// appendEvent records a per-run log event.
func (l *eventLog) appendEvent(ev run.Event) error {
	if ev.Timestamp == "" {
		ev.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	return l.appendLine(ev)
}

// appendRecord records a lifecycle transition carrying the full record.
func (l *eventLog) appendRecord(eventType string, rec *run.Record) error {
	return l.appendLine(map[string]any{
		"event_type": eventType,
		"timestamp":  l.now().UTC().Format(time.RFC3339),
		"record":     rec,
	})
}

func (l *eventLog) currentPath() string {
	return filepath.Join(l.dir, "events_"+l.now().UTC().Format("20060102")+".ndjson")
}
