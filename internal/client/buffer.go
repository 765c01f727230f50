package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// Buffer operation kinds. A create replays POST only; a finalize replays
// POST (absorbed as duplicate when the create already landed) followed by a
// PATCH of the final fields.
const (
	opCreate   = "create"
	opFinalize = "finalize"
)

// bufferedEvent is the durable failover unit: one JSON file per event,
// renamed into place atomically so the sync worker never reads a torn file.
type bufferedEvent struct {
	Op     string      `json:"op"`
	Record *run.Record `json:"record"`
}

type buffer struct {
	dir string
}

func newBuffer(dir string) *buffer {
	return &buffer{dir: dir}
}

// enqueue persists an event for later replay. The file name carries the
// event_id and op, so a retried enqueue of the same event overwrites rather
// than duplicates.
func (b *buffer) enqueue(op string, rec *run.Record) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create buffer directory: %w", err)
	}

	data, err := json.Marshal(bufferedEvent{Op: op, Record: rec})
	if err != nil {
		return fmt.Errorf("marshal buffered event: %w", err)
	}

	final := filepath.Join(b.dir, rec.EventID+"_"+op+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write buffer file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename buffer file into place: %w", err)
	}
	return nil
}

// list returns the pending buffer file paths in name order, creates before
// finalizes for the same event_id.
func (b *buffer) list() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read buffer directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(b.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// load reads one buffered event back.
func (b *buffer) load(path string) (*bufferedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read buffer file %s: %w", path, err)
	}
	var ev bufferedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse buffer file %s: %w", path, err)
	}
	return &ev, nil
}

// remove deletes a replayed buffer file.
func (b *buffer) remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove buffer file %s: %w", path, err)
	}
	return nil
}

func (b *buffer) pending() int {
	paths, err := b.list()
	if err != nil {
		return 0
	}
	return len(paths)
}
