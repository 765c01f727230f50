package client

import (
	"sync"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// registry holds only the currently open runs, keyed by event_id with a
// run_id index for the agent-facing operations. Entries enter on start_run
// and leave on end_run.
type registry struct {
	mu      sync.Mutex
	byEvent map[string]*run.Record
	byRun   map[string]string // run_id -> event_id
}

func newRegistry() *registry {
	return &registry{
		byEvent: map[string]*run.Record{},
		byRun:   map[string]string{},
	}
}

func (r *registry) insert(rec *run.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEvent[rec.EventID] = rec
	r.byRun[rec.RunID] = rec.EventID
}

// remove deletes the open run for runID and returns its record, or nil when
// no such run is open.
func (r *registry) remove(runID string) *run.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	eventID, ok := r.byRun[runID]
	if !ok {
		return nil
	}
	rec := r.byEvent[eventID]
	delete(r.byRun, runID)
	delete(r.byEvent, eventID)
	return rec
}

func (r *registry) get(runID string) *run.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	eventID, ok := r.byRun[runID]
	if !ok {
		return nil
	}
	return r.byEvent[eventID]
}

func (r *registry) active(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byRun[runID]
	return ok
}

func (r *registry) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEvent)
}
