package storage

import "errors"

var (
	// ErrNotFound indicates no run exists for the given event_id.
	ErrNotFound = errors.New("run not found")
	// ErrEmptyPatch indicates a partial update with no known settable fields.
	ErrEmptyPatch = errors.New("empty patch: no settable fields present")
)
