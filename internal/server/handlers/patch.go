package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"git.home.luguber.info/inful/runledger/internal/run"
	"git.home.luguber.info/inful/runledger/internal/storage"
)

// decodeOrderedPatch reads a flat JSON object preserving the arrival order of
// its keys, which map[string]any would lose. The reported fields_updated list
// mirrors the request body's key order.
func decodeOrderedPatch(r io.Reader) ([]storage.PatchField, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read patch body: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("patch body must be a JSON object")
	}

	var fields []storage.PatchField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read patch key: %w", err)
		}
		key := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read patch value for %q: %w", key, err)
		}
		fields = append(fields, storage.PatchField{Name: key, Value: normalizePatchValue(key, value)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read patch body: %w", err)
	}
	return fields, nil
}

// normalizePatchValue applies write-path normalization: status aliases fold to
// the canonical set, and json.Number collapses to int64 or float64.
func normalizePatchValue(key string, value any) any {
	if key == "status" {
		if s, ok := value.(string); ok {
			return run.NormalizeStatus(s)
		}
	}
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return value
}

// filterSettable drops immutable and unknown columns from the patch. The
// remaining fields keep their arrival order.
func filterSettable(fields []storage.PatchField) []storage.PatchField {
	kept := fields[:0]
	for _, f := range fields {
		if storage.IsSettableColumn(f.Name) {
			kept = append(kept, f)
		}
	}
	return kept
}
