package run

import (
	"strings"

	"git.home.luguber.info/inful/runledger/internal/foundation"
)

// RunIDRejection names why a custom run_id was refused.
type RunIDRejection string

const (
	RunIDOK           RunIDRejection = ""
	RunIDEmpty        RunIDRejection = "empty"
	RunIDTooLong      RunIDRejection = "too_long"
	RunIDInvalidChars RunIDRejection = "invalid_chars"
)

// MaxRunIDLength is the upper bound for custom run identifiers.
const MaxRunIDLength = 255

// ValidateRunID checks a custom run_id against the acceptance rules:
// non-blank, at most 255 bytes, and free of '/', '\' and NUL.
func ValidateRunID(id string) RunIDRejection {
	if strings.TrimSpace(id) == "" {
		return RunIDEmpty
	}
	if len(id) > MaxRunIDLength {
		return RunIDTooLong
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return RunIDInvalidChars
	}
	return RunIDOK
}

// ValidateRecord applies boundary validation for a create payload. Status is
// expected to be already alias-normalized by the caller.
func ValidateRecord(r *Record) foundation.ValidationResult {
	var errs []foundation.FieldError

	if strings.TrimSpace(r.EventID) == "" {
		errs = append(errs, foundation.NewValidationError("event_id", "required", "event_id is required"))
	}
	if reason := ValidateRunID(r.RunID); reason != RunIDOK {
		errs = append(errs, foundation.NewValidationError("run_id", string(reason), "run_id failed validation: "+string(reason)))
	}
	if strings.TrimSpace(r.AgentName) == "" {
		errs = append(errs, foundation.NewValidationError("agent_name", "required", "agent_name is required"))
	}
	if strings.TrimSpace(r.JobType) == "" {
		errs = append(errs, foundation.NewValidationError("job_type", "required", "job_type is required"))
	}
	if strings.TrimSpace(r.StartTime) == "" {
		errs = append(errs, foundation.NewValidationError("start_time", "required", "start_time is required"))
	} else if _, err := ParseTimestamp(r.StartTime); err != nil {
		errs = append(errs, foundation.NewValidationError("start_time", "format", "start_time must be ISO-8601 with timezone"))
	}
	if r.EndTime != "" {
		if _, err := ParseTimestamp(r.EndTime); err != nil {
			errs = append(errs, foundation.NewValidationError("end_time", "format", "end_time must be ISO-8601 with timezone"))
		}
	}
	if r.Status != "" && !IsCanonicalStatus(r.Status) {
		errs = append(errs, foundation.NewValidationError("status", "enum", "status must be one of running, success, failure, partial, timeout, cancelled"))
	}

	for _, c := range []struct {
		name string
		val  *int64
	}{
		{"duration_ms", r.DurationMS},
		{"items_discovered", r.ItemsDiscovered},
		{"items_succeeded", r.ItemsSucceeded},
		{"items_failed", r.ItemsFailed},
		{"items_skipped", r.ItemsSkipped},
		{"api_retry_count", r.APIRetryCount},
	} {
		if c.val != nil && *c.val < 0 {
			errs = append(errs, foundation.NewValidationError(c.name, "negative", c.name+" must be >= 0"))
		}
	}

	if r.GitCommitSource != "" && !IsCommitSource(r.GitCommitSource) {
		errs = append(errs, foundation.NewValidationError("git_commit_source", "enum", "git_commit_source must be one of manual, llm, ci"))
	}
	if r.GitCommitHash != "" {
		if err := ValidateCommitHash(r.GitCommitHash); err != nil {
			errs = append(errs, *err)
		}
	}

	if len(errs) > 0 {
		return foundation.Invalid(errs...)
	}
	return foundation.Valid()
}

// ValidateCommitHash enforces the 7..40 hex-length contract for commit hashes.
func ValidateCommitHash(hash string) *foundation.FieldError {
	if len(hash) < 7 || len(hash) > 40 {
		fe := foundation.NewValidationError("git_commit_hash", "length", "commit hash must be 7-40 characters")
		return &fe
	}
	return nil
}
