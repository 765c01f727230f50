package run

import "git.home.luguber.info/inful/runledger/internal/foundation"

// statusNormalizer maps wire aliases and canonical names onto the canonical
// status set. Unknown values pass through unchanged: the schema CHECK rejects
// them at write time, and at query time they simply match no rows.
var statusNormalizer = foundation.NewNormalizer(map[string]Status{
	"running":   StatusRunning,
	"success":   StatusSuccess,
	"succeeded": StatusSuccess,
	"completed": StatusSuccess,
	"failure":   StatusFailure,
	"failed":    StatusFailure,
	"partial":   StatusPartial,
	"timeout":   StatusTimeout,
	"cancelled": StatusCancelled,
}, "")

// NormalizeStatus maps status aliases (failed, completed, succeeded) to
// canonical values. Canonical and unknown values pass through. The function
// is idempotent: NormalizeStatus(NormalizeStatus(s)) == NormalizeStatus(s).
func NormalizeStatus(raw string) string {
	if s, err := statusNormalizer.NormalizeWithError(raw); err == nil {
		return string(s)
	}
	return raw
}

// IsCanonicalStatus reports whether s is in the canonical six-value set.
func IsCanonicalStatus(s string) bool {
	switch Status(s) {
	case StatusRunning, StatusSuccess, StatusFailure, StatusPartial, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// IsCommitSource reports whether s is a recognized commit source.
func IsCommitSource(s string) bool {
	switch CommitSource(s) {
	case CommitSourceManual, CommitSourceLLM, CommitSourceCI:
		return true
	}
	return false
}
