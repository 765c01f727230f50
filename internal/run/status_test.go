package run

import "testing"

func TestNormalizeStatusAliases(t *testing.T) {
	cases := map[string]string{
		"failed":    "failure",
		"completed": "success",
		"succeeded": "success",
		"running":   "running",
		"success":   "success",
		"failure":   "failure",
		"partial":   "partial",
		"timeout":   "timeout",
		"cancelled": "cancelled",
		"FAILED":    "failure",
		" Completed ": "success",
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

// Unknown values pass through unchanged; the schema CHECK rejects them on
// write and they match no rows at query time.
func TestNormalizeStatusUnknownPassthrough(t *testing.T) {
	for _, in := range []string{"bogus", "pending", "done"} {
		if got := NormalizeStatus(in); got != in {
			t.Fatalf("NormalizeStatus(%q) = %q, want passthrough", in, got)
		}
	}
}

func TestNormalizeStatusIdempotent(t *testing.T) {
	for _, in := range []string{"failed", "completed", "running", "bogus"} {
		once := NormalizeStatus(in)
		if twice := NormalizeStatus(once); twice != once {
			t.Fatalf("NormalizeStatus not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestIsCanonicalStatus(t *testing.T) {
	for _, s := range []string{"running", "success", "failure", "partial", "timeout", "cancelled"} {
		if !IsCanonicalStatus(s) {
			t.Fatalf("expected %q canonical", s)
		}
	}
	for _, s := range []string{"failed", "completed", "succeeded", "", "bogus"} {
		if IsCanonicalStatus(s) {
			t.Fatalf("expected %q non-canonical", s)
		}
	}
}
