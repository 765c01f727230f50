package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func limiterAt(limit int, window time.Duration, clock *time.Time) *Limiter {
	l := New(limit, window)
	l.now = func() time.Time { return *clock }
	return l
}

func TestAllowUpToLimit(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := limiterAt(3, time.Minute, &clock)

	for i := 0; i < 3; i++ {
		d := l.Allow("1.2.3.4")
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Allow("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestWindowSlides(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := limiterAt(2, time.Minute, &clock)

	assert.True(t, l.Allow("k").Allowed)
	clock = clock.Add(30 * time.Second)
	assert.True(t, l.Allow("k").Allowed)
	assert.False(t, l.Allow("k").Allowed)

	// first request ages out, one slot frees
	clock = clock.Add(31 * time.Second)
	assert.True(t, l.Allow("k").Allowed)
	assert.False(t, l.Allow("k").Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := limiterAt(1, time.Minute, &clock)

	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("b").Allowed)
}

func TestPruneDropsIdleKeys(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := limiterAt(5, time.Minute, &clock)

	l.Allow("idle")
	clock = clock.Add(2 * time.Minute)
	l.Allow("active")

	l.Prune()
	assert.Equal(t, 1, l.Keys())
}

func TestRetryAfterFloor(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := limiterAt(1, time.Minute, &clock)

	l.Allow("k")
	clock = clock.Add(59*time.Second + 800*time.Millisecond)
	d := l.Allow("k")
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
}
