package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/runledger/internal/run"
)

// RunIDMetrics is a point-in-time snapshot of the run-id acceptance counters.
type RunIDMetrics struct {
	CustomAccepted     int64             `json:"custom_accepted"`
	Generated          int64             `json:"generated"`
	Rejected           RunIDRejectCounts `json:"rejected"`
	DuplicatesDetected int64             `json:"duplicates_detected"`
	TotalRuns          int64             `json:"total_runs"`
	CustomPercentage   float64           `json:"custom_percentage"`
}

// RunIDRejectCounts breaks rejections down by rule.
type RunIDRejectCounts struct {
	Empty        int64 `json:"empty"`
	TooLong      int64 `json:"too_long"`
	InvalidChars int64 `json:"invalid_chars"`
	Total        int64 `json:"total"`
}

type runIDCounters struct {
	mu                 sync.Mutex
	customAccepted     int64
	generated          int64
	rejectedEmpty      int64
	rejectedTooLong    int64
	rejectedInvalid    int64
	duplicatesDetected int64
	totalRuns          int64
}

func (c *runIDCounters) snapshot() RunIDMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := RunIDRejectCounts{
		Empty:        c.rejectedEmpty,
		TooLong:      c.rejectedTooLong,
		InvalidChars: c.rejectedInvalid,
	}
	rejected.Total = rejected.Empty + rejected.TooLong + rejected.InvalidChars

	m := RunIDMetrics{
		CustomAccepted:     c.customAccepted,
		Generated:          c.generated,
		Rejected:           rejected,
		DuplicatesDetected: c.duplicatesDetected,
		TotalRuns:          c.totalRuns,
	}
	if m.TotalRuns > 0 {
		m.CustomPercentage = float64(m.CustomAccepted) / float64(m.TotalRuns) * 100
	}
	return m
}

// resolveRunID validates a custom run id and repairs collisions against the
// active registry. An invalid custom id falls back to a generated one; an
// active duplicate gets a -duplicate-{uuid8} suffix (custom) or a fresh
// generated id (auto). The returned id always satisfies the validation rules.
func (c *Client) resolveRunID(agentName, custom string) string {
	c.counters.mu.Lock()
	c.counters.totalRuns++
	c.counters.mu.Unlock()

	if custom != "" {
		switch run.ValidateRunID(custom) {
		case run.RunIDOK:
			if c.registry.active(custom) {
				repaired := custom + "-duplicate-" + uuid8()
				c.counters.mu.Lock()
				c.counters.customAccepted++
				c.counters.duplicatesDetected++
				c.counters.mu.Unlock()
				c.logger.Warn("custom run_id already active, repaired",
					"run_id", custom, "repaired", repaired)
				return repaired
			}
			c.counters.mu.Lock()
			c.counters.customAccepted++
			c.counters.mu.Unlock()
			return custom
		case run.RunIDEmpty:
			c.counters.mu.Lock()
			c.counters.rejectedEmpty++
			c.counters.mu.Unlock()
		case run.RunIDTooLong:
			c.counters.mu.Lock()
			c.counters.rejectedTooLong++
			c.counters.mu.Unlock()
		case run.RunIDInvalidChars:
			c.counters.mu.Lock()
			c.counters.rejectedInvalid++
			c.counters.mu.Unlock()
		}
		c.logger.Warn("custom run_id rejected, generating", "run_id", custom)
	}

	id := generateRunID(agentName)
	for c.registry.active(id) {
		c.counters.mu.Lock()
		c.counters.duplicatesDetected++
		c.counters.mu.Unlock()
		id = generateRunID(agentName)
	}
	c.counters.mu.Lock()
	c.counters.generated++
	c.counters.mu.Unlock()
	return id
}

// generateRunID builds a {YYYYMMDD}T{HHMMSS}Z-{agent}-{uuid8} id. The UTC
// timestamp prefix keeps generated ids sortable by start time.
func generateRunID(agentName string) string {
	if agentName == "" {
		agentName = "run"
	}
	return fmt.Sprintf("%s-%s-%s", time.Now().UTC().Format("20060102T150405Z"), agentName, uuid8())
}

func uuid8() string {
	return uuid.NewString()[:8]
}
