// Package mirror implements the fire-and-forget external sink for finished
// runs. A sink receives the full record on end_run only; failures are logged
// and reflected in the stored record's api_* fields, never raised to the
// agent.
package mirror

import (
	"context"

	"git.home.luguber.info/inful/runledger/internal/config"
	"git.home.luguber.info/inful/runledger/internal/run"
)

// Sink posts one finished run to an external destination.
type Sink interface {
	// Post delivers the record. A nil error means the sink accepted it.
	Post(ctx context.Context, rec *run.Record) error
	// Name identifies the sink in logs.
	Name() string
	// Close releases any held connections.
	Close() error
}

// FromConfig builds the configured sink, or nil when mirroring is disabled.
// A NATS URL takes precedence over a webhook URL.
func FromConfig(cfg config.MirrorConfig) (Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.NATSURL != "" {
		return NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
	}
	if cfg.URL != "" {
		return NewWebhookSink(cfg.URL, cfg.Token), nil
	}
	return nil, nil
}
