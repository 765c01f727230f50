package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/run"
)

const defaultSubject = "runledger.runs.finished"

// NATSSink publishes finished runs to a JetStream subject.
type NATSSink struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSSink connects to the NATS server and creates a JetStream context.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = defaultSubject
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("NATS mirror sink initialized",
		slog.String("url", url),
		slog.String("subject", subject))

	return &NATSSink{conn: conn, js: js, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Post publishes the record to the configured subject.
func (s *NATSSink) Post(ctx context.Context, rec *run.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mirror payload: %w", err)
	}
	if _, err := s.js.Publish(ctx, s.subject, data); err != nil {
		return derrors.NetworkError("publish to JetStream failed").WithCause(err).
			WithContext("subject", s.subject).Build()
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
