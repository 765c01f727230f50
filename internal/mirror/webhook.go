package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/run"
)

// WebhookSink posts finished runs to an opaque HTTP endpoint (e.g. a
// spreadsheet bridge). The endpoint's response body is ignored; only the
// status class matters.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with a bounded request timeout.
func NewWebhookSink(url, token string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Post sends the record as JSON. Non-2xx responses and transport failures
// are classified as retryable network errors.
func (s *WebhookSink) Post(ctx context.Context, rec *run.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mirror payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return derrors.NetworkError("mirror webhook unreachable").WithCause(err).Build()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return derrors.NetworkError(fmt.Sprintf("mirror webhook returned %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode).Build()
	}
	return nil
}

func (s *WebhookSink) Close() error { return nil }
