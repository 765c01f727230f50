package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/run"
)

// apiClient is the thin HTTP transport to the ingestion API. Transport
// failures, timeouts, and 5xx responses classify as retryable network errors
// (the pipeline's "API unavailable" signal); 4xx responses are terminal.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// postRun creates a run. A duplicate reply is success: the record already
// landed on a previous attempt.
func (a *apiClient) postRun(ctx context.Context, rec *run.Record) error {
	return a.send(ctx, http.MethodPost, "/api/v1/runs", rec,
		http.StatusCreated, http.StatusOK)
}

// patchRun applies final fields to an existing run.
func (a *apiClient) patchRun(ctx context.Context, eventID string, fields map[string]any) error {
	return a.send(ctx, http.MethodPatch, "/api/v1/runs/"+eventID, fields, http.StatusOK)
}

func (a *apiClient) send(ctx context.Context, method, path string, body any, okStatuses ...int) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s %s body: %w", method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return derrors.NetworkError("ingestion API unreachable").WithCause(err).
			WithContext("path", path).Build()
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	for _, ok := range okStatuses {
		if resp.StatusCode == ok {
			return nil
		}
	}
	if resp.StatusCode >= 500 {
		return derrors.NetworkError(fmt.Sprintf("ingestion API returned %d", resp.StatusCode)).
			WithContext("path", path).WithContext("body", string(detail)).Build()
	}
	if resp.StatusCode == http.StatusNotFound {
		return derrors.NotFound("run", path).Build()
	}
	return derrors.ValidationError(fmt.Sprintf("ingestion API rejected %s %s: %d %s", method, path, resp.StatusCode, string(detail))).Build()
}

// apiUnavailable reports whether an error is the pipeline's buffer-fallback
// signal: transport failure, timeout, or 5xx.
func apiUnavailable(err error) bool {
	return derrors.IsCategory(err, derrors.CategoryNetwork)
}
