// Package jobclient talks to the remote job system over HTTP. It supplies
// the Submit and GetStatus collaborators the orchestrator drives.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskhub/internal/orchestrator"
	"taskhub/internal/retry"
)

const defaultTimeout = 30 * time.Second

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Type   string          `json:"type"`
	Label  string          `json:"label,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SubmitResponse is returned by POST /v1/jobs.
type SubmitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /v1/jobs/:id/status.
type StatusResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	orchestrator.StatusResponse
}

// Client is an HTTP client for the job API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the job API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("job API base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid job API base URL: %w", err)
	}

	c := &Client{
		baseURL: base,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit starts a job and returns the id the job system assigned to it.
func (c *Client) Submit(ctx context.Context, jobType, label string, params any) (string, error) {
	req := SubmitRequest{Type: jobType, Label: label}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode job params: %w", err)
		}
		req.Params = raw
	}

	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return "", err
	}

	c.logDebug(ctx, "job_submitted", "job_id", resp.JobID, "type", jobType)
	return resp.JobID, nil
}

// SubmitFunc binds a submission for use with the orchestrator.
func (c *Client) SubmitFunc(jobType, label string, params any) orchestrator.SubmitFunc {
	return func(ctx context.Context) (string, error) {
		return c.Submit(ctx, jobType, label, params)
	}
}

// GetStatus reads the status of a job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*orchestrator.StatusResponse, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	st := resp.StatusResponse
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) logDebug(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.DebugContext(ctx, msg, args...)
	}
}

// Resilient decorates a StatusFetcher so that every status read goes through
// retry.Do with policy.
func Resilient(inner orchestrator.StatusFetcher, policy retry.Policy) orchestrator.StatusFetcher {
	if policy.Name == "" {
		policy.Name = "job_status"
	}
	return orchestrator.StatusFetcherFunc(func(ctx context.Context, jobID string) (*orchestrator.StatusResponse, error) {
		return retry.Do(ctx, policy, func(ctx context.Context) (*orchestrator.StatusResponse, error) {
			return inner.GetStatus(ctx, jobID)
		})
	})
}
