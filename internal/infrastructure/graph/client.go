// Package graph implements the HTTP client for the deployed graph database.
//
// The database exposes a plain HTTP API: schema documents are posted to
// /alter, record batches to /mutate, read queries to /query, and /health
// returns a JSON array of per-instance status objects.
package graph

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/graphport/graphport/internal/domain/target"
)

// InstanceStatus is one element of the health endpoint response.
type InstanceStatus struct {
	Instance string `json:"instance"`
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
}

// Healthy reports whether the instance is serving.
func (s InstanceStatus) Healthy() bool {
	return s.Status == "healthy"
}

// MutateResult is the write endpoint's status object.
type MutateResult struct {
	Written int      `json:"written"`
	Errors  []string `json:"errors"`
}

// Client talks to one database endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithAuthToken sets the access token sent on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given target.
func NewClient(t *target.Target, opts ...Option) *Client {
	transport := http.DefaultTransport
	if t.Insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	c := &Client{
		baseURL: t.BaseURL(),
		httpClient: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: transport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Alter applies a schema document. Schema application is idempotent on the
// server side, so a resumed job may re-apply it safely.
func (c *Client) Alter(ctx context.Context, schema []byte) error {
	resp, err := c.do(ctx, http.MethodPost, "/alter", "application/rdf", bytes.NewReader(schema))
	if err != nil {
		return fmt.Errorf("schema alter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, "schema alter")
	}
	return nil
}

// Mutate writes one batch of records and returns the server's status object.
func (c *Client) Mutate(ctx context.Context, records []json.RawMessage) (*MutateResult, error) {
	body, err := json.Marshal(map[string]any{"set": records})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/mutate?commitNow=true", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, &TransientError{Op: "mutate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "mutate")
	}

	var result MutateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode mutate response: %w", err)
	}
	if len(result.Errors) > 0 {
		return &result, fmt.Errorf("mutate reported %d error(s): %s", len(result.Errors), result.Errors[0])
	}
	return &result, nil
}

// Health fetches the per-instance status array.
func (c *Client) Health(ctx context.Context) ([]InstanceStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "health check")
	}

	var statuses []InstanceStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return statuses, nil
}

// countQuery counts every node in the database.
const countQuery = `{ total(func: has(dgraph.type)) { count(uid) } }`

// Count returns the total record count.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var out struct {
		Data struct {
			Total []struct {
				Count int64 `json:"count"`
			} `json:"total"`
		} `json:"data"`
	}
	if err := c.query(ctx, countQuery, &out); err != nil {
		return 0, err
	}
	if len(out.Data.Total) == 0 {
		return 0, nil
	}
	return out.Data.Total[0].Count, nil
}

// Sample returns up to n records with all their fields.
func (c *Client) Sample(ctx context.Context, n int) ([]map[string]any, error) {
	q := fmt.Sprintf(`{ sample(func: has(dgraph.type), first: %d) { uid expand(_all_) } }`, n)
	var out struct {
		Data struct {
			Sample []map[string]any `json:"sample"`
		} `json:"data"`
	}
	if err := c.query(ctx, q, &out); err != nil {
		return nil, err
	}
	return out.Data.Sample, nil
}

func (c *Client) query(ctx context.Context, q string, out any) error {
	resp, err := c.do(ctx, http.MethodPost, "/query", "application/dql", bytes.NewReader([]byte(q)))
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, "query")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}
	return c.httpClient.Do(req)
}

// statusError drains the body and classifies the failure by status code.
func (c *Client) statusError(resp *http.Response, op string) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{Op: op, Err: err}
	}
	return err
}

// TransientError marks a failure worth retrying: connection problems,
// timeouts, 429s and server-side 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
