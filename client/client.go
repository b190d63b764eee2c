// Package client provides a typed Go SDK for the ContractDesk REST API
// surfaces the realtime channel depends on: authentication (the bearer
// token the channel connects with), liveness, and realtime statistics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// Client is the top-level ContractDesk API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries uint64

	Auth     *AuthService
	Realtime *RealtimeService
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token for authenticated requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries enables retrying transient failures (transport errors, 5xx,
// 429) up to n times with exponential backoff.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New creates a ContractDesk client for the given base URL
// (e.g. "https://api.contractdesk.io").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	c.Auth = &AuthService{c: c}
	c.Realtime = &RealtimeService{c: c}
	return c
}

// SetToken replaces the bearer token, e.g. after a login or refresh.
func (c *Client) SetToken(token string) { c.token = token }

// Health returns the liveness check response.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// retryBase is the initial backoff between request retries.
const retryBase = 250 * time.Millisecond

// do executes an HTTP request and decodes the JSON response, retrying
// transient failures when retries are enabled.
func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	if c.maxRetries == 0 {
		return c.doOnce(ctx, method, path, payload, result)
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, payload, result)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// doOnce executes a single HTTP round trip.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, result any) error {
	u := c.baseURL + path

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// isRetryable reports whether the request should be attempted again:
// transport errors, 5xx, and rate limits. Auth and validation errors are
// permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	// Transport-level failure.
	return true
}

// get is a convenience wrapper for GET requests with query parameters.
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// post is a convenience wrapper for POST requests.
func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}
