// Package api is a small JSON-over-HTTP client for outbound service calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scheduled-trader/internal/logger"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHeader sets a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithBearer sets the Authorization header. An empty token is ignored.
func WithBearer(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// StatusError is returned for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Do sends body (JSON encoded when non-nil) and returns the buffered response.
func (c *Client) Do(ctx context.Context, method, url string, body any) (*Response, error) {
	url = c.baseURL + url

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Debug(ctx, "HTTP Response",
		"method", method,
		"url", url,
		"status", httpResp.StatusCode,
		"duration_ms", time.Since(startTime).Milliseconds(),
		"body_size", len(respBody),
	)

	if httpResp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
	}, nil
}

func (c *Client) GET(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

func (c *Client) POST(ctx context.Context, url string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body)
}

// ParseJSON decodes the response body into v.
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}
