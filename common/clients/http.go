package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/minutes/common/apperrors"
)

const maxResponseBytes = 16 << 20

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPClient wraps http.Client with context-aware helpers.
// It forwards the request id from context and turns non-2xx responses into
// upstream errors that keep the downstream status and body.
type HTTPClient struct {
	client *http.Client
	logger Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// NewTimeoutClient creates a wrapper around a fresh http.Client with the given timeout.
func NewTimeoutClient(timeout time.Duration, logger Logger) *HTTPClient {
	return NewHTTPClient(&http.Client{Timeout: timeout}, logger)
}

// DoRequest creates and executes an HTTP request, copying metadata from context into headers.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if requestID, ok := GetRequestID(ctx); ok {
		req.Header.Set("X-Request-ID", requestID)
		req.Header.Set("X-ClientTraceId", requestID)
	}

	return c.client.Do(req)
}

// DoJSON sends in as a JSON body (when non-nil) and decodes a 2xx response into out
// (when non-nil). The response headers are returned for callers that need Location.
func (c *HTTPClient) DoJSON(ctx context.Context, service, method, url string, headers http.Header, in, out any) (http.Header, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", service, err)
		}
		body = bytes.NewReader(payload)
		if headers == nil {
			headers = http.Header{}
		}
		headers.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.DoRequest(ctx, method, url, body, headers)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpstream, service, method, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.Header, apperrors.Wrap(apperrors.ErrUpstream, service, method, "read response", err)
	}

	c.logger.Debug("outbound request finished",
		"service", service,
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("outbound request rejected", "service", service, "status", resp.StatusCode)
		return resp.Header, apperrors.Upstream(service, resp.StatusCode, raw)
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, apperrors.Wrap(apperrors.ErrUpstream, service, method, "decode response", err)
		}
	}
	return resp.Header, nil
}
