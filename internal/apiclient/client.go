// Package apiclient is the JSON-over-HTTP transport shared by the judge and
// assessment backend clients.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks transport-level failures: the remote could not be
// reached or the request timed out before a response arrived.
var ErrUnavailable = errors.New("remote service unavailable")

// HTTPError is a response with a status code of 400 or above.
type HTTPError struct {
	StatusCode int
	// Message is the "message" or "error" field of a JSON error payload, if any.
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Client wraps JSON requests against a single base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// WithHTTPClient swaps the underlying client, e.g. for TLS settings.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// Do sends in (if non-nil) as JSON and decodes a 2xx body into out (if
// non-nil). A zero timeout uses the client default.
func (c *Client) Do(ctx context.Context, method, path string, timeout time.Duration, in, out interface{}) (ResponseInfo, error) {
	var info ResponseInfo
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return info, fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}
	info.Body = body

	if resp.StatusCode >= http.StatusBadRequest {
		return info, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Body:       body,
		}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return info, fmt.Errorf("decode response failed: %w", err)
		}
	}
	return info, nil
}

// errorMessage pulls a human-readable message out of a JSON error payload.
// Both {"message": "..."} and {"error": "..."} shapes are recognized; nested
// {"message": {"message": "..."}} is unwrapped one level.
func errorMessage(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "detail"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}:
			if inner, ok := v["message"].(string); ok && inner != "" {
				return inner
			}
		}
	}
	return ""
}
