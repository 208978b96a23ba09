package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rickgao/exaroton/internal/version"
)

// ErrMissingServerID is returned when an operation is called without a server id.
var ErrMissingServerID = errors.New("server id is required")

// APIError represents an error from the exaroton API: either a non-2xx
// response or an envelope with success=false.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exaroton api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// envelope wraps every JSON response.
type envelope struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// body is an outgoing request body.
type body struct {
	data        []byte
	contentType string
}

func jsonBody(v any) (*body, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return &body{data: data, contentType: "application/json"}, nil
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, b *body) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if b != nil && b.data != nil {
		reader = bytes.NewReader(b.data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if b != nil && b.contentType != "" {
		req.Header.Set("Content-Type", b.contentType)
	}
	if c.creds != nil {
		c.creds.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Error != nil && *env.Error != "" {
			msg = *env.Error
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       data,
		}
	}

	return data, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, b *body) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			wait := backoff
			if backoff > 0 {
				wait = backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", wait,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			backoff *= 2
		}

		data, err := c.doRequest(ctx, method, path, query, b)
		if err == nil {
			return data, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs a request and decodes the envelope's data into result.
// result may be nil when the data is not needed.
func (c *Client) call(ctx context.Context, method, path string, b *body, result any) error {
	data, err := c.doWithRetry(ctx, method, path, nil, b)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !env.Success {
		msg := "request failed"
		if env.Error != nil && *env.Error != "" {
			msg = *env.Error
		}
		return &APIError{StatusCode: http.StatusOK, Message: msg, Body: data}
	}

	if result == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.call(ctx, http.MethodGet, path, nil, result)
}

// send performs a request with a JSON body.
func (c *Client) send(ctx context.Context, method, path string, payload, result any) error {
	b, err := jsonBody(payload)
	if err != nil {
		return err
	}
	return c.call(ctx, method, path, b, result)
}

// serverPath builds /servers/{id}{suffix}.
func serverPath(serverID, suffix string) (string, error) {
	if serverID == "" {
		return "", ErrMissingServerID
	}
	return "/servers/" + url.PathEscape(serverID) + suffix, nil
}

// escapePath escapes each segment of a slash separated file path.
func escapePath(p string) string {
	segments := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
