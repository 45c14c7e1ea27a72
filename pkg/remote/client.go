package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultAccept is sent on every request unless overridden.
const DefaultAccept = "application/vnd.github+json"

// Client performs the HTTP roundtrip for an Adapter. A non-2xx response
// must return an error matching ErrFetchFailed.
type Client interface {
	FetchJSON(ctx context.Context, url, token string) ([]byte, error)
	SendJSON(ctx context.Context, method, url, token string, body []byte) ([]byte, error)
}

// HTTPClient is the net/http Client implementation.
type HTTPClient struct {
	HTTP      *http.Client
	Accept    string
	UserAgent string
	Logger    *slog.Logger
	// MaxErrorBody bounds how much of a failed response is kept on the
	// StatusError.
	MaxErrorBody int64
}

// NewHTTPClient returns an HTTPClient with the given request timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		HTTP:         &http.Client{Timeout: timeout},
		Accept:       DefaultAccept,
		UserAgent:    "go-synced",
		MaxErrorBody: 4 << 10,
	}
}

func (c *HTTPClient) FetchJSON(ctx context.Context, url, token string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, token, nil)
}

func (c *HTTPClient) SendJSON(ctx context.Context, method, url, token string, body []byte) ([]byte, error) {
	return c.do(ctx, method, url, token, body)
}

func (c *HTTPClient) do(ctx context.Context, method, url, token string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrFetchFailed, method, url, err)
	}
	accept := c.Accept
	if accept == "" {
		accept = DefaultAccept
	}
	req.Header.Set("Accept", accept)
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrFetchFailed, method, url, err)
	}
	defer resp.Body.Close()

	if c.Logger != nil {
		c.Logger.Debug("remote request", "method", method, "url", url, "status", resp.StatusCode, "took", time.Since(started))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit := c.MaxErrorBody
		if limit <= 0 {
			limit = 4 << 10
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
		return nil, &StatusError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(snippet)),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrFetchFailed, url, err)
	}
	return data, nil
}
