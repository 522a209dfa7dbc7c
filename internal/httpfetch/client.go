// Package httpfetch implements component C1: a single HTTP GET against one
// page URL, with bounded retry/backoff on transient failures, followed by
// content-sensing of the response body into rows (ParseBody). The body is
// read in full before it is decoded, and ParseBody returns the page's rows
// as a slice; rows are not streamed while the body is being read. The retry loop is
// lifted from the teacher's internal/datasource/httpds.Client and
// generalized with the full-jitter policy in internal/retry.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"apitap/internal/retry"
)

// Config configures a Client. Zero values fall back to the package
// defaults, matching the teacher's NewClient defaulting style.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	BaseHeaders  map[string]string
	Transport    http.RoundTripper
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 5
	defaultInitialDelay = 250 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// Client fetches single pages over HTTP with retry/backoff.
type Client struct {
	httpClient *http.Client
	policy     retry.Policy
	baseHeaders map[string]string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		policy: retry.Policy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
		},
		baseHeaders: cfg.BaseHeaders,
	}
}

// FetchError classifies whether the failure is retryable (HTTP transient:
// 429 or 5xx, or a network-level error) or fatal (4xx other than 429, or a
// request-construction failure), per the spec's error taxonomy.
type FetchError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("httpfetch: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("httpfetch: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Get performs a single GET against url, retrying on transient failures per
// the client's backoff policy, and returns the full response body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, http.Header, error) {
	var body []byte
	var respHeaders http.Header

	err := retry.Do(ctx, c.policy, func(err error) bool {
		fe, ok := err.(*FetchError)
		return ok && fe.Retryable
	}, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &FetchError{Retryable: false, Err: err}
		}
		for k, v := range c.baseHeaders {
			req.Header.Set(k, v)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &FetchError{Retryable: true, Err: err}
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{Retryable: true, Err: err}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &FetchError{
				StatusCode: resp.StatusCode,
				Retryable:  isRetryableStatus(resp.StatusCode),
				Err:        fmt.Errorf("unexpected status %s", resp.Status),
			}
		}

		body = b
		respHeaders = resp.Header
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, respHeaders, nil
}
