package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ModelFetcher copies a remote model artifact into dst.
type ModelFetcher interface {
	Fetch(ctx context.Context, source string, dst io.Writer) error
}

// HTTPModelFetcher downloads artifacts over HTTP(S) with retry.
type HTTPModelFetcher struct {
	client  *http.Client
	backoff func(attempt int) time.Duration
}

// NewHTTPModelFetcher creates a fetcher with a linear backoff of one
// second per attempt.
func NewHTTPModelFetcher(timeout time.Duration) *HTTPModelFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	transport := &http.Transport{
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPModelFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
}

// WithBackoff replaces the retry delay function.
func (h *HTTPModelFetcher) WithBackoff(backoff func(attempt int) time.Duration) *HTTPModelFetcher {
	h.backoff = backoff
	return h
}

// Fetch makes up to 3 attempts. Network errors and 5xx are retried, 4xx
// is not. Nothing is written to dst until a 200 arrives.
func (h *HTTPModelFetcher) Fetch(ctx context.Context, modelURL string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream, application/json, */*")
	req.Header.Set("User-Agent", "MRI-GradCAM/1.0")

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		resp, err = h.client.Do(req)
		if err != nil {
			lastErr = err
			resp = nil
		} else if resp.StatusCode == http.StatusOK {
			break
		} else {
			resp.Body.Close()
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				lastErr = fmt.Errorf("client error: status code %d", resp.StatusCode)
				resp = nil
				break
			}
			lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
			resp = nil
		}

		if attempt < 2 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("model download cancelled: %w", ctx.Err())
			case <-time.After(h.backoff(attempt)):
			}
		}
	}

	if resp == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("unknown error")
		}
		return fmt.Errorf("failed to fetch model after 3 attempts: %w", lastErr)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to read model body: %w", err)
	}
	return nil
}
