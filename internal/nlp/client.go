// Package nlp provides resolver annotators backed by external language
// services.
package nlp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// sharedHTTPClient returns a pooled client for annotation requests.
func sharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// retryableError is a transient HTTP failure.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// retryPolicy bounds doWithRetry.
type retryPolicy struct {
	retries int
	base    time.Duration // backoff before attempt n is n*n*base plus jitter
}

// doWithRetry executes an HTTP request with quadratic backoff for network
// failures, 5xx and 429 responses.
func doWithRetry(ctx context.Context, client *http.Client, p retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * p.base
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			logger.Debug("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < p.retries && ctx.Err() == nil {
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < p.retries {
				continue
			}
			return nil, fmt.Errorf("server error after %d attempts: %w", attempt+1, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
