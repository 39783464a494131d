package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// transport is the shared retry-capable HTTP layer for classifier calls. 429
// and 503 responses and transport-level failures (timeouts included) are
// retried with exponential backoff up to the attempt ceiling; any other
// non-success status fails immediately with the body attached.
type transport struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
}

func newTransport(timeout time.Duration, maxRetries int, limiter *rate.Limiter) *transport {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &transport{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  2 * time.Second,
		limiter:    limiter,
	}
}

// postJSON posts the payload and returns the response body.
func (t *transport) postJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create request failed: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		res, err := t.client.Do(req)
		if err != nil {
			// timeouts and transport errors count as retryable
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body failed: %w", err)
			continue
		}

		switch {
		case res.StatusCode == http.StatusOK:
			return body, nil
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable:
			lastErr = fmt.Errorf("retryable status %d: %s", res.StatusCode, string(body))
		default:
			return nil, fmt.Errorf("classifier api error (status %d): %s", res.StatusCode, string(body))
		}
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}
