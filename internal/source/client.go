package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const userAgent = "guidepost/1.0 (+https://github.com/abelbrown/guidepost)"

// maxBody caps response reads.
const maxBody = 2 << 20

// Client is the HTTP client adapters fetch through. It paces outbound
// requests with a token limiter (polite spacing under the hard per-source
// window enforced upstream) and retries one transient failure with a short
// fixed backoff, per the adapter contract.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewClient creates a Client. minInterval spaces consecutive requests;
// zero disables pacing.
func NewClient(timeout, minInterval time.Duration) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		backoff: 500 * time.Millisecond,
	}
}

// Get fetches url and returns the response body. Exactly one retry on a
// transport error or retryable status (429/5xx); persistent failures come
// back as a typed error.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, Classify(ctx.Err())
			case <-time.After(c.backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, Classify(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Classify(ctx.Err())
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}

		// Non-retryable status
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
