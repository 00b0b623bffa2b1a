package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
)

// maxBody bounds how much of a response an adapter will read.
const maxBody = 4 << 20

var errRetryableStatus = errors.New("retryable status")

// Get fetches url and returns the body. Server errors and transport failures
// are retried once; every failure comes back as a *domain.AdapterError.
func Get(ctx context.Context, c *http.Client, src domain.Source, url string, hdr http.Header) ([]byte, error) {
	result := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 2,
		InitialWait: 250 * time.Millisecond,
		RetryIf: func(err error) bool {
			var ae *domain.AdapterError
			if errors.As(err, &ae) {
				return ae.Kind == domain.AdapterNetwork || errors.Is(err, errRetryableStatus)
			}
			return false
		},
	}, func(ctx context.Context) fn.Result[[]byte] {
		return fn.FromPair(get(ctx, c, src, url, hdr))
	})
	body, err := result.Unwrap()
	if err != nil {
		return nil, Classify(src, err)
	}
	return body, nil
}

func get(ctx context.Context, c *http.Client, src domain.Source, url string, hdr http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewAdapterError(src, domain.AdapterNetwork, err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewAdapterError(src, domain.AdapterTimeout, ctx.Err())
		}
		return nil, domain.NewAdapterError(src, domain.AdapterNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewAdapterError(src, domain.AdapterRateLimit, fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host))
	case resp.StatusCode >= 500:
		return nil, domain.NewAdapterError(src, domain.AdapterStatus, fmt.Errorf("%w: %d from %s", errRetryableStatus, resp.StatusCode, req.URL.Host))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewAdapterError(src, domain.AdapterStatus, fmt.Errorf("status %d from %s", resp.StatusCode, req.URL.Host))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, domain.NewAdapterError(src, domain.AdapterNetwork, err)
	}
	return body, nil
}
