// Package httpcheck implements the "http" executor kind: a plain GET
// request against check.Target, reported ok unless the response status
// falls in the 4xx or 5xx range.
package httpcheck

import (
	"context"
	"net/http"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

const defaultTimeout = 10 * time.Second

// New returns an Executor for nyxmon.KindHTTP. It issues requests
// through res's shared, batch-scoped *http.Client so every http/
// json-http check in the batch reuses the same connection pool rather
// than each dialing independently; a nil res (e.g. a bare unit test)
// falls back to http.DefaultClient.
func New(res *executors.Resources) executors.Executor {
	client := http.DefaultClient
	if res != nil && res.HTTPClient != nil {
		client = res.HTTPClient
	}
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Target, nil)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		start := time.Now()
		resp, err := client.Do(req)
		latency := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return executors.ErrorResult(check.ID, "timeout", err.Error(), nil), nil
			}
			return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return executors.ErrorResult(check.ID, "http_status", "unexpected status code", map[string]any{
				"status_code": resp.StatusCode,
				"latency_ms":  latency.Milliseconds(),
			}), nil
		}

		return executors.OKResult(check.ID, map[string]any{
			"status_code": resp.StatusCode,
			"latency_ms":  latency.Milliseconds(),
		}), nil
	})
}
