package executors

import (
	"context"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
)

// TransientClassifier reports whether an error Result produced by an
// attempt should be retried. Each kind that supports retries supplies
// its own classifier (e.g. smtpcheck retries only on 4xx SMTP replies,
// never on 5xx).
type TransientClassifier func(result *nyxmon.Result) bool

// WithRetry wraps inner so that on a transient error result (as judged
// by isTransient) it is retried up to attempts total tries, with delay
// between attempts. attempts <= 1 disables retrying: inner runs exactly
// once. The returned Result always carries the final attempt's outcome,
// with Payload["attempts"] set to the number of tries actually made.
//
// This mirrors the teacher package's Interceptor chaining: a retry
// policy wraps a base Executor the same way an Interceptor wraps an
// InterceptorFunc, without the base Executor needing to know retries
// are happening.
func WithRetry(inner Executor, attempts int, delay time.Duration, isTransient TransientClassifier) Executor {
	if attempts < 1 {
		attempts = 1
	}
	return ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		var (
			result *nyxmon.Result
			err    error
			made   int
		)
		for attempt := 1; attempt <= attempts; attempt++ {
			made = attempt
			result, err = inner.Execute(ctx, check)
			if err != nil {
				return result, err
			}
			if result.Status == nyxmon.ResultOK || !isTransient(result) || attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				stampAttempts(result, made)
				return result, nil
			case <-time.After(delay):
			}
		}
		stampAttempts(result, made)
		return result, err
	})
}

func stampAttempts(result *nyxmon.Result, made int) {
	if result == nil {
		return
	}
	if result.Payload == nil {
		result.Payload = map[string]any{}
	}
	result.Payload["attempts"] = made
}
