// Package interceptors adapts the teacher package's Interceptor chaining
// pattern (Interceptor func(next InterceptorFunc) InterceptorFunc) to
// wrap executor invocations instead of health-check functions: each
// interceptor wraps an executors.Executor the same way the original
// wrapped a component's check function.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

// Interceptor wraps an Executor, in the same spirit as the teacher
// package's Interceptor func(next InterceptorFunc) InterceptorFunc.
type Interceptor func(next executors.Executor) executors.Executor

// Chain composes interceptors around target, outermost first, mirroring
// the teacher package's withInterceptors helper.
func Chain(interceptors []Interceptor, target executors.Executor) executors.Executor {
	chained := target
	for idx := len(interceptors) - 1; idx >= 0; idx-- {
		chained = interceptors[idx](chained)
	}
	return chained
}

// BasicLogger logs the outcome and latency of every executor call at
// debug level, and at warn level when the result is an error.
func BasicLogger(logger *zap.Logger) Interceptor {
	return func(next executors.Executor) executors.Executor {
		return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
			start := time.Now()
			result, err := next.Execute(ctx, check)
			elapsed := time.Since(start)

			fields := []zap.Field{
				zap.String("check_id", check.ID),
				zap.String("kind", string(check.Kind)),
				zap.Duration("elapsed", elapsed),
			}
			if err != nil {
				logger.Error("executor invocation failed", append(fields, zap.Error(err))...)
				return result, err
			}
			if result.Status == nyxmon.ResultError {
				errorType, _ := result.Payload["error_type"].(string)
				logger.Warn("check failed", append(fields, zap.String("error_type", errorType))...)
			} else {
				logger.Debug("check passed", fields...)
			}
			return result, err
		})
	}
}
