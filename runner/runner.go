// Package runner implements the concurrent check-execution engine: one
// goroutine per due check, fanned out via golang.org/x/sync/errgroup
// (grounded in the nova executor's parallel-prefetch idiom) and bounded
// by a golang.org/x/sync/semaphore weighted semaphore, feeding a single
// bounded internal queue that a lone consumer drains into the caller's
// sink. This collapses the spec's "internal bounded queue plus
// consumer" description onto Go channels directly, rather than
// emulating a separate queue data structure.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
)

// outcomeQueueSize is the internal bounded queue's buffer, per spec §4.C.
const outcomeQueueSize = 100

// Outcome pairs a Check with the Result its executor produced, so
// on_outcome sinks can advance the check's schedule without a second
// store lookup.
type Outcome struct {
	Check  *nyxmon.Check
	Result *nyxmon.Result
}

// OnOutcome is the synchronous sink invoked once per outcome. It runs
// on the consumer goroutine and may safely perform store I/O: the spec
// requires persist_one be synchronous with respect to the store, and
// routing every outcome through one consumer gives that for free
// without an explicit lock in the caller.
type OnOutcome func(ctx context.Context, outcome Outcome) error

// Runner dispatches a batch of due checks to their executors
// concurrently, bounded by a maximum in-flight count.
type Runner struct {
	registry    *executors.Registry
	maxInFlight int64
	logger      *zap.Logger
}

// New builds a Runner. maxInFlight bounds the number of checks executed
// concurrently within a single RunBatch call; it is independent of the
// scheduler's own batch-size cap (see the Open Question recorded in
// DESIGN.md).
func New(registry *executors.Registry, maxInFlight int64, logger *zap.Logger) *Runner {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Runner{registry: registry, maxInFlight: maxInFlight, logger: logger}
}

// RunBatch executes every check in batch concurrently and delivers each
// outcome to onOutcome exactly once. It returns only once every probe
// task has finished and the outcome queue has drained, or once an
// unexpected (non-domain) error from a probe task has cancelled the
// remaining siblings.
func (r *Runner) RunBatch(ctx context.Context, batch []*nyxmon.Check, onOutcome OnOutcome) error {
	if len(batch) == 0 {
		return nil
	}

	res := buildResources(batch)
	defer func() {
		if err := res.Close(); err != nil && r.logger != nil {
			r.logger.Error("runner: closing batch resources failed", zap.Error(err))
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(r.maxInFlight)
	outcomes := make(chan Outcome, outcomeQueueSize)

	consumerErrCh := make(chan error, 1)
	go func() {
		consumerErrCh <- r.consume(groupCtx, outcomes, onOutcome)
	}()

	for _, check := range batch {
		check := check
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return nil // context cancelled; not a probe failure
			}
			defer sem.Release(1)

			result, err := r.executeOne(groupCtx, check, res)
			if err != nil {
				return fmt.Errorf("runner: unexpected error executing check %s: %w", check.ID, err)
			}

			select {
			case outcomes <- Outcome{Check: check, Result: result}:
			case <-groupCtx.Done():
			}
			return nil
		})
	}

	groupErr := group.Wait()
	close(outcomes)
	consumerErr := <-consumerErrCh

	if groupErr != nil {
		return groupErr
	}
	return consumerErr
}

// buildResources pre-scans batch (spec §4.C step 1) and instantiates
// only the shared resources the batch's check kinds actually need.
func buildResources(batch []*nyxmon.Check) *executors.Resources {
	for _, check := range batch {
		if executors.RequiresHTTPClient(check.Kind) {
			return executors.NewResources()
		}
	}
	return nil
}

func (r *Runner) executeOne(ctx context.Context, check *nyxmon.Check, res *executors.Resources) (*nyxmon.Result, error) {
	executor, err := r.registry.Build(check.Kind, res)
	if err != nil {
		return executors.ErrorResult(check.ID, "unknown_kind", err.Error(), nil), nil
	}
	defer closeExecutor(executor)
	return executor.Execute(ctx, check)
}

func closeExecutor(executor executors.Executor) {
	if c, ok := executor.(executors.Closer); ok {
		_ = c.Close()
	}
}

func (r *Runner) consume(ctx context.Context, outcomes <-chan Outcome, onOutcome OnOutcome) error {
	for outcome := range outcomes {
		if err := onOutcome(ctx, outcome); err != nil {
			if r.logger != nil {
				r.logger.Error("on_outcome sink failed", zap.String("check_id", outcome.Check.ID), zap.Error(err))
			}
		}
	}
	return nil
}
