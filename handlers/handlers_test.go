package handlers_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/bus"
	"github.com/nyxmon-go/agent/executors"
	"github.com/nyxmon-go/agent/handlers"
	"github.com/nyxmon-go/agent/iobridge"
	"github.com/nyxmon-go/agent/runner"
	"github.com/nyxmon-go/agent/store/memory"
)

func setup(t *testing.T, execute func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error)) (*memory.Store, *bus.Bus) {
	t.Helper()
	st := memory.New()
	b := bus.New(zap.NewNop())
	reg := executors.NewRegistry()
	reg.Register(nyxmon.KindHTTP, func(res *executors.Resources) executors.Executor {
		return executors.ExecutorFunc(execute)
	})
	r := runner.New(reg, 4, zap.NewNop())
	handlers.New(st, r, b)
	return st, b
}

func TestExecuteChecks_PersistsResultAndAdvancesSchedule(t *testing.T) {
	st, b := setup(t, func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error) {
		return executors.OKResult(c.ID, nil), nil
	})
	ctx := context.Background()

	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c1", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))
	due, err := st.ListDue(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	err = b.Dispatch(ctx, handlers.ExecuteChecks{Batch: due})
	require.NoError(t, err)

	results, err := st.RecentResults(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, nyxmon.ResultOK, results[0].Status)

	c, err := st.GetCheck(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, nyxmon.CheckIdle, c.Status)
	assert.Greater(t, c.NextCheckTime, int64(0))
}

func TestExecuteChecks_EmitsCheckFailedOnTransition(t *testing.T) {
	st, b := setup(t, func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error) {
		return executors.ErrorResult(c.ID, "http_status", "bad", nil), nil
	})
	ctx := context.Background()

	var gotFailed bool
	b.Listen("check_failed", func(ctx context.Context, e bus.Event) error {
		gotFailed = true
		return nil
	})

	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c1", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))
	due, err := st.ListDue(ctx, 0, 10)
	require.NoError(t, err)

	require.NoError(t, b.Dispatch(ctx, handlers.ExecuteChecks{Batch: due}))
	assert.True(t, gotFailed)
}

func TestExecuteChecks_NoEventOnRepeatedPass(t *testing.T) {
	st, b := setup(t, func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error) {
		return executors.OKResult(c.ID, nil), nil
	})
	ctx := context.Background()

	failedCount := 0
	b.Listen("check_failed", func(ctx context.Context, e bus.Event) error {
		failedCount++
		return nil
	})

	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c1", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))

	for i := 0; i < 3; i++ {
		due, err := st.ListDue(ctx, 0, 10)
		require.NoError(t, err)
		if len(due) == 0 {
			require.NoError(t, st.UpdateCheckAfterExecution(ctx, "c1", nyxmon.CheckIdle, 0))
			due, err = st.ListDue(ctx, 0, 10)
			require.NoError(t, err)
		}
		require.NoError(t, b.Dispatch(ctx, handlers.ExecuteChecks{Batch: due}))
	}

	assert.Equal(t, 0, failedCount)
}

// TestExecuteChecks_ConcurrentBatchesSameServiceNoRace dispatches two
// batches for checks in the same service from separate goroutines, the
// way the scheduler's per-tick "go b.Dispatch(...)" can overlap. Run
// with -race, this guards against concurrent access to
// lastServiceStatus.
func TestExecuteChecks_ConcurrentBatchesSameServiceNoRace(t *testing.T) {
	st, b := setup(t, func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error) {
		return executors.OKResult(c.ID, nil), nil
	})
	ctx := context.Background()

	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c1", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))
	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c2", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))

	c1, err := st.GetCheck(ctx, "c1")
	require.NoError(t, err)
	c2, err := st.GetCheck(ctx, "c2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, c := range []*nyxmon.Check{c1, c2} {
			wg.Add(1)
			go func(c *nyxmon.Check) {
				defer wg.Done()
				_ = b.Dispatch(ctx, handlers.ExecuteChecks{Batch: []*nyxmon.Check{c}})
			}(c)
		}
	}
	wg.Wait()
}

func TestExecuteChecks_WithBridgeStillPersists(t *testing.T) {
	st := memory.New()
	b := bus.New(zap.NewNop())
	reg := executors.NewRegistry()
	reg.Register(nyxmon.KindHTTP, func(res *executors.Resources) executors.Executor {
		return executors.ExecutorFunc(func(ctx context.Context, c *nyxmon.Check) (*nyxmon.Result, error) {
			return executors.OKResult(c.ID, nil), nil
		})
	})
	r := runner.New(reg, 4, zap.NewNop())
	handlers.New(st, r, b, handlers.WithBridge(iobridge.New(4)))

	ctx := context.Background()
	require.NoError(t, st.UpsertCheck(ctx, &nyxmon.Check{
		ID: "c1", ServiceID: "svc-1", Kind: nyxmon.KindHTTP, IntervalSeconds: 60, Status: nyxmon.CheckIdle,
	}))
	due, err := st.ListDue(ctx, 0, 10)
	require.NoError(t, err)

	require.NoError(t, b.Dispatch(ctx, handlers.ExecuteChecks{Batch: due}))

	results, err := st.RecentResults(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
