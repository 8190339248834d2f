package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCheck(t *testing.T, s *sqlite.Store, id string, nextCheckTime int64) {
	t.Helper()
	err := s.UpsertCheck(context.Background(), &nyxmon.Check{
		ID:              id,
		ServiceID:       "svc-1",
		Name:            "check " + id,
		Kind:            nyxmon.KindHTTP,
		Target:          "https://example.invalid",
		IntervalSeconds: 60,
		Status:          nyxmon.CheckIdle,
		NextCheckTime:   nextCheckTime,
	})
	require.NoError(t, err)
}

func TestListDue_SelectsOnlyDueChecksAndTransitionsStatus(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "due-1", 100)
	seedCheck(t, s, "not-due", 999999)

	due, err := s.ListDue(context.Background(), 100, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due-1", due[0].ID)

	c, err := s.GetCheck(context.Background(), "due-1")
	require.NoError(t, err)
	assert.Equal(t, nyxmon.CheckProcessing, c.Status)

	again, err := s.ListDue(context.Background(), 100, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestUpdateCheckAfterExecution(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "c1", 0)
	_, err := s.ListDue(context.Background(), 0, 10)
	require.NoError(t, err)

	require.NoError(t, s.UpdateCheckAfterExecution(context.Background(), "c1", nyxmon.CheckIdle, 90))

	c, err := s.GetCheck(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, nyxmon.CheckIdle, c.Status)
	assert.Equal(t, int64(90), c.NextCheckTime)
}

func TestAddResultAndRecentResults(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "c1", 0)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AddResult(ctx, &nyxmon.Result{
			CheckID:   "c1",
			Status:    nyxmon.ResultOK,
			Payload:   map[string]any{"n": i},
			CreatedAt: i,
		}))
	}

	results, err := s.RecentResults(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(3), results[0].CreatedAt)
	assert.Equal(t, int64(2), results[1].CreatedAt)
}

func TestDeleteResultsOlderThan_NeverDeletesLastResult(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "c1", 0)
	ctx := context.Background()

	require.NoError(t, s.AddResult(ctx, &nyxmon.Result{CheckID: "c1", Status: nyxmon.ResultOK, CreatedAt: 1}))

	deleted, err := s.DeleteResultsOlderThan(ctx, 1000, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	results, err := s.RecentResults(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDeleteResultsOlderThan_KeepsNewestPerCheck(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "c1", 0)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AddResult(ctx, &nyxmon.Result{CheckID: "c1", Status: nyxmon.ResultOK, CreatedAt: i}))
	}

	deleted, err := s.DeleteResultsOlderThan(ctx, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	results, err := s.RecentResults(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(3), results[0].CreatedAt)
}

func TestReconcile(t *testing.T) {
	s := openTestStore(t)
	seedCheck(t, s, "c1", 0)
	_, err := s.ListDue(context.Background(), 0, 10)
	require.NoError(t, err)

	n, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := s.GetCheck(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, nyxmon.CheckIdle, c.Status)
}

func TestUpsertAndGetService(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertService(ctx, &nyxmon.Service{ServiceID: "svc-1", Name: "Edge"}))

	svc, err := s.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "Edge", svc.Name)
}
