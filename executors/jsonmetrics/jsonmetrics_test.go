package jsonmetrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors/jsonmetrics"
)

func TestExecute_CriticalFailureEvenOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error_rate": 0.9}`))
	}))
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"threshold_rules": []any{
				map[string]any{"path": "$.error_rate", "op": "<", "value": 0.5, "severity": "critical"},
			},
		},
	}
	result, err := jsonmetrics.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "threshold_failed", result.Payload["error_type"])
}

func TestExecute_PassingMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error_rate": 0.01}`))
	}))
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"threshold_rules": []any{
				map[string]any{"path": "$.error_rate", "op": "<", "value": 0.5, "severity": "critical"},
			},
		},
	}
	result, err := jsonmetrics.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultOK, result.Status)
}
