package jsonhttp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors/jsonhttp"
)

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestExecute_CriticalFailure(t *testing.T) {
	srv := jsonServer(t, `{"queue_depth": 500}`)
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"threshold_rules": []any{
				map[string]any{"path": "$.queue_depth", "op": "<", "value": 100.0, "severity": "critical"},
			},
		},
	}

	result, err := jsonhttp.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "threshold_failed", result.Payload["error_type"])
}

func TestExecute_WarningOnlyDefaultsToOK(t *testing.T) {
	srv := jsonServer(t, `{"queue_depth": 150}`)
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"threshold_rules": []any{
				map[string]any{"path": "$.queue_depth", "op": "<", "value": 100.0, "severity": "warning"},
			},
		},
	}

	result, err := jsonhttp.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultOK, result.Status)
	assert.Equal(t, "warning", result.Payload["severity"])
}

func TestExecute_WarningAffectsStatusWhenOptedIn(t *testing.T) {
	srv := jsonServer(t, `{"queue_depth": 150}`)
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"warnings_affect_status": true,
			"threshold_rules": []any{
				map[string]any{"path": "$.queue_depth", "op": "<", "value": 100.0, "severity": "warning"},
			},
		},
	}

	result, err := jsonhttp.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
}

func TestExecute_EmptyRulesIsConfigurationError(t *testing.T) {
	srv := jsonServer(t, `{}`)
	defer srv.Close()

	check := &nyxmon.Check{ID: "c1", Target: srv.URL, Data: map[string]any{}}
	result, err := jsonhttp.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "configuration_error", result.Payload["error_type"])
}

func TestExecute_InvalidJSON(t *testing.T) {
	srv := jsonServer(t, `not json`)
	defer srv.Close()

	check := &nyxmon.Check{
		ID:     "c1",
		Target: srv.URL,
		Data: map[string]any{
			"threshold_rules": []any{
				map[string]any{"path": "$", "op": "==", "value": 1.0, "severity": "critical"},
			},
		},
	}
	result, err := jsonhttp.New(nil).Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "invalid_json", result.Payload["error_type"])
}
