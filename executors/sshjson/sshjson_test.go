package sshjson_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors/sshjson"
)

func TestExecute_MissingCommandIsConfigurationError(t *testing.T) {
	check := &nyxmon.Check{ID: "c1", Target: "host.invalid", Data: map[string]any{}}
	result, err := sshjson.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "configuration_error", result.Payload["error_type"])
}

func TestExecute_MissingThresholdRulesIsConfigurationError(t *testing.T) {
	check := &nyxmon.Check{
		ID:     "c1",
		Target: "host.invalid",
		Data:   map[string]any{"command": "echo '{}'"},
	}
	result, err := sshjson.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "configuration_error", result.Payload["error_type"])
}

func TestExecute_EmptyThresholdRulesIsConfigurationError(t *testing.T) {
	check := &nyxmon.Check{
		ID:     "c1",
		Target: "host.invalid",
		Data: map[string]any{
			"command":         "echo '{}'",
			"threshold_rules": []any{},
		},
	}
	result, err := sshjson.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "configuration_error", result.Payload["error_type"])
}

func TestExecute_SSHBinaryMissingOrUnreachableIsSSHError(t *testing.T) {
	if _, err := exec.LookPath("ssh"); err != nil {
		t.Skip("ssh binary not available in this environment")
	}

	check := &nyxmon.Check{
		ID:     "c1",
		Target: "203.0.113.1", // reserved, unreachable
		Data: map[string]any{
			"command":                 "echo '{}'",
			"connect_timeout_seconds": float64(1),
			"threshold_rules": []any{
				map[string]any{"path": "$.v", "op": "<", "value": 1.0, "severity": "critical"},
			},
		},
	}
	result, err := sshjson.New().Execute(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, nyxmon.ResultError, result.Status)
	assert.Equal(t, "ssh_error", result.Payload["error_type"])
}
