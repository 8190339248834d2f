// Package sshjson implements the "custom-ssh-json" executor kind. It
// shells out to the real `ssh` binary using OpenSSH's own CLI flags
// (-o BatchMode=yes -o ConnectTimeout=5) rather than driving an
// in-process SSH client library: the spec requires exercising the
// operator's own ssh_config, known_hosts and agent setup exactly as
// OpenSSH itself would resolve them, which an in-process client like
// golang.org/x/crypto/ssh does not parse.
package sshjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
	"github.com/nyxmon-go/agent/internal/threshold"
)

const defaultConnectTimeoutSeconds = 5

// New returns an Executor for nyxmon.KindCustomSSHJSON.
func New() executors.Executor {
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		cfg, err := parseConfig(check.Data)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.connectTimeout+10)*time.Second)
		defer cancel()

		args := []string{
			"-o", "BatchMode=yes",
			"-o", fmt.Sprintf("ConnectTimeout=%d", cfg.connectTimeout),
			"-o", "StrictHostKeyChecking=accept-new",
		}
		if cfg.identityFile != "" {
			args = append(args, "-i", cfg.identityFile)
		}
		if cfg.port != 0 {
			args = append(args, "-p", strconv.Itoa(cfg.port))
		}
		args = append(args, check.Target, cfg.command)

		cmd := exec.CommandContext(ctx, "ssh", args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err = cmd.Run()
		if ctx.Err() != nil {
			return executors.ErrorResult(check.ID, "timeout", "ssh command did not complete before the deadline", nil), nil
		}
		if err != nil {
			return executors.ErrorResult(check.ID, "ssh_error", stderr.String(), map[string]any{
				"exit_error": err.Error(),
			}), nil
		}

		var doc any
		if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
			return executors.ErrorResult(check.ID, "invalid_json", err.Error(), map[string]any{
				"stdout": stdout.String(),
			}), nil
		}

		critical, warnings, err := threshold.Evaluate(doc, cfg.rules)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}
		if len(critical) > 0 {
			return executors.ErrorResult(check.ID, "threshold_failed", "one or more critical rules failed",
				map[string]any{"failures": failurePayload(critical)}), nil
		}
		if len(warnings) > 0 {
			return executors.OKResult(check.ID, map[string]any{
				"severity": "warning",
				"failures": failurePayload(warnings),
			}), nil
		}
		return executors.OKResult(check.ID, nil), nil
	})
}

type config struct {
	command        string
	identityFile   string
	port           int
	connectTimeout int
	rules          []threshold.Rule
}

func parseConfig(data map[string]any) (config, error) {
	cfg := config{connectTimeout: defaultConnectTimeoutSeconds}

	cfg.command, _ = data["command"].(string)
	if cfg.command == "" {
		return cfg, fmt.Errorf("custom-ssh-json check requires a command")
	}
	cfg.identityFile, _ = data["identity_file"].(string)
	if v, ok := data["port"].(float64); ok {
		cfg.port = int(v)
	}
	if v, ok := data["connect_timeout_seconds"].(float64); ok && v > 0 {
		cfg.connectTimeout = int(v)
	}

	raw, ok := data["threshold_rules"].([]any)
	if !ok || len(raw) == 0 {
		return cfg, fmt.Errorf("no threshold_rules configured")
	}
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return cfg, fmt.Errorf("threshold_rules entries must be objects")
		}
		path, _ := m["path"].(string)
		op, _ := m["op"].(string)
		severity, _ := m["severity"].(string)
		value, _ := m["value"].(float64)
		if path == "" || op == "" {
			return cfg, fmt.Errorf("threshold rule missing path or op")
		}
		cfg.rules = append(cfg.rules, threshold.Rule{
			Path: path, Op: threshold.Op(op), Value: value, Severity: threshold.Severity(severity),
		})
	}
	return cfg, nil
}

func failurePayload(failures []threshold.Failure) []map[string]any {
	out := make([]map[string]any, 0, len(failures))
	for _, f := range failures {
		out = append(out, map[string]any{
			"path":     f.Rule.Path,
			"op":       string(f.Rule.Op),
			"value":    f.Rule.Value,
			"observed": f.Observed,
			"severity": string(f.Rule.Severity),
		})
	}
	return out
}
