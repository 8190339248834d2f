// Package jsonmetrics implements the "json-metrics" executor kind: GET
// a metrics endpoint returning JSON and evaluate it against threshold
// rules, identically to jsonhttp but without the http-status short
// circuit some metrics exporters intentionally omit (they may return
// 200 with a body describing their own failure state).
package jsonmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
	"github.com/nyxmon-go/agent/internal/threshold"
)

const defaultTimeout = 10 * time.Second

// New returns an Executor for nyxmon.KindJSONMetrics. It shares res's
// batch-scoped *http.Client with every http/json-http/json-metrics
// check in the batch; a nil res falls back to http.DefaultClient.
func New(res *executors.Resources) executors.Executor {
	client := http.DefaultClient
	if res != nil && res.HTTPClient != nil {
		client = res.HTTPClient
	}
	return executors.ExecutorFunc(func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
		rules, err := parseRules(check.Data)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Target, nil)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return executors.ErrorResult(check.ID, "timeout", err.Error(), nil), nil
			}
			return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
		}
		defer resp.Body.Close()

		var doc any
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return executors.ErrorResult(check.ID, "invalid_json", err.Error(), nil), nil
		}

		critical, warnings, err := threshold.Evaluate(doc, rules)
		if err != nil {
			return executors.ErrorResult(check.ID, "configuration_error", err.Error(), nil), nil
		}

		if len(critical) > 0 {
			return executors.ErrorResult(check.ID, "threshold_failed", "one or more critical rules failed",
				map[string]any{"failures": failurePayload(critical)}), nil
		}

		if len(warnings) > 0 {
			payload := map[string]any{"severity": "warning", "failures": failurePayload(warnings)}
			if warningsAffectStatus(check.Data) {
				return executors.ErrorResult(check.ID, "threshold_warning", "one or more warning rules failed", payload), nil
			}
			return executors.OKResult(check.ID, payload), nil
		}

		return executors.OKResult(check.ID, nil), nil
	})
}

func parseRules(data map[string]any) ([]threshold.Rule, error) {
	raw, ok := data["threshold_rules"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("no threshold_rules configured")
	}
	rules := make([]threshold.Rule, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("threshold_rules entries must be objects")
		}
		path, _ := m["path"].(string)
		op, _ := m["op"].(string)
		severity, _ := m["severity"].(string)
		value, _ := m["value"].(float64)
		if path == "" || op == "" {
			return nil, fmt.Errorf("threshold rule missing path or op")
		}
		rules = append(rules, threshold.Rule{
			Path:     path,
			Op:       threshold.Op(op),
			Value:    value,
			Severity: threshold.Severity(severity),
		})
	}
	return rules, nil
}

func warningsAffectStatus(data map[string]any) bool {
	v, _ := data["warnings_affect_status"].(bool)
	return v
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
