// Package jsonhttp implements the "json-http" executor kind: a GET
// request returning JSON, evaluated against a list of threshold rules.
// A critical failure reports error/threshold_failed with every failing
// rule; a warning-only outcome reports ok with a severity marker (see
// check.Data["warnings_affect_status"] for the opt-in to flip this).
package jsonhttp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/executors"
	"github.com/nyxmon-go/agent/internal/threshold"
)

const defaultTimeout = 10 * time.Second

// New returns an Executor for nyxmon.KindJSONHTTP. It shares res's
// batch-scoped *http.Client with every other http/json-http check in
// the batch; a nil res falls back to http.DefaultClient.
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
		if user, pass, ok := basicAuth(check.Data); ok {
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return executors.ErrorResult(check.ID, "timeout", err.Error(), nil), nil
			}
			return executors.ErrorResult(check.ID, "connection_error", err.Error(), nil), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return executors.ErrorResult(check.ID, "http_status", "unexpected status code", map[string]any{
				"status_code": resp.StatusCode,
			}), nil
		}

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

func basicAuth(data map[string]any) (user, pass string, ok bool) {
	auth, present := data["basic_auth"].(map[string]any)
	if !present {
		return "", "", false
	}
	user, _ = auth["username"].(string)
	pass, _ = auth["password"].(string)
	return user, pass, true
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
