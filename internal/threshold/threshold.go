// Package threshold evaluates the {path, op, value, severity} rule sets
// shared by the json-http, json-metrics and custom-ssh-json executors.
package threshold

import (
	"fmt"

	"github.com/nyxmon-go/agent/internal/jsonpath"
)

// Op is a comparison operator.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "≤"
	OpGT Op = ">"
	OpGE Op = "≥"
	OpEQ Op = "=="
	OpNE Op = "≠"
)

// Severity classifies a failing rule.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule is one threshold check against a path in a decoded JSON document.
type Rule struct {
	Path     string
	Op       Op
	Value    float64
	Severity Severity
}

// Failure is a Rule that did not hold, carrying the observed value for
// the Result payload.
type Failure struct {
	Rule     Rule
	Observed float64
}

// Evaluate runs every rule against doc and returns the failures,
// partitioned by severity. An empty rules slice is a configuration
// error per the spec: a json-http/json-metrics check with no threshold
// rules cannot ever report anything but "ok", which is almost certainly
// a misconfiguration rather than intent.
func Evaluate(doc any, rules []Rule) (criticalFailures, warningFailures []Failure, err error) {
	if len(rules) == 0 {
		return nil, nil, fmt.Errorf("configuration_error: no threshold rules configured")
	}

	for _, rule := range rules {
		raw, evalErr := jsonpath.Eval(doc, rule.Path)
		if evalErr != nil {
			return nil, nil, fmt.Errorf("threshold: %w", evalErr)
		}
		observed, ok := toFloat(raw)
		if !ok {
			return nil, nil, fmt.Errorf("threshold: value at %q is not numeric: %v", rule.Path, raw)
		}

		if holds(observed, rule.Op, rule.Value) {
			continue
		}
		f := Failure{Rule: rule, Observed: observed}
		if rule.Severity == SeverityCritical {
			criticalFailures = append(criticalFailures, f)
		} else {
			warningFailures = append(warningFailures, f)
		}
	}
	return criticalFailures, warningFailures, nil
}

func holds(observed float64, op Op, threshold float64) bool {
	switch op {
	case OpLT:
		return observed < threshold
	case OpLE:
		return observed <= threshold
	case OpGT:
		return observed > threshold
	case OpGE:
		return observed >= threshold
	case OpEQ:
		return observed == threshold
	case OpNE:
		return observed != threshold
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
