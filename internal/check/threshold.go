package check

import (
	"fmt"
	"strconv"
	"strings"
)

// Threshold is a condition on the checks pass rate, e.g. "rate==1.0"
type Threshold struct {
	Expr  string
	op    string
	value float64
}

// operators ordered so two-character forms match first
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

// ParseThreshold parses an expression of the form rate<op><number>
func ParseThreshold(expr string) (Threshold, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(expr), " ", "")
	if !strings.HasPrefix(compact, "rate") {
		return Threshold{}, fmt.Errorf("invalid threshold %q: only 'rate' is supported", expr)
	}
	rest := strings.TrimPrefix(compact, "rate")
	for _, op := range operators {
		if !strings.HasPrefix(rest, op) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimPrefix(rest, op), 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid threshold %q: %w", expr, err)
		}
		if value < 0 || value > 1 {
			return Threshold{}, fmt.Errorf("invalid threshold %q: rate must be between 0 and 1", expr)
		}
		return Threshold{Expr: compact, op: op, value: value}, nil
	}
	return Threshold{}, fmt.Errorf("invalid threshold %q: missing operator", expr)
}

// ParseThresholds parses every expression, failing on the first invalid one
func ParseThresholds(exprs []string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(exprs))
	for _, expr := range exprs {
		t, err := ParseThreshold(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Evaluate reports whether rate satisfies the threshold
func (t Threshold) Evaluate(rate float64) bool {
	switch t.op {
	case "==":
		return rate == t.value
	case "!=":
		return rate != t.value
	case ">=":
		return rate >= t.value
	case "<=":
		return rate <= t.value
	case ">":
		return rate > t.value
	case "<":
		return rate < t.value
	}
	return false
}

// EvaluateAll returns the expressions that failed; empty means all passed
func EvaluateAll(thresholds []Threshold, rate float64) []string {
	var failed []string
	for _, t := range thresholds {
		if !t.Evaluate(rate) {
			failed = append(failed, t.Expr)
		}
	}
	return failed
}
