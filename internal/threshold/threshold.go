// Package threshold evaluates caller-supplied pass/fail criteria against a
// run's final metrics.
//
// Expressions take the form "<aggregate> <op> <value>", grouped by metric:
//
//	thresholds:
//	  http_req_duration: ["p95 < 500ms", "avg < 200ms"]
//	  http_req_failed:   ["rate < 0.01"]
//	  http_reqs:         ["count > 1000"]
//	  checks:            ["rate > 0.99"]
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// Metric names.
const (
	MetricDuration = "http_req_duration"
	MetricFailed   = "http_req_failed"
	MetricRequests = "http_reqs"
	MetricChecks   = "checks"
)

// Config groups threshold expressions by metric.
type Config struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate < 0.01"] (less than 1% failures)
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count or throughput
	// e.g., ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks thresholds for the pass rate across all checks
	// e.g., ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Result contains the result of a threshold evaluation.
type Result struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

var exprPattern = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

var validOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "=": true, "!=": true, "<>": true}

var aggregates = map[string][]string{
	MetricDuration: {"min", "max", "avg", "med", "p50", "p90", "p95", "p99"},
	MetricFailed:   {"rate"},
	MetricRequests: {"count", "rate"},
	MetricChecks:   {"rate"},
}

// Empty reports whether no thresholds are configured.
func (c *Config) Empty() bool {
	return c == nil ||
		len(c.HTTPReqDuration)+len(c.HTTPReqFailed)+len(c.HTTPReqs)+len(c.Checks) == 0
}

// Add appends expr to the named metric after validating it.
func (c *Config) Add(metric, expr string) error {
	if err := validate(metric, expr); err != nil {
		return err
	}
	switch metric {
	case MetricDuration:
		c.HTTPReqDuration = append(c.HTTPReqDuration, expr)
	case MetricFailed:
		c.HTTPReqFailed = append(c.HTTPReqFailed, expr)
	case MetricRequests:
		c.HTTPReqs = append(c.HTTPReqs, expr)
	case MetricChecks:
		c.Checks = append(c.Checks, expr)
	}
	return nil
}

// ParseFlag splits the CLI form "http_req_duration:p95<500ms" into metric
// and expression.
func ParseFlag(s string) (metric, expr string, err error) {
	idx := strings.Index(s, ":")
	if idx <= 0 {
		return "", "", fmt.Errorf("expected 'metric:expression' format, got '%s'", s)
	}
	metric = strings.TrimSpace(s[:idx])
	expr = strings.TrimSpace(s[idx+1:])
	if err := validate(metric, expr); err != nil {
		return "", "", err
	}
	return metric, expr, nil
}

// Validate parses every expression so that malformed thresholds are
// reported before a run starts.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	groups := []struct {
		metric string
		exprs  []string
	}{
		{MetricDuration, c.HTTPReqDuration},
		{MetricFailed, c.HTTPReqFailed},
		{MetricRequests, c.HTTPReqs},
		{MetricChecks, c.Checks},
	}
	for _, g := range groups {
		for i, expr := range g.exprs {
			if err := validate(g.metric, expr); err != nil {
				return fmt.Errorf("%s[%d]: %w", g.metric, i, err)
			}
		}
	}
	return nil
}

func validate(metric, expr string) error {
	allowed, ok := aggregates[metric]
	if !ok {
		return fmt.Errorf("unknown threshold metric: %s", metric)
	}

	agg, op, valueStr, err := parseExpression(expr)
	if err != nil {
		return err
	}
	if !validOps[op] {
		return fmt.Errorf("invalid operator %q in %q", op, expr)
	}

	found := false
	for _, a := range allowed {
		if a == agg {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s only supports %s, got: %s", metric, strings.Join(allowed, ", "), agg)
	}

	if metric == MetricDuration {
		_, err = time.ParseDuration(valueStr)
	} else {
		_, err = strconv.ParseFloat(valueStr, 64)
	}
	if err != nil {
		return fmt.Errorf("invalid threshold value in %q: %w", expr, err)
	}
	return nil
}

// Evaluate checks every configured threshold against snap.
func Evaluate(c *Config, snap *metrics.Snapshot) []Result {
	if c.Empty() || snap == nil {
		return nil
	}

	var results []Result
	for _, expr := range c.HTTPReqDuration {
		results = append(results, evaluateDuration(expr, snap))
	}
	for _, expr := range c.HTTPReqFailed {
		results = append(results, evaluateRate(MetricFailed, "error rate", expr, snap.ErrorRate))
	}
	for _, expr := range c.HTTPReqs {
		results = append(results, evaluateRequests(expr, snap))
	}
	for _, expr := range c.Checks {
		results = append(results, evaluateRate(MetricChecks, "checks pass rate", expr, snap.ChecksPassRate))
	}
	return results
}

// AllPassed reports whether every result passed. An empty slice passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func evaluateDuration(expr string, snap *metrics.Snapshot) Result {
	result := Result{Metric: MetricDuration, Expression: expr}

	agg, op, valueStr, err := parseExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	var actual time.Duration
	switch agg {
	case "min":
		actual = snap.Latency.Min
	case "max":
		actual = snap.Latency.Max
	case "avg":
		actual = snap.Latency.Mean
	case "med", "p50":
		actual = snap.Latency.P50
	case "p90":
		actual = snap.Latency.P90
	case "p95":
		actual = snap.Latency.P95
	case "p99":
		actual = snap.Latency.P99
	default:
		result.Message = fmt.Sprintf("unknown aggregate: %s", agg)
		return result
	}

	limit, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(limit))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", agg, actual, op, limit)
	}
	return result
}

func evaluateRate(metric, label, expr string, actual float64) Result {
	result := Result{Metric: metric, Expression: expr}

	agg, op, valueStr, err := parseExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	if agg != "rate" {
		result.Message = fmt.Sprintf("%s only supports 'rate', got: %s", metric, agg)
		return result
	}

	limit, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.4f", actual)
	result.Passed = compareValues(actual, op, limit)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.4f, threshold: %s %.4f", label, actual, op, limit)
	}
	return result
}

func evaluateRequests(expr string, snap *metrics.Snapshot) Result {
	result := Result{Metric: MetricRequests, Expression: expr}

	agg, op, valueStr, err := parseExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	limit, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actual float64
	switch agg {
	case "count":
		actual = float64(snap.TotalRequests)
	case "rate":
		actual = snap.RPS
	default:
		result.Message = fmt.Sprintf("http_reqs only supports 'count' or 'rate', got: %s", agg)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actual)
	result.Passed = compareValues(actual, op, limit)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", agg, actual, op, limit)
	}
	return result
}

// parseExpression parses an expression like "p95 < 500ms".
func parseExpression(expr string) (agg, op, value string, err error) {
	matches := exprPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
