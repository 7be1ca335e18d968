package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/metrics"
)

func testSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		TotalRequests:  1000,
		FailedRequests: 5,
		ErrorRate:      0.005,
		RPS:            120,
		ChecksPassRate: 0.97,
		Latency: metrics.LatencyStats{
			Min:  2 * time.Millisecond,
			Max:  900 * time.Millisecond,
			Mean: 80 * time.Millisecond,
			P50:  60 * time.Millisecond,
			P90:  200 * time.Millisecond,
			P95:  300 * time.Millisecond,
			P99:  700 * time.Millisecond,
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *Config
		passed []bool
	}{
		{"p95 under limit", &Config{HTTPReqDuration: []string{"p95 < 500ms"}}, []bool{true}},
		{"p99 over limit", &Config{HTTPReqDuration: []string{"p99 < 500ms"}}, []bool{false}},
		{"avg and med", &Config{HTTPReqDuration: []string{"avg<=80ms", "med == 60ms"}}, []bool{true, true}},
		{"max min", &Config{HTTPReqDuration: []string{"max < 1s", "min > 5ms"}}, []bool{true, false}},
		{"error rate", &Config{HTTPReqFailed: []string{"rate < 0.01", "rate < 0.001"}}, []bool{true, false}},
		{"request count and rate", &Config{HTTPReqs: []string{"count >= 1000", "rate > 200"}}, []bool{true, false}},
		{"checks rate", &Config{Checks: []string{"rate > 0.99", "rate > 0.9"}}, []bool{false, true}},
		{"unknown aggregate fails", &Config{HTTPReqDuration: []string{"p42 < 1s"}}, []bool{false}},
		{"bad value fails", &Config{HTTPReqFailed: []string{"rate < lots"}}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate(tt.cfg, testSnapshot())
			require.Len(t, results, len(tt.passed))
			for i, r := range results {
				assert.Equal(t, tt.passed[i], r.Passed, r.Expression)
				if !r.Passed {
					assert.NotEmpty(t, r.Message)
				}
			}
		})
	}
}

func TestEvaluate_ResultFields(t *testing.T) {
	results := Evaluate(&Config{HTTPReqDuration: []string{"p95 < 500ms"}}, testSnapshot())
	require.Len(t, results, 1)
	assert.Equal(t, Result{
		Metric:     MetricDuration,
		Expression: "p95 < 500ms",
		Passed:     true,
		Value:      "300ms",
	}, results[0])
}

func TestEvaluate_Empty(t *testing.T) {
	assert.Nil(t, Evaluate(nil, testSnapshot()))
	assert.Nil(t, Evaluate(&Config{}, testSnapshot()))
	assert.True(t, AllPassed(nil))
}

func TestAllPassed(t *testing.T) {
	assert.True(t, AllPassed([]Result{{Passed: true}, {Passed: true}}))
	assert.False(t, AllPassed([]Result{{Passed: true}, {Passed: false}}))
}

func TestValidate(t *testing.T) {
	valid := &Config{
		HTTPReqDuration: []string{"p95 < 500ms"},
		HTTPReqFailed:   []string{"rate < 0.01"},
		HTTPReqs:        []string{"count > 10"},
		Checks:          []string{"rate >= 0.99"},
	}
	assert.NoError(t, valid.Validate())

	var nilCfg *Config
	assert.NoError(t, nilCfg.Validate())

	invalid := []*Config{
		{HTTPReqDuration: []string{"p95 < 0.5"}},
		{HTTPReqDuration: []string{"rate < 1s"}},
		{HTTPReqFailed: []string{"count < 1"}},
		{HTTPReqs: []string{"count ~ 1"}},
		{Checks: []string{"garbage"}},
	}
	for _, c := range invalid {
		assert.Error(t, c.Validate(), "%+v", c)
	}

	err := (&Config{HTTPReqs: []string{"count > 1", "bogus > 1"}}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_reqs[1]")
}

func TestParseFlag(t *testing.T) {
	metric, expr, err := ParseFlag("http_req_duration:p95<500ms")
	require.NoError(t, err)
	assert.Equal(t, MetricDuration, metric)
	assert.Equal(t, "p95<500ms", expr)

	_, _, err = ParseFlag("p95<500ms")
	assert.Error(t, err)

	_, _, err = ParseFlag("latency:p95<500ms")
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	var c Config
	assert.True(t, c.Empty())

	require.NoError(t, c.Add(MetricDuration, "p95 < 1s"))
	require.NoError(t, c.Add(MetricFailed, "rate < 0.1"))
	require.NoError(t, c.Add(MetricRequests, "rate > 1"))
	require.NoError(t, c.Add(MetricChecks, "rate > 0.5"))
	assert.Error(t, c.Add(MetricChecks, "count > 1"))

	assert.False(t, c.Empty())
	assert.Len(t, c.HTTPReqDuration, 1)
	assert.Len(t, c.HTTPReqFailed, 1)
	assert.Len(t, c.HTTPReqs, 1)
	assert.Len(t, c.Checks, 1)
}
