// Package config loads run definitions from YAML or JSON files and turns
// them into validated orchestrator options.
package config

import (
	"time"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/request"
	"github.com/wesleyorama2/surge/internal/threshold"
)

// RunConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "menu items spike"
//	variables:
//	  baseUrl: "http://localhost:8083"
//	request:
//	  method: GET
//	  url: "{{baseUrl}}/api/restaurants/1/menu-items"
//	stages:
//	  - duration: 1s
//	    target: 500
//	  - duration: 4m
//	    target: 500
//	  - duration: 1s
//	    target: 0
//	sleep: 1s
//	checks:
//	  - name: "is status 200"
//	    type: status
//	    value: "200"
//	thresholds:
//	  http_req_duration: ["p95 < 500ms"]
type RunConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Variables substituted into the request as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Request issued by every iteration
	Request request.Template `json:"request" yaml:"request"`

	// Settings configure the HTTP client
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// StartVUs is the VU count the first stage ramps from (default 0)
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages define the VU ramp. Mutually exclusive with Preset.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Preset names a built-in stage list, e.g. "spike" or "smoke"
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	// Sleep between iterations of each VU (default 1s, "0s" disables)
	Sleep *Duration `json:"sleep,omitempty" yaml:"sleep,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Checks evaluated per iteration. Omitted means the default status and
	// latency checks; an empty list disables checks.
	Checks []check.Spec `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *threshold.Config `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Settings contains HTTP client settings.
type Settings struct {
	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// DisableKeepAlives opens a new connection per request
	DisableKeepAlives bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// StageConfig defines a single stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name for this stage (optional, for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Duration is a time.Duration that marshals as a string like "30s".
type Duration time.Duration

// NewDuration returns a pointer to d, for optional fields.
func NewDuration(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
