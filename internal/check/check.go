// Package check evaluates named boolean predicates against request outcomes.
package check

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/request"
)

// Predicate is a pure function over an outcome.
type Predicate func(request.Outcome) bool

// Check is a named predicate.
type Check struct {
	Name string
	Fn   Predicate
}

// Result is the evaluation of one check against one outcome.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Set is an ordered collection of checks with unique names.
type Set struct {
	checks []Check
}

// NewSet builds a Set, rejecting empty or duplicate names and nil predicates.
func NewSet(checks ...Check) (*Set, error) {
	seen := make(map[string]bool, len(checks))
	for i, c := range checks {
		if c.Name == "" {
			return nil, fmt.Errorf("check %d: name is required", i)
		}
		if c.Fn == nil {
			return nil, fmt.Errorf("check %q: predicate is nil", c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("check %q: duplicate name", c.Name)
		}
		seen[c.Name] = true
	}

	return &Set{checks: append([]Check(nil), checks...)}, nil
}

// Names returns check names in evaluation order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.checks))
	for i, c := range s.checks {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of checks.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.checks)
}

// Evaluate runs every check against out, in order.
func (s *Set) Evaluate(out request.Outcome) []Result {
	if s == nil || len(s.checks) == 0 {
		return nil
	}

	results := make([]Result, len(s.checks))
	for i, c := range s.checks {
		results[i] = Result{Name: c.Name, Passed: c.Fn(out)}
	}
	return results
}

// Status passes when a response with the given status code was received.
func Status(code int) Check {
	return Check{
		Name: fmt.Sprintf("is status %d", code),
		Fn: func(o request.Outcome) bool {
			return o.Err == nil && o.StatusCode == code
		},
	}
}

// LatencyBelow passes when the request completed in under limit.
// Transport failures never pass.
func LatencyBelow(limit time.Duration) Check {
	return Check{
		Name: fmt.Sprintf("response time < %s", limit),
		Fn: func(o request.Outcome) bool {
			return o.Err == nil && o.Duration < limit
		},
	}
}

// Defaults returns the status and latency checks used when none are
// configured.
func Defaults() []Check {
	return []Check{
		Status(200),
		LatencyBelow(200 * time.Millisecond),
	}
}

// Spec is the declarative form of a check, as read from configuration.
type Spec struct {
	// Name defaults to a generated description.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is "status" or "duration".
	Type string `json:"type" yaml:"type"`

	// Condition is one of eq, ne, lt, lte, gt, gte.
	Condition string `json:"condition" yaml:"condition"`

	// Value is a status code or a duration such as "200ms".
	Value string `json:"value" yaml:"value"`
}

var conditionSymbols = map[string]string{
	"eq": "==", "ne": "!=", "lt": "<", "lte": "<=", "gt": ">", "gte": ">=",
}

// FromSpec builds a Check from its declarative form.
func FromSpec(s Spec) (Check, error) {
	cond := strings.ToLower(strings.TrimSpace(s.Condition))
	if cond == "" {
		cond = "eq"
	}
	symbol, ok := conditionSymbols[cond]
	if !ok {
		return Check{}, fmt.Errorf("invalid condition: %s", s.Condition)
	}

	switch strings.ToLower(s.Type) {
	case "status":
		code, err := strconv.Atoi(strings.TrimSpace(s.Value))
		if err != nil {
			return Check{}, fmt.Errorf("invalid status value %q: %w", s.Value, err)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("status %s %d", symbol, code)
		}
		return Check{Name: name, Fn: func(o request.Outcome) bool {
			return o.HasStatus() && compare(int64(o.StatusCode), cond, int64(code))
		}}, nil

	case "duration":
		limit, err := time.ParseDuration(strings.TrimSpace(s.Value))
		if err != nil {
			return Check{}, fmt.Errorf("invalid duration value %q: %w", s.Value, err)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("response time %s %s", symbol, limit)
		}
		return Check{Name: name, Fn: func(o request.Outcome) bool {
			return o.Err == nil && compare(int64(o.Duration), cond, int64(limit))
		}}, nil

	case "":
		return Check{}, fmt.Errorf("check type is required")
	default:
		return Check{}, fmt.Errorf("invalid check type: %s", s.Type)
	}
}

// FromSpecs builds a Set from declarative checks.
func FromSpecs(specs []Spec) (*Set, error) {
	checks := make([]Check, 0, len(specs))
	for i, s := range specs {
		c, err := FromSpec(s)
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		checks = append(checks, c)
	}
	return NewSet(checks...)
}

func compare(actual int64, cond string, expected int64) bool {
	switch cond {
	case "eq":
		return actual == expected
	case "ne":
		return actual != expected
	case "lt":
		return actual < expected
	case "lte":
		return actual <= expected
	case "gt":
		return actual > expected
	case "gte":
		return actual >= expected
	default:
		return false
	}
}
