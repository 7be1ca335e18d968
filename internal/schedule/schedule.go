// Package schedule converts an ordered list of stages into a time-indexed
// target VU count.
//
// Stages describe the VU count reached by the end of each stage. Between
// stage boundaries the target is interpolated linearly, which produces a
// gradual ramp instead of step-wise VU changes:
//
//	stages:
//	  - duration: 0s
//	    target: 0      # start from zero
//	  - duration: 30s
//	    target: 5      # ramp from 0 to 5 VUs over 30s
//	  - duration: 1m
//	    target: 5      # hold 5 VUs for a minute
//	  - duration: 30s
//	    target: 0      # ramp down to 0 VUs over 30s
//
// The value at elapsed time zero is the first stage's target, so a ramp
// from zero is expressed with a leading zero-duration stage.
package schedule

import (
	"fmt"
	"time"
)

// Stage is one segment of a schedule.
type Stage struct {
	// Duration of this stage. Zero means an instantaneous jump to Target.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage.
	Target int `json:"target" yaml:"target"`

	// Optional name for reporting.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes what the schedule is doing at a point in time.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// ConfigError reports an invalid schedule. It is fatal: a run with an
// invalid schedule never starts.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Message)
	}
	return "invalid schedule: " + e.Message
}

// Schedule is an immutable, validated sequence of stages.
type Schedule struct {
	stages []Stage
	ends   []time.Duration // cumulative end offset of each stage
	total  time.Duration
}

// New validates stages and returns a Schedule. Stage order is preserved.
//
// A schedule whose stages sum to zero is rejected as well: the run would end
// on its first tick without issuing a single request.
func New(stages ...Stage) (*Schedule, error) {
	if len(stages) == 0 {
		return nil, &ConfigError{Field: "stages", Message: "at least one stage is required"}
	}

	s := &Schedule{
		stages: make([]Stage, len(stages)),
		ends:   make([]time.Duration, len(stages)),
	}
	copy(s.stages, stages)

	for i, st := range s.stages {
		field := fmt.Sprintf("stages[%d]", i)
		if st.Duration < 0 {
			return nil, &ConfigError{Field: field + ".duration", Message: "duration cannot be negative"}
		}
		if st.Target < 0 {
			return nil, &ConfigError{Field: field + ".target", Message: "target cannot be negative"}
		}
		s.total += st.Duration
		s.ends[i] = s.total
	}

	if s.total <= 0 {
		return nil, &ConfigError{Field: "stages", Message: "total duration must be greater than 0"}
	}

	return s, nil
}

// MustNew is like New but panics on error. Intended for presets and tests.
func MustNew(stages ...Stage) *Schedule {
	s, err := New(stages...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromZero prepends an instantaneous stage at zero VUs so the first real
// stage ramps up from nothing.
func FromZero(stages ...Stage) []Stage {
	out := make([]Stage, 0, len(stages)+1)
	out = append(out, Stage{Duration: 0, Target: 0, Name: "start"})
	return append(out, stages...)
}

// Stages returns a copy of the schedule's stages.
func (s *Schedule) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// TotalDuration is the sum of all stage durations.
func (s *Schedule) TotalDuration() time.Duration {
	return s.total
}

// Done reports whether elapsed has reached the end of the schedule.
func (s *Schedule) Done(elapsed time.Duration) bool {
	return elapsed >= s.total
}

// TargetAt returns the target VU count at elapsed time since run start.
//
// Negative elapsed is treated as zero. Past the end of the schedule the
// final stage's target is returned.
func (s *Schedule) TargetAt(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}

	prevTarget := s.stages[0].Target
	var stageStart time.Duration

	for i, stage := range s.stages {
		stageEnd := s.ends[i]

		if elapsed < stageEnd {
			// Zero-duration stages are never selected here: elapsed < stageEnd
			// with stageStart == stageEnd is impossible once elapsed >= stageStart.
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return s.stages[len(s.stages)-1].Target
}

// StageAt returns the index and definition of the stage active at elapsed.
// Past the end the last stage is returned.
func (s *Schedule) StageAt(elapsed time.Duration) (int, Stage) {
	for i, end := range s.ends {
		if elapsed < end {
			return i, s.stages[i]
		}
	}
	last := len(s.stages) - 1
	return last, s.stages[last]
}

// PhaseAt classifies the schedule at elapsed by comparing the active
// stage's target with the previous boundary.
func (s *Schedule) PhaseAt(elapsed time.Duration) Phase {
	if s.Done(elapsed) {
		return PhaseDone
	}

	idx, stage := s.StageAt(elapsed)
	prevTarget := s.stages[0].Target
	if idx > 0 {
		prevTarget = s.stages[idx-1].Target
	}

	switch {
	case stage.Target > prevTarget:
		return PhaseRampUp
	case stage.Target < prevTarget:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// MaxTarget returns the highest target across all stages.
func (s *Schedule) MaxTarget() int {
	maxTarget := 0
	for _, st := range s.stages {
		if st.Target > maxTarget {
			maxTarget = st.Target
		}
	}
	return maxTarget
}
