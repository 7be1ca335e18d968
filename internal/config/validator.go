package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/schedule"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the run configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if tpl := c.ResolvedRequest(); tpl.URL == "" {
		errs.Add("request.url", "url is required")
	} else if err := tpl.Validate(); err != nil {
		errs.Add("request", err.Error())
	}

	validateStages(c, errs)
	validateSettings(&c.Settings, errs)

	if c.Sleep != nil && *c.Sleep < 0 {
		errs.Add("sleep", "sleep cannot be negative")
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "gracefulStop cannot be negative")
	}

	if c.Checks != nil {
		if _, err := check.FromSpecs(c.Checks); err != nil {
			errs.Add("checks", err.Error())
		}
	}

	if err := c.Thresholds.Validate(); err != nil {
		errs.Add("thresholds", err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateStages(c *RunConfig, errs *ValidationErrors) {
	switch {
	case c.Preset != "" && len(c.Stages) > 0:
		errs.Add("preset", "preset and stages are mutually exclusive")
		return
	case c.Preset != "":
		if _, ok := schedule.LookupPreset(c.Preset); !ok {
			errs.Add("preset", fmt.Sprintf("unknown preset: %s", c.Preset))
		}
		if c.StartVUs != 0 {
			errs.Add("startVUs", "startVUs cannot be combined with a preset")
		}
		return
	case len(c.Stages) == 0:
		errs.Add("stages", "at least one stage or a preset is required")
		return
	}

	if c.StartVUs < 0 {
		errs.Add("startVUs", "startVUs cannot be negative")
		return
	}

	invalid := false
	for i, st := range c.Stages {
		if st.Duration < 0 {
			errs.Add(fmt.Sprintf("stages[%d].duration", i), "duration cannot be negative")
			invalid = true
		}
		if st.Target < 0 {
			errs.Add(fmt.Sprintf("stages[%d].target", i), "target cannot be negative")
			invalid = true
		}
	}
	if invalid {
		return
	}

	if _, err := schedule.New(c.ScheduleStages()...); err != nil {
		var cfgErr *schedule.ConfigError
		if errors.As(err, &cfgErr) {
			errs.Add(cfgErr.Field, cfgErr.Message)
			return
		}
		errs.Add("stages", err.Error())
	}
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "maxConnectionsPerHost cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}
