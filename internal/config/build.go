package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/check"
	"github.com/wesleyorama2/surge/internal/orchestrator"
	"github.com/wesleyorama2/surge/internal/request"
	"github.com/wesleyorama2/surge/internal/schedule"
)

// ScheduleStages returns the stage list the run will follow. Explicit
// stages ramp from StartVUs, so a leading zero-duration stage is added.
func (c *RunConfig) ScheduleStages() []schedule.Stage {
	if c.Preset != "" {
		p, ok := schedule.LookupPreset(c.Preset)
		if !ok {
			return nil
		}
		return p.Stages
	}

	stages := make([]schedule.Stage, 0, len(c.Stages)+1)
	stages = append(stages, schedule.Stage{Duration: 0, Target: c.StartVUs, Name: "start"})
	for i, st := range c.Stages {
		name := st.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}
		stages = append(stages, schedule.Stage{
			Duration: time.Duration(st.Duration),
			Target:   st.Target,
			Name:     name,
		})
	}
	return stages
}

// ClientConfig builds the HTTP client configuration from Settings.
func (c *RunConfig) ClientConfig() request.ClientConfig {
	cc := request.DefaultClientConfig()
	cc.Timeout = c.Settings.Timeout.GetDuration(request.DefaultTimeout)
	if c.Settings.MaxIdleConnsPerHost > 0 {
		cc.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}
	cc.MaxConnsPerHost = c.Settings.MaxConnectionsPerHost
	cc.DisableKeepAlives = c.Settings.DisableKeepAlives
	cc.InsecureSkipVerify = c.Settings.InsecureSkipVerify
	if c.Settings.UserAgent != "" {
		cc.UserAgent = c.Settings.UserAgent
	}
	return cc
}

// CheckSet builds the configured checks, falling back to the defaults when
// none are configured.
func (c *RunConfig) CheckSet() (*check.Set, error) {
	if c.Checks == nil {
		return check.NewSet(check.Defaults()...)
	}
	return check.FromSpecs(c.Checks)
}

// Options validates the configuration and converts it into orchestrator
// options. Logger, clock and registerer are left for the caller to set.
func (c *RunConfig) Options() (orchestrator.Options, error) {
	if err := c.Validate(); err != nil {
		return orchestrator.Options{}, err
	}

	cfg := *c
	ApplyDefaults(&cfg)

	sched, err := schedule.New(cfg.ScheduleStages()...)
	if err != nil {
		return orchestrator.Options{}, fmt.Errorf("failed to build schedule: %w", err)
	}

	checks, err := cfg.CheckSet()
	if err != nil {
		return orchestrator.Options{}, fmt.Errorf("failed to build checks: %w", err)
	}

	return orchestrator.Options{
		Name:         cfg.Name,
		Schedule:     sched,
		Template:     cfg.ResolvedRequest(),
		Checks:       checks,
		Sleep:        time.Duration(*cfg.Sleep),
		Client:       cfg.ClientConfig(),
		GracefulStop: time.Duration(cfg.GracefulStop),
		Thresholds:   cfg.Thresholds,
	}, nil
}
