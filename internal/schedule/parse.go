package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseStages parses the compact CLI form "30s:10,2m:10,30s:0".
func ParseStages(spec string) ([]Stage, error) {
	var stages []Stage

	parts := strings.Split(spec, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := strings.TrimSpace(part[:colonIdx])
		targetStr := strings.TrimSpace(part[colonIdx+1:])

		d, err := time.ParseDuration(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, Stage{
			Duration: d,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// Preset is a named, reusable stage list.
type Preset struct {
	Name        string
	Description string
	Stages      []Stage
}

var presets = map[string]Preset{
	"spike": {
		Name:        "spike",
		Description: "jump to 500 VUs in 1s, hold for 4m, drop to 0 in 1s",
		Stages: FromZero(
			Stage{Duration: time.Second, Target: 500, Name: "ramp-up"},
			Stage{Duration: 4 * time.Minute, Target: 500, Name: "hold"},
			Stage{Duration: time.Second, Target: 0, Name: "ramp-down"},
		),
	},
	"smoke": {
		Name:        "smoke",
		Description: "ramp to 5 VUs over 30s, hold for 1m, ramp down over 30s",
		Stages: FromZero(
			Stage{Duration: 30 * time.Second, Target: 5, Name: "ramp-up"},
			Stage{Duration: time.Minute, Target: 5, Name: "hold"},
			Stage{Duration: 30 * time.Second, Target: 0, Name: "ramp-down"},
		),
	},
}

// LookupPreset returns a copy of the named preset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, false
	}
	p.Stages = append([]Stage(nil), p.Stages...)
	return p, true
}

// Presets returns all built-in presets sorted by name.
func Presets() []Preset {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Preset, 0, len(names))
	for _, name := range names {
		p, _ := LookupPreset(name)
		out = append(out, p)
	}
	return out
}
