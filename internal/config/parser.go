package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/orchestrator"
	"github.com/wesleyorama2/surge/internal/request"
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. The format is taken from the
// extension of path and defaults to YAML.
func ParseConfig(data []byte, path string) (*RunConfig, error) {
	var cfg RunConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &cfg, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	if _, err := fmt.Sscanf(s, "%d", &seconds); err == nil && fmt.Sprint(seconds) == s {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(cfg *RunConfig) {
	if cfg.Request.Method == "" {
		cfg.Request.Method = "GET"
	}
	cfg.Request.Method = strings.ToUpper(cfg.Request.Method)

	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(request.DefaultTimeout)
	}
	if cfg.Settings.MaxIdleConnsPerHost == 0 {
		cfg.Settings.MaxIdleConnsPerHost = 100
	}
	if cfg.Settings.UserAgent == "" {
		cfg.Settings.UserAgent = request.DefaultUserAgent
	}
	if cfg.Sleep == nil {
		cfg.Sleep = NewDuration(orchestrator.DefaultSleep)
	}
}
