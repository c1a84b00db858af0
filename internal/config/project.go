package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectOverrides are per-project settings read from .switchyard.yaml (or
// .switchyard.yml) in the project directory. Only the message pool is
// tunable per project today.
type ProjectOverrides struct {
	Pool *ProjectPoolOverrides `yaml:"pool"`
}

// ProjectPoolOverrides tunes the message pool for one project. Nil fields
// keep the workspace default.
type ProjectPoolOverrides struct {
	Enabled     *bool   `yaml:"enabled"`
	Delay       string  `yaml:"delay"`    // e.g. "3s"
	MaxWait     string  `yaml:"max_wait"` // e.g. "20s"
	MaxMessages *int    `yaml:"max_messages"`
	Separator   *string `yaml:"separator"`
}

// ProjectOverridePath returns the override file in projectDir, preferring
// .switchyard.yaml over .switchyard.yml. Empty when neither exists.
func ProjectOverridePath(projectDir string) string {
	for _, name := range []string{".switchyard.yaml", ".switchyard.yml"} {
		p := filepath.Join(projectDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadProjectOverrides reads project overrides from projectDir. Returns
// (nil, nil) when no override file exists.
func LoadProjectOverrides(projectDir string) (*ProjectOverrides, error) {
	path := ProjectOverridePath(projectDir)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var ov ProjectOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if ov.Pool != nil {
		if err := ov.Pool.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return &ov, nil
}

func (o *ProjectPoolOverrides) validate() error {
	for _, field := range []struct {
		name, value string
	}{{"pool.delay", o.Delay}, {"pool.max_wait", o.MaxWait}} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	if o.MaxMessages != nil && *o.MaxMessages < 1 {
		return fmt.Errorf("pool.max_messages must be >= 1, got %d", *o.MaxMessages)
	}
	return nil
}

// DelayDuration parses the Delay field; zero when unset.
func (o *ProjectPoolOverrides) DelayDuration() time.Duration {
	d, _ := time.ParseDuration(o.Delay)
	return d
}

// MaxWaitDuration parses the MaxWait field; zero when unset.
func (o *ProjectPoolOverrides) MaxWaitDuration() time.Duration {
	d, _ := time.ParseDuration(o.MaxWait)
	return d
}
