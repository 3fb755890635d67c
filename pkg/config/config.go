package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunnerTemplate is a named, reusable command template a worker can be
// started from instead of spelling out command/args/env inline (§E.3,
// grounded on original_source/src/services/global_config.rs's
// RunnerConfig — command/args/env/concurrency, here in the teacher's
// yaml idiom rather than the original's TOML).
type RunnerTemplate struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Concurrency int               `yaml:"concurrency,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty"`
}

// RetentionConfig controls the daemon's log garbage collection (§4.8).
type RetentionConfig struct {
	MaxAge  time.Duration `yaml:"max_age,omitempty"`
	MinKeep int           `yaml:"min_keep,omitempty"`
}

// BackoffConfig controls the retry scheduler's exponential backoff
// (§4.6). Defaults are applied in Default().
type BackoffConfig struct {
	Base   time.Duration `yaml:"base,omitempty"`
	Max    time.Duration `yaml:"max,omitempty"`
	Jitter float64       `yaml:"jitter,omitempty"`
}

// DispatchConfig controls the per-worker dispatch loop (§4.4.1).
type DispatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	BatchSize    int           `yaml:"batch_size,omitempty"`
}

// GlobalConfig is the daemon-wide configuration file at
// ${HOME}/.granary/config.yaml. Grounded on global_config.rs's GlobalConfig
// (runners map, defaults), translated from TOML to yaml.v3.
type GlobalConfig struct {
	Runners   map[string]RunnerTemplate `yaml:"runners,omitempty"`
	Retention RetentionConfig           `yaml:"retention,omitempty"`
	Backoff   BackoffConfig             `yaml:"backoff,omitempty"`
	Dispatch  DispatchConfig            `yaml:"dispatch,omitempty"`
}

// Default returns the configuration used when no config.yaml exists yet,
// matching the Open Question decisions recorded in DESIGN.md: 500ms base
// backoff, 30s cap, ±20% jitter, 7-day log retention with a 3-run floor.
func Default() *GlobalConfig {
	return &GlobalConfig{
		Runners: map[string]RunnerTemplate{},
		Retention: RetentionConfig{
			MaxAge:  7 * 24 * time.Hour,
			MinKeep: 3,
		},
		Backoff: BackoffConfig{
			Base:   500 * time.Millisecond,
			Max:    30 * time.Second,
			Jitter: 0.2,
		},
		Dispatch: DispatchConfig{
			PollInterval: time.Second,
			BatchSize:    50,
		},
	}
}

// Load reads and parses the config file at ConfigPath, returning Default()
// if it does not exist yet (global_config.rs::load's missing-file
// fallback).
func Load() (*GlobalConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Runners == nil {
		cfg.Runners = map[string]RunnerTemplate{}
	}
	return cfg, nil
}

// Save writes cfg to ConfigPath, creating the parent directory if needed.
func Save(cfg *GlobalConfig) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// GetRunner looks up a named runner template, used to resolve
// StartWorker's runner_name (§E.3's runner templates).
func (c *GlobalConfig) GetRunner(name string) (RunnerTemplate, bool) {
	rt, ok := c.Runners[name]
	return rt, ok
}

// SetRunner adds or replaces a named runner template.
func (c *GlobalConfig) SetRunner(name string, rt RunnerTemplate) {
	if c.Runners == nil {
		c.Runners = map[string]RunnerTemplate{}
	}
	c.Runners[name] = rt
}

// RemoveRunner deletes a named runner template, reporting whether it
// existed.
func (c *GlobalConfig) RemoveRunner(name string) bool {
	if _, ok := c.Runners[name]; !ok {
		return false
	}
	delete(c.Runners, name)
	return true
}

// ListRunners returns the configured runner template names.
func (c *GlobalConfig) ListRunners() []string {
	names := make([]string, 0, len(c.Runners))
	for name := range c.Runners {
		names = append(names, name)
	}
	return names
}
