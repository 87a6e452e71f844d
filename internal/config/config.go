// Package config loads the orchestrator's YAML bootstrap configuration:
// the database path, HTTP listen addresses, event log directory, and the
// initial set of endpoint bindings. Everything else (settings, pause
// flags, endpoint rebinds after boot) lives in the store and is mutated
// through the control API instead, per spec.md §9.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"contentpipe/internal/model"
)

// Config is the top-level bootstrap configuration.
type Config struct {
	DatabasePath         string           `yaml:"database_path"`
	ListenAddr           string           `yaml:"listen_addr"`
	EventLogDir          string           `yaml:"event_log_dir"`
	InstanceID           string           `yaml:"instance_id"`
	WebSearchConcurrency int              `yaml:"web_search_concurrency"`
	Endpoints            []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig is one stage's bootstrap endpoint binding.
type EndpointConfig struct {
	Stage          string  `yaml:"stage"`
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	AuthEnvKey     string  `yaml:"auth_env_key"`
	ConcurrencyCap int     `yaml:"concurrency_cap"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "pipeline.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.EventLogDir == "" {
		c.EventLogDir = "events"
	}
	if c.WebSearchConcurrency <= 0 {
		c.WebSearchConcurrency = 3
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for _, e := range c.Endpoints {
		if e.Stage == "" {
			return fmt.Errorf("endpoint entry missing stage")
		}
		if seen[e.Stage] {
			return fmt.Errorf("duplicate endpoint binding for stage %q", e.Stage)
		}
		seen[e.Stage] = true
		if e.Provider != string(model.ProviderHosted) && e.Provider != string(model.ProviderCustom) {
			return fmt.Errorf("endpoint %q has unrecognized provider %q", e.Stage, e.Provider)
		}
		if e.BaseURL == "" {
			return fmt.Errorf("endpoint %q missing base_url", e.Stage)
		}
	}
	return nil
}

// Bindings converts the configured endpoints into model.EndpointBinding
// values for seeding the registry; cmd/pipelined upserts them on every
// start, replacing stored bindings for the same stages.
func (c *Config) Bindings() []model.EndpointBinding {
	out := make([]model.EndpointBinding, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		timeout := time.Duration(e.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		concurrencyCap := e.ConcurrencyCap
		if concurrencyCap <= 0 {
			concurrencyCap = 1
		}
		out = append(out, model.EndpointBinding{
			Stage:          model.Stage(e.Stage),
			Provider:       model.ProviderKind(e.Provider),
			BaseURL:        e.BaseURL,
			Model:          e.Model,
			AuthEnvKey:     e.AuthEnvKey,
			ConcurrencyCap: concurrencyCap,
			Timeout:        timeout,
			DailyBudgetUSD: e.DailyBudgetUSD,
		})
	}
	return out
}
