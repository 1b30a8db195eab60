package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lim1712/orchestrator/internal/agents"
	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/observer"
	"github.com/lim1712/orchestrator/internal/registry"
)

// Config represents the main configuration
type Config struct {
	Version   string                    `yaml:"version"`
	Logging   *logging.Config           `yaml:"logging"`
	Store     *StoreConfig              `yaml:"store"`
	Instances []registry.InstanceConfig `yaml:"instances"`
	Observer  *observer.Config          `yaml:"observer"`
	Rules     *RulesConfig              `yaml:"rules"`
	Confirm   *confirm.Config           `yaml:"confirm"`
	Engine    *EngineConfig             `yaml:"engine"`
	Agents    *agents.Config            `yaml:"agents"`
	Budget    *budget.Config            `yaml:"budget"`
}

// StoreConfig holds the database location
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig points at an optional rule-set file. Empty means built-in rules.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload on change
}

// EngineConfig holds poll cycle settings
type EngineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Logging: logging.DefaultConfig(),
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".orchestrator", "data"),
		},
		Instances: []registry.InstanceConfig{},
		Observer:  observer.DefaultConfig(),
		Rules:     &RulesConfig{Watch: true},
		Confirm:   confirm.DefaultConfig(),
		Engine:    &EngineConfig{Concurrency: 4},
		Agents:    agents.DefaultConfig(),
		Budget:    budget.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.fillDefaults()

	// Expand paths
	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Rules != nil {
		config.Rules.Path = expandPath(config.Rules.Path)
	}
	if config.Logging != nil && config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}
	for i := range config.Instances {
		config.Instances[i].Root = expandPath(config.Instances[i].Root)
		config.Instances[i].Executable = expandPath(config.Instances[i].Executable)
	}

	return config, nil
}

// fillDefaults restores sections an explicit null in the file cleared.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Logging == nil {
		c.Logging = d.Logging
	}
	if c.Store == nil {
		c.Store = d.Store
	}
	if c.Observer == nil {
		c.Observer = d.Observer
	}
	if c.Rules == nil {
		c.Rules = d.Rules
	}
	if c.Confirm == nil {
		c.Confirm = d.Confirm
	}
	if c.Engine == nil {
		c.Engine = d.Engine
	}
	if c.Agents == nil {
		c.Agents = d.Agents
	}
	if c.Budget == nil {
		c.Budget = d.Budget
	}
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".orchestrator", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Observer == nil || c.Observer.Interval <= 0 {
		return fmt.Errorf("observer interval must be positive")
	}
	if c.Confirm != nil {
		if c.Confirm.Cooldown < 0 {
			return fmt.Errorf("confirm cooldown must not be negative: %s", c.Confirm.Cooldown)
		}
		if c.Confirm.MaxRetries < 0 {
			return fmt.Errorf("confirm max_retries must not be negative: %d", c.Confirm.MaxRetries)
		}
	}

	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.ID == "" {
			return fmt.Errorf("instance %d: id is required", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instance id: %s", inst.ID)
		}
		seen[inst.ID] = true
	}

	if c.Agents != nil {
		if err := c.Agents.Validate(); err != nil {
			return err
		}
	}
	if c.Budget != nil {
		if err := c.Budget.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetInstance returns instance configuration by id
func (c *Config) GetInstance(id string) *registry.InstanceConfig {
	for i := range c.Instances {
		if c.Instances[i].ID == id {
			return &c.Instances[i]
		}
	}
	return nil
}
