package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the environment-provided, read-only runtime configuration.
// Values are shared by reference between components and never mutated.
type Config struct {
	MaxRetryAttempts      int
	RetryBackoffBase      time.Duration
	CircuitThreshold      int
	CircuitResetWindow    time.Duration
	AgentInactivityWindow time.Duration
	SelfHealEnabled       bool
	AutoSyncEnabled       bool
	SelfCheckInterval     time.Duration
	DispatchTimeout       time.Duration
	DataDir               string
	ListenAddr            string
	LogLevel              string
	LogJSON               bool
	FleetFile             string
}

// Load reads configuration from WARDEN_* environment variables with
// defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_retry_attempts", 5)
	v.SetDefault("retry_backoff_base_ms", 1000)
	v.SetDefault("circuit_threshold", 5)
	v.SetDefault("circuit_reset_ms", 60000)
	v.SetDefault("agent_inactivity_window_ms", 300000)
	v.SetDefault("self_heal_enabled", true)
	v.SetDefault("auto_sync_enabled", true)
	v.SetDefault("self_check_interval_ms", 60000)
	v.SetDefault("dispatch_timeout_ms", 10000)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("listen_addr", ":8787")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("fleet_file", "")

	cfg := &Config{
		MaxRetryAttempts:      v.GetInt("max_retry_attempts"),
		RetryBackoffBase:      time.Duration(v.GetInt("retry_backoff_base_ms")) * time.Millisecond,
		CircuitThreshold:      v.GetInt("circuit_threshold"),
		CircuitResetWindow:    time.Duration(v.GetInt("circuit_reset_ms")) * time.Millisecond,
		AgentInactivityWindow: time.Duration(v.GetInt("agent_inactivity_window_ms")) * time.Millisecond,
		SelfHealEnabled:       v.GetBool("self_heal_enabled"),
		AutoSyncEnabled:       v.GetBool("auto_sync_enabled"),
		SelfCheckInterval:     time.Duration(v.GetInt("self_check_interval_ms")) * time.Millisecond,
		DispatchTimeout:       time.Duration(v.GetInt("dispatch_timeout_ms")) * time.Millisecond,
		DataDir:               v.GetString("data_dir"),
		ListenAddr:            v.GetString("listen_addr"),
		LogLevel:              v.GetString("log_level"),
		LogJSON:               v.GetBool("log_json"),
		FleetFile:             v.GetString("fleet_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts must be >= 0, got %d", c.MaxRetryAttempts)
	}
	if c.CircuitThreshold < 1 {
		return fmt.Errorf("circuit_threshold must be >= 1, got %d", c.CircuitThreshold)
	}
	if c.RetryBackoffBase <= 0 {
		return fmt.Errorf("retry_backoff_base_ms must be > 0")
	}
	if c.CircuitResetWindow <= 0 {
		return fmt.Errorf("circuit_reset_ms must be > 0")
	}
	return nil
}

// FleetProbe declares one dependency probe in the fleet file
type FleetProbe struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // http, tcp, store
	Target  string `yaml:"target,omitempty"`
	WarnMs  int    `yaml:"warn_ms,omitempty"`
	Timeout int    `yaml:"timeout_ms,omitempty"`
}

// FleetAgent declares one managed agent in the fleet file
type FleetAgent struct {
	Name        string `yaml:"name"`
	Triggerable bool   `yaml:"triggerable"`
}

// Fleet is the optional YAML topology: the fixed agent registry and the
// dependency probes the coordinator checks.
type Fleet struct {
	Agents []FleetAgent `yaml:"agents"`
	Probes []FleetProbe `yaml:"probes"`
}

// DefaultFleet is used when no fleet file is configured
func DefaultFleet() *Fleet {
	return &Fleet{
		Agents: []FleetAgent{
			{Name: "repo-scraper", Triggerable: true},
			{Name: "task-scheduler", Triggerable: true},
			{Name: "self-healer", Triggerable: true},
			{Name: "media-publisher", Triggerable: false},
		},
		Probes: []FleetProbe{
			{Name: "kv-namespace", Type: "store"},
			{Name: "d1-database", Type: "store"},
		},
	}
}

// LoadFleet reads the fleet topology file, or returns DefaultFleet when
// path is empty.
func LoadFleet(path string) (*Fleet, error) {
	if path == "" {
		return DefaultFleet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var fleet Fleet
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}
	if len(fleet.Agents) == 0 {
		return nil, fmt.Errorf("fleet file %s declares no agents", path)
	}
	return &fleet, nil
}
