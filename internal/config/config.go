// Package config provides configuration management for fleetrun.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	Hosts       string `mapstructure:"hosts"`     // comma-separated host tokens
	HostFile    string `mapstructure:"hostfile"`  // line-oriented host list path
	Inventory   string `mapstructure:"inventory"` // YAML fleet inventory path
	Limit       string `mapstructure:"limit"`     // host subset filter expression
	Domain      string `mapstructure:"domain"`    // default domain for bare names
	User        string `mapstructure:"user"`      // remote SSH user
	Port        int    `mapstructure:"port"`      // remote SSH port

	KeyPrefix    string `mapstructure:"key-prefix"`    // derived key path template (%s)
	KeyOverrides string `mapstructure:"key-overrides"` // hostname|keypath table path
	Secrets      string `mapstructure:"secrets"`       // .secrets file path

	Concurrency    string        `mapstructure:"concurrency"`     // "auto" or number
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"` // per-host dial bound
	RunTimeout     time.Duration `mapstructure:"run-timeout"`     // whole-run bound, 0 = none

	HostKeyPolicy string `mapstructure:"host-key-policy"` // known-hosts, accept-new, insecure
	KnownHosts    string `mapstructure:"known-hosts"`     // known_hosts path override

	SummaryLog   string `mapstructure:"summary-log"`
	DetailLog    string `mapstructure:"detail-log"`
	TruncateLogs bool   `mapstructure:"truncate-logs"`

	ShowProgress bool   `mapstructure:"progress"`
	Quiet        bool   `mapstructure:"quiet"`
	DryRun       bool   `mapstructure:"dry-run"`
	LogLevel     string `mapstructure:"log-level"`
	LogFormat    string `mapstructure:"log-format"`
}

// Manager loads and validates configuration from files, environment, and
// flag overrides.
type Manager interface {
	Load() (*Config, error)
	Validate(config *Config) error
}

type viperManager struct {
	v *viper.Viper
}

// NewManager creates a configuration manager.
func NewManager() Manager {
	return &viperManager{v: viper.New()}
}

func (m *viperManager) setDefaults() {
	m.v.SetDefault("domain", "")
	m.v.SetDefault("user", "")
	m.v.SetDefault("port", 22)
	m.v.SetDefault("concurrency", "1") // sequential, matching reference behavior
	m.v.SetDefault("connect-timeout", 5*time.Second)
	m.v.SetDefault("run-timeout", time.Duration(0))
	m.v.SetDefault("host-key-policy", "accept-new")
	m.v.SetDefault("summary-log", "fleetrun-summary.log")
	m.v.SetDefault("detail-log", "fleetrun-detail.log")
	m.v.SetDefault("truncate-logs", false)
	m.v.SetDefault("progress", false)
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
}

// Load reads configuration from all sources with flag > env > file > default
// precedence (flags are applied by the CLI layer afterwards).
func (m *viperManager) Load() (*Config, error) {
	m.setDefaults()

	m.v.SetConfigName("config")
	m.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		m.v.AddConfigPath(filepath.Join(home, ".config", "fleetrun"))
	}
	m.v.AddConfigPath("/etc/fleetrun/")

	m.v.SetEnvPrefix("FLEETRUN")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	m.v.SetConfigType("yaml")
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := m.Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks value ranges and enumerations.
func (m *viperManager) Validate(config *Config) error {
	if config.Concurrency != "auto" {
		n, err := strconv.Atoi(config.Concurrency)
		if err != nil {
			return fmt.Errorf("invalid concurrency %q: must be 'auto' or a positive integer", config.Concurrency)
		}
		if n < 1 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
	}

	if config.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive, got %v", config.ConnectTimeout)
	}
	if config.RunTimeout < 0 {
		return fmt.Errorf("run-timeout must be non-negative, got %v", config.RunTimeout)
	}
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port %d out of range", config.Port)
	}

	switch config.HostKeyPolicy {
	case "known-hosts", "accept-new", "insecure":
	default:
		return fmt.Errorf("invalid host-key-policy %q: want known-hosts, accept-new, or insecure", config.HostKeyPolicy)
	}

	switch config.LogLevel {
	case "info", "error":
	default:
		return fmt.Errorf("invalid log-level %q: want info or error", config.LogLevel)
	}
	switch config.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q: want text or json", config.LogFormat)
	}

	if config.SummaryLog == "" || config.DetailLog == "" {
		return fmt.Errorf("summary-log and detail-log paths must not be empty")
	}
	return nil
}
