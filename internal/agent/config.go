package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xerohost/xerohost-agent/internal/api"
	"github.com/xerohost/xerohost-agent/internal/firewall"
	"github.com/xerohost/xerohost-agent/internal/metrics"
	"github.com/xerohost/xerohost-agent/internal/nodeapi"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

const (
	// DefaultConfigPath is where the agent looks for its config file.
	DefaultConfigPath = "/etc/xerohost/agent.yaml"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"
)

// Environment variables read by LoadConfig. They override the config file.
const (
	EnvPanelURL       = "PANEL_URL"
	EnvNodeID         = "NODE_ID"
	EnvAPIToken       = "API_TOKEN"
	EnvPollIntervalMS = "POLL_INTERVAL_MS"
)

// AgentConfig is the top-level configuration for the agent.
// It aggregates all subsystem configurations and is populated from
// a YAML file, the environment and command-line flags, in that order.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// NodeID identifies this node to the control plane (required).
	NodeID string `yaml:"node_id"`

	API       api.Config       `yaml:"api"`
	Reconcile reconcile.Config `yaml:"reconcile"`
	Firewall  firewall.Config  `yaml:"firewall"`
	NodeAPI   nodeapi.Config   `yaml:"node_api"`
	Metrics   metrics.Config   `yaml:"metrics"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.API.ApplyDefaults()
	c.Reconcile.ApplyDefaults()
	c.Firewall.ApplyDefaults()
	c.NodeAPI.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
// Every failure is a *ConfigError.
func (c *AgentConfig) Validate() error {
	var missing []string
	if c.API.BaseURL == "" {
		missing = append(missing, "api.base_url ("+EnvPanelURL+")")
	}
	if c.NodeID == "" {
		missing = append(missing, "node_id ("+EnvNodeID+")")
	}
	if c.API.Token == "" {
		missing = append(missing, "api.token ("+EnvAPIToken+")")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Key: "log_level", Value: c.LogLevel,
			Err: errors.New("must be debug, info, warn or error")}
	}

	for _, v := range []interface{ Validate() error }{
		&c.API, &c.Reconcile, &c.Firewall, &c.NodeAPI, &c.Metrics,
	} {
		if err := v.Validate(); err != nil {
			return &ConfigError{Err: err}
		}
	}
	return nil
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// When optional is true a missing file yields an empty config instead of
// an error. Defaults are not applied.
func ParseConfig(path string, optional bool) (*AgentConfig, error) {
	var cfg AgentConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	return &cfg, nil
}

// ApplyEnv overlays the process environment onto c. Unset or empty
// variables leave the existing value untouched.
func (c *AgentConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return v
	}

	if v := get(EnvPanelURL); v != "" {
		c.API.BaseURL = v
	}
	if v := get(EnvNodeID); v != "" {
		c.NodeID = v
	}
	if v := get(EnvAPIToken); v != "" {
		c.API.Token = v
	}
	if v := get(EnvPollIntervalMS); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Key: EnvPollIntervalMS, Value: v, Err: err}
		}
		if ms <= 0 {
			return &ConfigError{Key: EnvPollIntervalMS, Value: v, Err: errors.New("must be positive")}
		}
		interval := time.Duration(ms) * time.Millisecond
		if interval < reconcile.MinInterval {
			return &ConfigError{Key: EnvPollIntervalMS, Value: v, Err: fmt.Errorf(
				"must be at least %d (%s minimum interval)", reconcile.MinInterval.Milliseconds(), reconcile.MinInterval)}
		}
		c.Reconcile.Interval = interval
	}
	return nil
}

// LoadConfig reads the config file at path and overlays the environment.
// A missing file is tolerated when optional is true. The caller applies
// flag overrides, then ApplyDefaults and Validate.
func LoadConfig(path string, optional bool, lookup func(string) (string, bool)) (*AgentConfig, error) {
	cfg, err := ParseConfig(path, optional)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}
