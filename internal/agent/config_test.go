package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xerohost/xerohost-agent/internal/firewall"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestAgentConfig_ApplyDefaults(t *testing.T) {
	var cfg AgentConfig
	cfg.ApplyDefaults()

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.Reconcile.Interval != reconcile.DefaultInterval {
		t.Errorf("Reconcile.Interval = %v, want %v", cfg.Reconcile.Interval, reconcile.DefaultInterval)
	}
	if cfg.Firewall.Backend != firewall.BackendIpset {
		t.Errorf("Firewall.Backend = %q, want %q", cfg.Firewall.Backend, firewall.BackendIpset)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestAgentConfig_ValidateReportsAllMissing(t *testing.T) {
	var cfg AgentConfig
	cfg.ApplyDefaults()

	err := cfg.Validate()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Validate() = %v, want *ConfigError", err)
	}
	if len(ce.Missing) != 3 {
		t.Fatalf("Missing = %v, want 3 keys", ce.Missing)
	}
	for _, env := range []string{EnvPanelURL, EnvNodeID, EnvAPIToken} {
		if !strings.Contains(err.Error(), env) {
			t.Errorf("error %q does not name %s", err, env)
		}
	}
}

func TestAgentConfig_ValidateInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"

	var ce *ConfigError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Key != "log_level" {
		t.Fatalf("Validate() = %v, want log_level ConfigError", err)
	}
}

func TestAgentConfig_ValidateWrapsSubsystemErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Firewall.Backend = "pf"

	err := cfg.Validate()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Validate() = %v, want *ConfigError", err)
	}
	if !strings.Contains(err.Error(), "firewall: config: invalid backend") {
		t.Errorf("error = %q", err)
	}
}

func TestParseConfig_ValidYAML(t *testing.T) {
	yaml := `
log_level: debug
node_id: node-7
api:
  base_url: "https://panel.example.com"
  token: secret
reconcile:
  interval: 45s
firewall:
  backend: nftables
  table: blocklist
node_api:
  socket_path: /tmp/agent.sock
metrics:
  enabled: true
  listen: 127.0.0.1:9200
`
	cfg, err := ParseConfig(writeTemp(t, yaml), false)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.NodeID != "node-7" {
		t.Errorf("LogLevel/NodeID = %q/%q", cfg.LogLevel, cfg.NodeID)
	}
	if cfg.API.BaseURL != "https://panel.example.com" || cfg.API.Token != "secret" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Reconcile.Interval != 45*time.Second {
		t.Errorf("Interval = %v, want 45s", cfg.Reconcile.Interval)
	}
	if cfg.Firewall.Backend != firewall.BackendNftables || cfg.Firewall.Table != "blocklist" {
		t.Errorf("Firewall = %+v", cfg.Firewall)
	}
	if cfg.NodeAPI.SocketPath != "/tmp/agent.sock" {
		t.Errorf("NodeAPI.SocketPath = %q", cfg.NodeAPI.SocketPath)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9200" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestParseConfig_MissingOptionalFile(t *testing.T) {
	cfg, err := ParseConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.NodeID != "" || cfg.API.BaseURL != "" {
		t.Errorf("cfg = %+v, want empty", cfg)
	}
}

func TestParseConfig_FileNotFound(t *testing.T) {
	_, err := ParseConfig("/nonexistent/path/config.yaml", false)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("ParseConfig() = %v, want *ConfigError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error does not wrap os.ErrNotExist: %v", err)
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	_, err := ParseConfig(writeTemp(t, "{{invalid yaml"), false)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	cfg, err := LoadConfig(writeTemp(t, `
node_id: from-file
api:
  base_url: https://file.example.com
  token: file-token
`), false, envMap(map[string]string{
		EnvPanelURL:       "https://env.example.com",
		EnvNodeID:         "from-env",
		EnvAPIToken:       "env-token",
		EnvPollIntervalMS: "1500",
	}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.NodeID != "from-env" || cfg.API.Token != "env-token" {
		t.Errorf("NodeID/Token = %q/%q", cfg.NodeID, cfg.API.Token)
	}
	if cfg.Reconcile.Interval != 1500*time.Millisecond {
		t.Errorf("Interval = %v, want 1.5s", cfg.Reconcile.Interval)
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := AgentConfig{NodeID: "keep"}
	if err := cfg.ApplyEnv(envMap(map[string]string{EnvNodeID: ""})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.NodeID != "keep" {
		t.Errorf("NodeID = %q, want keep", cfg.NodeID)
	}
}

func TestApplyEnv_InvalidPollInterval(t *testing.T) {
	tests := []string{"abc", "30s", "0", "-5"}
	for _, v := range tests {
		t.Run(v, func(t *testing.T) {
			var cfg AgentConfig
			err := cfg.ApplyEnv(envMap(map[string]string{EnvPollIntervalMS: v}))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("ApplyEnv() = %v, want *ConfigError", err)
			}
			if ce.Key != EnvPollIntervalMS || ce.Value != v {
				t.Errorf("ConfigError = %+v", ce)
			}
		})
	}
}

func TestLoadConfig_SubSecondIntervalRejected(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"), true, envMap(map[string]string{
		EnvPanelURL:       "https://panel.example.com",
		EnvNodeID:         "n1",
		EnvAPIToken:       "t",
		EnvPollIntervalMS: "500",
	}))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("LoadConfig() = %v, want *ConfigError", err)
	}
	if ce.Key != EnvPollIntervalMS || ce.Value != "500" {
		t.Errorf("ConfigError = %+v", ce)
	}
	if msg := err.Error(); !strings.Contains(msg, "at least 1000") || !strings.Contains(msg, "1s") {
		t.Errorf("error %q does not name the 1s floor", msg)
	}
}

func TestApplyEnv_MinimumIntervalAccepted(t *testing.T) {
	var cfg AgentConfig
	if err := cfg.ApplyEnv(envMap(map[string]string{EnvPollIntervalMS: "1000"})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Reconcile.Interval != reconcile.MinInterval {
		t.Errorf("Interval = %v, want %v", cfg.Reconcile.Interval, reconcile.MinInterval)
	}
}

// validConfig returns an AgentConfig that passes Validate after ApplyDefaults.
func validConfig() AgentConfig {
	var cfg AgentConfig
	cfg.API.BaseURL = "https://panel.example.com"
	cfg.API.Token = "token"
	cfg.NodeID = "node-1"
	cfg.ApplyDefaults()
	return cfg
}

// writeTemp writes content to a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
