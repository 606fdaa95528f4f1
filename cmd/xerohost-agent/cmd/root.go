// Package cmd implements the xerohost-agent CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xerohost/xerohost-agent/internal/agent"
	"github.com/xerohost/xerohost-agent/internal/nodeapi"
)

var (
	cfgFile    string
	logLevel   string
	apiURL     string
	nodeID     string
	backend    string
	socketPath string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("xerohost-agent version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "xerohost-agent",
	Short: "xerohost-agent is the XeroHost firewall node agent",
	Long: "xerohost-agent runs on every XeroHost node. It pulls the node's blocked\n" +
		"addresses from the control plane and keeps the kernel's block sets and\n" +
		"FORWARD drop rules converged with them.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", agent.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "control plane URL (overrides config and PANEL_URL)")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "", "node identifier (overrides config and NODE_ID)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "firewall backend: ipset or nftables (overrides config)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", nodeapi.DefaultSocketPath, "status socket of the running agent")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("xerohost-agent version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the effective configuration from the config file, the
// environment and the persistent flags. A missing file is only an error when
// --config was given explicitly.
func loadConfig(cmd *cobra.Command) (*agent.AgentConfig, error) {
	optional := !cmd.Flags().Changed("config")
	cfg, err := agent.LoadConfig(cfgFile, optional, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if backend != "" {
		cfg.Firewall.Backend = backend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
