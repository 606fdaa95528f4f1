package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xerohost/xerohost-agent/internal/agent"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the agent daemon",
	Long: "Start the agent daemon. Runs a reconciliation pass immediately and then\n" +
		"on every interval, serves status on the local Unix socket and, when\n" +
		"enabled, Prometheus metrics. SIGHUP triggers an immediate pass.",
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("xerohost-agent up: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting xerohost-agent",
		"version", buildVersion,
		"node_id", cfg.NodeID,
		"backend", cfg.Firewall.Backend,
		"interval", cfg.Reconcile.Interval,
	)

	a, err := agent.New(*cfg, buildVersion, logger)
	if err != nil {
		return fmt.Errorf("xerohost-agent up: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("SIGHUP received, triggering reconcile")
				a.TriggerReconcile()
			}
		}
	}()

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("xerohost-agent up: %w", err)
	}
	logger.Info("xerohost-agent stopped")
	return nil
}
