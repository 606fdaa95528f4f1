package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xerohost/xerohost-agent/internal/agent"
	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and exit",
	Long: "Fetch the node's rules once, converge the kernel and print a summary.\n" +
		"Exits non-zero unless every query and mutation succeeded.",
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("xerohost-agent sync: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	a, err := agent.New(*cfg, buildVersion, logger)
	if err != nil {
		return fmt.Errorf("xerohost-agent sync: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	report, err := a.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("xerohost-agent sync: %w", err)
	}
	printPassReport(cmd.OutOrStdout(), report)

	if report.Outcome != reconcile.OutcomeOK {
		return fmt.Errorf("xerohost-agent sync: pass finished with outcome %s", report.Outcome)
	}
	return nil
}

// printPassReport writes a one-line summary and, when the pass reached the
// kernel, a per-set table.
func printPassReport(w io.Writer, p reconcile.PassReport) {
	fmt.Fprintf(w, "Outcome:  %s\n", p.Outcome)
	fmt.Fprintf(w, "Duration: %s\n", p.Duration)
	if p.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", p.Error)
	}
	if len(p.Sets) == 0 {
		return
	}
	fmt.Fprintf(w, "Rules:    %d present, %d appended, %d failed\n\n",
		p.RulesPresent, len(p.RulesAppended), len(p.RulesFailed))

	rows := make([][]string, 0, len(p.Sets))
	for _, s := range p.Sets {
		rows = append(rows, []string{
			s.Set,
			strconv.Itoa(s.Desired),
			strconv.Itoa(s.Added),
			strconv.Itoa(s.Removed),
			strconv.Itoa(s.AddFailed + s.DelFailed),
		})
	}
	renderTable(w, []string{"Set", "Desired", "Added", "Removed", "Failed"}, rows)
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}
