package cmd

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/xerohost/xerohost-agent/internal/reconcile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reconciliation status",
	Long:  "Connect to the running agent via Unix socket and display the loop state and last pass.",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var st reconcile.Status
	if err := socketGetJSON(socketPath, "/v1/status", &st); err != nil {
		return fmt.Errorf("xerohost-agent status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st reconcile.Status) {
	fmt.Fprintf(w, "Node:     %s\n", st.NodeID)
	fmt.Fprintf(w, "State:    %s\n", st.State)
	fmt.Fprintf(w, "Interval: %s\n", st.Interval)
	fmt.Fprintf(w, "Passes:   %d (skipped ticks: %d)\n", st.Passes, st.Skipped)

	outcomes := make([]string, 0, len(st.Outcomes))
	for o := range st.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	slices.Sort(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-13s %d\n", o+":", st.Outcomes[reconcile.Outcome(o)])
	}

	if st.LastSuccess.IsZero() {
		fmt.Fprintln(w, "Last success: never")
	} else {
		fmt.Fprintf(w, "Last success: %s\n", st.LastSuccess.Format(time.RFC3339))
	}

	if st.LastPass == nil {
		return
	}
	fmt.Fprintf(w, "\nLast pass (%s):\n", st.LastPass.StartedAt.Format(time.RFC3339))
	printPassReport(w, *st.LastPass)
}
