package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xerohost/xerohost-agent/internal/nodeapi"
)

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List the managed block sets",
	Long:  "Connect to the running agent via Unix socket and list the four block sets with last-pass counts.",
	RunE:  runSets,
}

func init() {
	rootCmd.AddCommand(setsCmd)
}

func runSets(cmd *cobra.Command, _ []string) error {
	var sets []nodeapi.SetSummary
	if err := socketGetJSON(socketPath, "/v1/sets", &sets); err != nil {
		return fmt.Errorf("xerohost-agent sets: %w", err)
	}
	printSets(cmd.OutOrStdout(), sets)
	return nil
}

func printSets(w io.Writer, sets []nodeapi.SetSummary) {
	rows := make([][]string, 0, len(sets))
	for _, s := range sets {
		note := ""
		switch {
		case s.EnsureError != "":
			note = "ensure failed: " + s.EnsureError
		case s.QueryFailed:
			note = "list failed"
		}
		rows = append(rows, []string{
			s.Name,
			s.Family,
			s.Scope,
			strconv.Itoa(s.Desired),
			strconv.Itoa(s.Added),
			strconv.Itoa(s.Removed),
			strconv.Itoa(s.Failed),
			note,
		})
	}
	renderTable(w, []string{"Name", "Family", "Scope", "Desired", "Added", "Removed", "Failed", "Note"}, rows)
}
