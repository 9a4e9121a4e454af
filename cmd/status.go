package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the 'status' subcommand. It reads the queue and the
// ledger without taking the data directory lock.
func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending projects and the most recent completions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pending := appInstance.Pending().Entries()
			records := appInstance.Ledger().Records()

			fmt.Fprintf(out, "Pending: %d\n", len(pending))
			if len(pending) > 0 {
				fmt.Fprintln(out, pendingTable(pending))
			}
			fmt.Fprintf(out, "Completed: %d (next folder number %d, %d reserved)\n",
				len(records), appInstance.Allocator().NextSequence(), appInstance.Allocator().Outstanding())
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}
			if len(records) > 0 {
				fmt.Fprintln(out, ledgerTable(records))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent completions to list (0 lists all)")
	return cmd
}
