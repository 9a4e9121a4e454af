package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newReconcileCmd creates the 'reconcile' subcommand. It drops queue entries
// the ledger already records and prunes settled storage reservations.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "reconcile",
		Short:       "Repair the pending queue and allocation journal against the ledger",
		Annotations: map[string]string{exclusiveAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ledger := appInstance.Ledger()
			more, err := appInstance.Pending().Reconcile(ledger)
			if err != nil {
				return fmt.Errorf("reconcile pending queue: %w", err)
			}
			healed := append(slices.Clone(appInstance.Healed()), more...)
			pruned, err := appInstance.Allocator().Prune(ledger)
			if err != nil {
				return fmt.Errorf("prune allocation journal: %w", err)
			}
			for _, id := range healed {
				appInstance.Logger().Debug("removed completed project from queue", zap.String("identifier", id.String()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed projects from the queue, pruned %d reservations. %d pending.\n",
				len(healed), pruned, appInstance.Pending().Len())
			return nil
		},
	}
}
