package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bidboard-harvester/internal/workflow"
)

// newDiscoverCmd creates the 'discover' subcommand, which appends newly seen
// opportunities to the pending queue without processing them.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "discover",
		Short:       "Queue the opportunities currently waiting in the portal",
		Annotations: map[string]string{exclusiveAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runDiscover(cmd)
			return err
		},
	}
}

func runDiscover(cmd *cobra.Command) (workflow.DiscoveryResult, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return workflow.DiscoveryResult{}, err
	}
	res, err := appInstance.Discover(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d projects, %d new, %d pending.\n", res.Found, res.Enqueued, res.Pending)
	if err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}
	return res, nil
}
