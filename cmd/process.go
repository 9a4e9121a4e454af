package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/app"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

type processFlags struct {
	projectID   string
	maxProjects int
	assumeYes   bool
}

func (f *processFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.projectID, "project-id", "", "process this pending project first")
	cmd.Flags().IntVar(&f.maxProjects, "max", 0, "stop after this many projects (overrides workflow.max_projects)")
	cmd.Flags().BoolVarP(&f.assumeYes, "yes", "y", false, "never prompt between projects")
}

// newProcessCmd creates the 'process' subcommand, which works through the
// pending queue one project at a time.
func newProcessCmd() *cobra.Command {
	flags := &processFlags{}
	cmd := &cobra.Command{
		Use:         "process",
		Short:       "Download and store pending projects",
		Annotations: map[string]string{exclusiveAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcess(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// newRunCmd creates the 'run' subcommand: one discovery pass followed by
// processing.
func newRunCmd() *cobra.Command {
	flags := &processFlags{}
	cmd := &cobra.Command{
		Use:         "run",
		Short:       "Discover new opportunities, then process the pending queue",
		Annotations: map[string]string{exclusiveAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := runDiscover(cmd); err != nil {
				// Whatever was queued before the failure is still worth processing.
				fmt.Fprintf(cmd.ErrOrStderr(), "Discovery incomplete: %v\n", err)
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			return runProcess(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runProcess(cmd *cobra.Command, flags *processFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	preferred := bid.Identifier(flags.projectID)
	if preferred != "" && !preferred.Valid() {
		return fmt.Errorf("invalid project id %q", flags.projectID)
	}

	wf, err := appInstance.Workflow(app.WorkflowOptions{
		PreferredID: preferred,
		MaxProjects: flags.maxProjects,
		AssumeYes:   flags.assumeYes,
		In:          os.Stdin,
		Out:         cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	appInstance.StartStatusServer(cmd.Context())

	summary, err := wf.Run(cmd.Context())
	renderSummary(cmd.OutOrStdout(), summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("process pending projects: %w", err)
	}
	appInstance.Logger().Info("process command finished", zap.String("stop_reason", string(summary.StopReason)))
	return nil
}
