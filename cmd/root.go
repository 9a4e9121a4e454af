// Package cmd defines and implements the CLI commands for the bidharvest
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/app"
	"github.com/JakeFAU/bidboard-harvester/internal/config"
	"github.com/JakeFAU/bidboard-harvester/internal/logging"
)

// appKeyType is the key for storing the appHolder in the context.
type appKeyType string

const appKey appKeyType = "app"

// appHolder carries the App built by the pre-run hook back to the caller of
// executeContext, which closes it after the command returns. Cobra skips
// post-run hooks when RunE fails, so closing there would leak the lock.
type appHolder struct {
	app *app.App
}

func (h *appHolder) close() {
	if h.app != nil {
		h.app.Close()
		h.app = nil
	}
}

type rootFlags struct {
	cfgFile  string
	logLevel string
	dev      bool
}

// newApp is the application factory. It's a variable so tests can swap the
// clock or skip exporters.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts)
}

// exclusiveAnnotation marks commands that mutate the data directory.
const exclusiveAnnotation = "exclusive"

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "bidharvest",
		Short: "Harvests construction bid opportunities into numbered project folders.",
		Long: `bidharvest logs into a bid-board portal, discovers the opportunities waiting
in the Undecided tab, and stores each project's metadata and document archive in a
sequence-numbered folder. A pending queue and a completion ledger on disk make every
run resumable and idempotent.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the App after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			holder, ok := cmd.Context().Value(appKey).(*appHolder)
			if !ok {
				return errors.New("command context has no application holder")
			}
			appInstance, err := bootstrap(cmd, flags)
			if err != nil {
				return err
			}
			holder.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is ./bidharvest.yaml or $HOME/.bidharvest/bidharvest.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.dev, "dev", false, "force the development console logger")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReconcileCmd())

	return cmd
}

func bootstrap(cmd *cobra.Command, flags *rootFlags) (*app.App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.dev {
		cfg.Logging.Development = true
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	opts := app.Options{Exclusive: cmd.Annotations[exclusiveAnnotation] == "true"}
	appInstance, err := newApp(cmd.Context(), cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return appInstance, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}

// executeContext runs root and closes the App on every path, including
// commands that return an error.
func executeContext(ctx context.Context, root *cobra.Command) error {
	holder := &appHolder{}
	defer holder.close()
	return root.ExecuteContext(context.WithValue(ctx, appKey, holder))
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; the workflow finishes the project in flight before returning.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := executeContext(ctx, newRootCmd())
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
