// Command reconcilerd runs reconciliation passes over a staging store until
// it receives SIGINT or SIGTERM.
//
// Usage:
//
//	reconcilerd run --config /etc/pupstream/reconcilerd.yaml
//	PUPSTREAM_DATABASE_DSN=postgres://... reconcilerd run
//	reconcilerd check --config reconcilerd.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/internal/config"
	"github.com/getpup/pupstream/internal/daemon"
	pupstream "github.com/getpup/pupstream/pkg"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "reconcilerd",
		Short:        "Publishes or discards staged batches left behind by crashed publishers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML, TOML or JSON config file")

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the reconciliation scheduler",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := es.NewSlogLogger(daemon.NewLogger(cfg.Log, os.Stderr))
			if err := daemon.Run(ctx, cfg, logger); err != nil {
				logger.Error(context.Background(), "reconcilerd failed", "error", err)
				return err
			}
			logger.Info(context.Background(), "reconcilerd stopped")
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: database=%s staging=%s bus=%s\n",
				cfg.Database.Driver, cfg.Staging.Backend, cfg.Bus.Kind)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), pupstream.Version())
		},
	}

	root.AddCommand(runCmd, checkCmd, versionCmd)
	return root
}
