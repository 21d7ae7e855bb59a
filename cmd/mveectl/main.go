// Command mveectl drives the replication agent against a
// monitor.Mock from a TOML scenario file, for manual diagnosis of a
// replay discipline outside of a real MVEE-controlled process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "mveectl",
		Short: "Diagnostic driver for the replication agent's sync-ring replay disciplines",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	run := &cobra.Command{
		Use:   "run <scenario.toml>",
		Short: "replay a scenario file's op trace across simulated variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := loadScenario(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runScenario(ctx, s, log)
		},
	}
	root.AddCommand(run)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
