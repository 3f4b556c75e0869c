package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/engine"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/lock"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Terminate hidden or hung engine processes",
		Long: `Terminate engine processes left behind by crashed sessions.

The sweep takes the engine seat first so it never kills a live session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger("reportctl")
			layer := lock.NewLayer(lock.Config{Path: cfg.LockPath, Timeout: cfg.LockTimeout}, logger)
			token, err := layer.Acquire(cmd.Context())
			if err != nil {
				return fmt.Errorf("engine seat: %w", err)
			}
			defer token.Release()

			if err := engine.DefaultSweeper(logger).Sweep(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep complete")
			return nil
		},
	}
}
