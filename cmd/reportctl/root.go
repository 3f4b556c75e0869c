package main

import (
	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/internal/config"
)

type rootOptions struct {
	databaseURL string
	source      string
	engineKind  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "reportctl",
		Short:         "Maintenance tool for the report service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "ledger DSN (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.source, "source", "", "source document (defaults to EXCEL_FILE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.engineKind, "engine", "", "engine kind: com or simulated (defaults to ENGINE_KIND)")

	cmd.AddCommand(
		newRunCommand(opts),
		newPreflightCommand(opts),
		newSweepCommand(opts),
		newHistoryCommand(opts),
		newStatusCommand(),
		newSubmitCommand(opts),
		newUsersCommand(opts),
	)
	return cmd
}

// load reads the environment and applies persistent flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.source != "" {
		cfg.SourcePath = o.source
	}
	if o.engineKind != "" {
		cfg.EngineKind = o.engineKind
	}
	return cfg, nil
}
