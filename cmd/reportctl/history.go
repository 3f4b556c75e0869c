package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/state"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the ledger",
		Example: `  reportctl history --limit 10
  reportctl history --run run_3f0c...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database-url or DATABASE_URL required")
			}
			store, err := state.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.ApplyMigrations(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if runID != "" {
				attempts, err := store.ListAttempts(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ATTEMPT\tOUTCOME\tDURATION\tERROR")
				for _, a := range attempts {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.Number, a.Outcome, a.FinishedAt.Sub(a.StartedAt).Round(time.Millisecond), a.Error)
				}
				return w.Flush()
			}

			runs, err := store.ListRecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN\tKIND\tPERIOD\tCHANNEL\tSTATE\tCAUSE\tATTEMPTS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d-W%02d\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Kind, r.Year, r.Week, r.Channel, r.State, r.Cause, r.Attempts, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the attempts of one run")
	return cmd
}
