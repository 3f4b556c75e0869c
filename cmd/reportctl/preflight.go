package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/internal/app"
)

func newPreflightCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the deployment without starting the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			checks := app.Preflight(cmd.Context(), cfg)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range checks {
				status := "ok"
				if !c.OK {
					status = "FAIL"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", status, c.Name, c.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !app.Passed(checks) {
				return errors.New("preflight failed")
			}
			return nil
		},
	}
}
