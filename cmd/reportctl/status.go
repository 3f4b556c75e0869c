package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/internal/transport"
)

func newStatusCommand() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := transport.NewHTTPClient(serverURL)
			health, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			meta, err := client.Meta(cmd.Context())
			if err != nil {
				return fmt.Errorf("meta: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "service:     %s (as of %s)\n", health.Service, time.Unix(health.TS, 0).Format(time.RFC3339))
			fmt.Fprintf(out, "engine busy: %t\n", health.EngineBusy)
			fmt.Fprintf(out, "reports:     %d\n", meta.ReportsCount)
			if meta.Schedule.Enabled {
				fmt.Fprintf(out, "schedule:    %s %s (%s)\n", meta.Schedule.Cron, meta.Schedule.Timezone, meta.Schedule.ReportType)
			} else {
				fmt.Fprintln(out, "schedule:    disabled")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8443", "service base URL")
	return cmd
}
