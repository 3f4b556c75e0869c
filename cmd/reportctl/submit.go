package main

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/transport"
	"github.com/izavyalov-dev/reportd/protocol"
)

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		serverURL string
		userID    int64
		kind      string
		year      int
		week      int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Request a report from a running service on behalf of a user",
		Long: `Sign a mini-app payload with the bot token and post it to /api/generate.

The request passes the same admission checks as the mini-app, and the report
is delivered to the user's chat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.BotToken == "" {
				return errors.New("TELEGRAM_BOT_TOKEN required to sign the request")
			}
			fields := url.Values{}
			fields.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
			fields.Set("user", fmt.Sprintf(`{"id":%d}`, userID))

			resp, err := transport.NewHTTPClient(serverURL).Generate(cmd.Context(), protocol.GenerateRequest{
				InitData:   admission.SignInitData(cfg.BotToken, fields),
				ReportType: kind,
				Year:       protocol.FlexInt(year),
				Week:       protocol.FlexInt(week),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (run %s)\n", resp.Message, resp.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8443", "service base URL")
	cmd.Flags().Int64Var(&userID, "user", 0, "chat user id to deliver to")
	cmd.Flags().StringVar(&kind, "kind", "bericht", "report kind")
	cmd.Flags().IntVar(&year, "year", 0, "ISO year")
	cmd.Flags().IntVar(&week, "week", 0, "ISO week")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}
