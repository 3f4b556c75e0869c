package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/app"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/state"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		kind   string
		year   int
		week   int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate one report locally",
		Long: `Generate one report through the full pipeline on this host.

The run waits for the engine seat like any other request, so it is safe to
use while the service is running. Delivered files are copied to --out.`,
		Example: `  reportctl run --year 2026 --week 6 --out ./reports`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, observability.NewLogger("reportctl"), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.Service.Generate(cmd.Context(), admission.Request{
				Kind:    kind,
				Year:    year,
				Week:    week,
				Channel: admission.ChannelScheduled,
			}, dirChannel{dir: outDir, out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			if outcome.State != state.RunStateDone {
				return fmt.Errorf("run %s failed (%s): %w", outcome.RunID, outcome.Cause, outcome.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s done after %d attempt(s)\n", outcome.RunID, outcome.Attempts)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "bericht", "report kind")
	cmd.Flags().IntVar(&year, "year", 0, "ISO year")
	cmd.Flags().IntVar(&week, "week", 0, "ISO week")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for delivered files")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

// dirChannel prints status lines and copies delivered documents into dir.
type dirChannel struct {
	dir string
	out io.Writer
}

func (c dirChannel) SendStatus(_ context.Context, text string) error {
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c dirChannel) SendDocument(_ context.Context, path string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	target := filepath.Join(c.dir, filepath.Base(path))
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "saved %s\n", target)
	return nil
}
