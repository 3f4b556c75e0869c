package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"github.com/izavyalov-dev/reportd/internal/app"
	"github.com/izavyalov-dev/reportd/internal/config"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/orchestrator"
	"github.com/izavyalov-dev/reportd/protocol"
	"github.com/izavyalov-dev/reportd/telegram"
)

const shutdownGrace = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "reportd failed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("reportd", flag.ExitOnError)
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address")
	flags.StringVar(&cfg.SourcePath, "source", cfg.SourcePath, "Source document path")
	flags.StringVar(&cfg.EngineKind, "engine", cfg.EngineKind, "Engine kind (com or simulated)")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Ledger DSN (postgres://... or sqlite:<path>)")
	flags.StringVar(&cfg.ReportsFile, "reports", cfg.ReportsFile, "Report registry YAML file")
	flags.BoolVar(&cfg.Schedule.Enabled, "schedule", cfg.Schedule.Enabled, "Enable the scheduled report")
	_ = flags.Parse(args)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger("reportd")
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	var bot *telegram.Bot
	if cfg.BotToken != "" {
		bot, err = telegram.New(telegram.Config{
			Token:       cfg.BotToken,
			WebAppURL:   cfg.WebAppURL,
			DefaultKind: cfg.Schedule.Kind,
		}, a.Service, a.Registry, logger.With("component", "telegram"))
		if err != nil {
			return err
		}
		a.Service.SetChannels(bot.Channel)
	} else {
		logger.Warn("no bot token, chat delivery disabled", "event", "bot_disabled")
	}

	var scheduler *orchestrator.Scheduler
	if cfg.Schedule.Enabled && bot != nil {
		scheduler, err = orchestrator.NewScheduler(orchestrator.SchedulerConfig{
			Cron:       cfg.Schedule.Cron,
			Timezone:   cfg.Schedule.Timezone,
			Kind:       cfg.Schedule.Kind,
			Recipients: cfg.Schedule.Recipients,
		}, a.Service, a.Whitelist, bot.Channel, logger.With("component", "orchestrator.scheduler"))
		if err != nil {
			return err
		}
	}

	handler := orchestrator.NewHTTPHandler(a.Service, orchestrator.HTTPConfig{
		ServiceName: "reportd",
		Registry:    a.Registry,
		Metrics:     a.Metrics,
		Schedule: protocol.ScheduleMeta{
			Enabled:    scheduler != nil,
			Cron:       cfg.Schedule.Cron,
			Timezone:   cfg.Schedule.Timezone,
			ReportType: cfg.Schedule.Kind,
		},
	}, logger.With("component", "orchestrator.http"))
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", "event", "server_started", "addr", cfg.Listen, "engine", cfg.EngineKind)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bot != nil {
		g.Go(func() error {
			bot.Start(gctx)
			return nil
		})
	}
	if scheduler != nil {
		scheduler.Start(gctx)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "event", "shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if scheduler != nil {
			scheduler.Stop()
		}
		_ = server.Shutdown(shutdownCtx)
		if err := a.Service.Shutdown(shutdownCtx); err != nil {
			logger.Warn("in-flight runs canceled", "event", "shutdown_incomplete", "error", err)
		}
		return nil
	})
	return g.Wait()
}
