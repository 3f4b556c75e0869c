package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/observability"
)

// ErrNoRecipients means a scheduled run had nobody to deliver to.
var ErrNoRecipients = errors.New("no schedule recipients")

type SchedulerConfig struct {
	Cron     string
	Timezone string
	Kind     string
	// Recipients overrides the whitelist as the delivery list.
	Recipients []int64
}

// Scheduler triggers one report per cron tick for the ISO week of the tick.
type Scheduler struct {
	cfg       SchedulerConfig
	loc       *time.Location
	cron      *cron.Cron
	service   *Service
	whitelist *admission.Whitelist
	channels  ChannelFactory
	now       func() time.Time
	logger    *slog.Logger

	runCtx context.Context
}

// ValidateSchedule checks a 5-field cron expression and timezone name.
func ValidateSchedule(spec, timezone string) (*time.Location, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", timezone, err)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule cron %q: %w", spec, err)
	}
	return loc, nil
}

func NewScheduler(cfg SchedulerConfig, service *Service, whitelist *admission.Whitelist, channels ChannelFactory, logger *slog.Logger) (*Scheduler, error) {
	loc, err := ValidateSchedule(cfg.Cron, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("orchestrator.scheduler")
	}
	s := &Scheduler{
		cfg:       cfg,
		loc:       loc,
		service:   service,
		whitelist: whitelist,
		channels:  channels,
		now:       time.Now,
		logger:    logger,
		runCtx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(cfg.Cron, func() {
		if _, err := s.Trigger(s.runCtx); err != nil {
			s.logger.Error("scheduled report failed", "event", "schedule_failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule cron %q: %w", cfg.Cron, err)
	}
	return s, nil
}

// Start runs the cron in the background. Scheduled runs are canceled with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCtx = ctx
	s.logger.Info("scheduler started", "event", "schedule_started", "cron", s.cfg.Cron, "timezone", s.loc.String(), "kind", s.cfg.Kind)
	s.cron.Start()
}

// Stop halts the cron and returns a context done when a running trigger ends.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the next trigger time after the current one.
func (s *Scheduler) Next() time.Time {
	sched, err := cron.ParseStandard(s.cfg.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now().In(s.loc))
}

// Trigger runs one scheduled generation for the current ISO week and fans
// the result out to every recipient.
func (s *Scheduler) Trigger(ctx context.Context) (Outcome, error) {
	recipients := s.recipients(ctx)
	if len(recipients) == 0 {
		return Outcome{}, ErrNoRecipients
	}
	if s.channels == nil {
		return Outcome{}, ErrNotReady
	}
	year, week := ISOWeekIn(s.now(), s.loc)
	multi := MultiChannel{Logger: s.logger}
	for _, id := range recipients {
		multi.Channels = append(multi.Channels, s.channels(id))
	}
	s.logger.Info("scheduled report triggered", "event", "schedule_triggered", "kind", s.cfg.Kind, "year", year, "week", week, "recipients", len(recipients))
	return s.service.Generate(ctx, admission.Request{
		Kind:    s.cfg.Kind,
		Year:    year,
		Week:    week,
		Channel: admission.ChannelScheduled,
	}, multi)
}

func (s *Scheduler) recipients(ctx context.Context) []int64 {
	if len(s.cfg.Recipients) > 0 {
		return s.cfg.Recipients
	}
	if s.whitelist == nil {
		return nil
	}
	return s.whitelist.IDs(ctx)
}

// ISOWeekIn returns the ISO year and week of t in loc.
func ISOWeekIn(t time.Time, loc *time.Location) (int, int) {
	return t.In(loc).ISOWeek()
}
