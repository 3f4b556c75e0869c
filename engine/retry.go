package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/state"
)

// Session runs one complete engine session for a job.
type Session interface {
	Run(ctx context.Context, job Job) (Outputs, error)
}

// Sweeper terminates lingering or non-responding engine processes.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// NopSweeper is used where no engine processes can linger.
type NopSweeper struct{}

func (NopSweeper) Sweep(context.Context) error { return nil }

// Policy bounds whole-session retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// AttemptReport describes one finished session attempt.
type AttemptReport struct {
	Number     int
	Outcome    state.AttemptOutcome
	Class      Class
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is the outcome of a retry sequence; Attempts is filled on failure too.
type Result struct {
	Outputs  Outputs
	Attempts []AttemptReport
}

// Runner restarts the whole engine session on transient failures.
type Runner struct {
	session Session
	sweeper Sweeper
	policy  Policy
	logger  *slog.Logger
	metrics *observability.Metrics
	sleep   func(context.Context, time.Duration) error
}

func NewRunner(session Session, sweeper Sweeper, policy Policy, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if sweeper == nil {
		sweeper = NopSweeper{}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		session: session,
		sweeper: sweeper,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Run executes the job, sweeping stale engines before every retry. observe,
// when set, is called after each attempt.
func (r *Runner) Run(ctx context.Context, job Job, observe func(AttemptReport)) (Result, error) {
	var result Result
	var last error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		logger := observability.WithAttempt(r.logger, attempt)
		if attempt > 1 {
			if err := r.sweeper.Sweep(ctx); err != nil {
				logger.Warn("sweep engine processes", "event", "sweep_failed", "error", err)
			}
		}

		report := AttemptReport{Number: attempt, StartedAt: time.Now().UTC()}
		outputs, err := r.session.Run(ctx, job)
		report.FinishedAt = time.Now().UTC()

		if err == nil {
			report.Outcome = state.AttemptSuccess
			result.Attempts = append(result.Attempts, report)
			result.Outputs = outputs
			r.metrics.IncAttempt(string(report.Outcome))
			if observe != nil {
				observe(report)
			}
			logger.Info("engine attempt succeeded", "event", "attempt_succeeded", "kind", job.Kind)
			return result, nil
		}

		last = err
		report.Err = err
		report.Class = Classify(err)
		report.Outcome = state.AttemptFatal
		if report.Class.Transient() {
			report.Outcome = state.AttemptTransient
		}
		result.Attempts = append(result.Attempts, report)
		r.metrics.IncAttempt(string(report.Outcome))
		if observe != nil {
			observe(report)
		}
		logger.Warn("engine attempt failed", "event", "attempt_failed", "kind", job.Kind, "class", report.Class.String(), "error", err)

		if !report.Class.Transient() || ctx.Err() != nil {
			return result, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, time.Duration(attempt)*r.policy.BaseDelay); err != nil {
			return result, err
		}
	}

	return result, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, len(result.Attempts), last)
}

// IsExhausted reports whether err ended a retry sequence that ran out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrAttemptsExhausted)
}
