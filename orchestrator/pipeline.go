package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/engine"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/lock"
	"github.com/izavyalov-dev/reportd/registry"
	"github.com/izavyalov-dev/reportd/state"
)

// DefaultPipelineTimeout bounds one run from engine start to the last output read.
const DefaultPipelineTimeout = 1800 * time.Second

// Recorder persists run history. *state.Store satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, run state.Run) error
	TransitionRun(ctx context.Context, id string, next state.RunState, cause state.FailureCause) error
	RecordAttempt(ctx context.Context, attempt state.Attempt) error
}

// NopRecorder discards history.
type NopRecorder struct{}

func (NopRecorder) CreateRun(context.Context, state.Run) error { return nil }
func (NopRecorder) TransitionRun(context.Context, string, state.RunState, state.FailureCause) error {
	return nil
}
func (NopRecorder) RecordAttempt(context.Context, state.Attempt) error { return nil }

// Archiver copies delivered reports to long-term storage.
type Archiver interface {
	ArchiveReport(ctx context.Context, runID, kind string, year, week int, path string) (string, error)
}

// BindingChecker verifies a source document defines the names a report needs.
type BindingChecker interface {
	Check(path string, rep registry.Report) error
}

// Executor runs engine sessions with retries. *engine.Runner satisfies it.
type Executor interface {
	Run(ctx context.Context, job engine.Job, observe func(engine.AttemptReport)) (engine.Result, error)
}

type PipelineConfig struct {
	SourcePath string
	Timeout    time.Duration
}

// Pipeline drives one admitted request through configuring, executing and
// delivering. The engine locks are held only while executing.
type Pipeline struct {
	kinds    admission.Kinds
	bindings BindingChecker
	locks    *lock.Layer
	executor Executor
	recorder Recorder
	archiver Archiver
	cfg      PipelineConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

type PipelineDeps struct {
	Kinds    admission.Kinds
	Bindings BindingChecker
	Locks    *lock.Layer
	Executor Executor
	Recorder Recorder
	Archiver Archiver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

func NewPipeline(cfg PipelineConfig, deps PipelineDeps) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPipelineTimeout
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("orchestrator.pipeline")
	}
	return &Pipeline{
		kinds:    deps.Kinds,
		bindings: deps.Bindings,
		locks:    deps.Locks,
		executor: deps.Executor,
		recorder: deps.Recorder,
		archiver: deps.Archiver,
		cfg:      cfg,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// EngineBusy reports whether any lock level is currently held.
func (p *Pipeline) EngineBusy() bool {
	return p.locks != nil && p.locks.Held().Any()
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	RunID    string
	State    state.RunState
	Cause    state.FailureCause
	Attempts int
	Err      error
}

// Run executes an admitted request. It always ends in DONE or FAILED, with
// locks released and temporary outputs removed.
func (p *Pipeline) Run(ctx context.Context, runID string, req admission.Request, ch Channel) Outcome {
	r := &pipelineRun{
		p:       p,
		id:      runID,
		req:     req,
		ch:      ch,
		current: state.RunStateReceived,
		logger:  observability.WithRequester(observability.WithRun(p.logger, runID), req.RequesterID),
	}
	// History writes outlive a canceled request so the terminal state is recorded.
	r.ledgerCtx = context.WithoutCancel(ctx)
	return r.execute(ctx)
}

type pipelineRun struct {
	p         *Pipeline
	id        string
	req       admission.Request
	ch        Channel
	current   state.RunState
	attempts  int
	logger    *slog.Logger
	ledgerCtx context.Context
	status    string
}

func (r *pipelineRun) execute(ctx context.Context) Outcome {
	p := r.p
	if err := p.recorder.CreateRun(r.ledgerCtx, state.Run{
		ID:          r.id,
		Kind:        r.req.Kind,
		Year:        r.req.Year,
		Week:        r.req.Week,
		RequesterID: r.req.RequesterID,
		Channel:     string(r.req.Channel),
		State:       state.RunStateReceived,
	}); err != nil {
		r.logger.Warn("record run", "event", "ledger_failed", "error", err)
	}
	r.logger.Info("run received", "event", "run_received", "kind", r.req.Kind, "year", r.req.Year, "week", r.req.Week, "channel", string(r.req.Channel))

	r.transition(state.RunStateConfiguring, state.CauseNone)
	rep, err := r.configure()
	if err != nil {
		return r.fail(ctx, nil, err)
	}
	r.sendStatus(ctx, fmt.Sprintf("Generating report... year=%d, week=%d", r.req.Year, r.req.Week))

	token, err := p.locks.Acquire(ctx)
	if err != nil {
		return r.fail(ctx, nil, err)
	}

	r.transition(state.RunStateExecuting, state.CauseNone)
	r.appendStatus(ctx, "Step 2/3: Running macro and exporting...")

	runCtx, cancel := context.WithTimeoutCause(ctx, p.cfg.Timeout, ErrPipelineTimeout)
	result, err := p.executor.Run(runCtx, engine.Job{
		Kind:   r.req.Kind,
		Year:   r.req.Year,
		Week:   r.req.Week,
		Report: rep,
	}, r.observeAttempt)
	token.Release()
	r.attempts = len(result.Attempts)
	defer removeOutputs(r.logger, result.Outputs)
	if err != nil {
		cause := causeFor(err, ctx, runCtx)
		cancel()
		return r.finishFailed(cause, err)
	}
	cancel()

	r.transition(state.RunStateDelivering, state.CauseNone)
	r.appendStatus(ctx, "Step 3/3: Sending PDF...")
	if err := r.deliver(ctx, rep, result.Outputs); err != nil {
		return r.fail(ctx, nil, err)
	}
	r.archive(ctx, result.Outputs)

	r.transition(state.RunStateDone, state.CauseNone)
	r.sendStatus(ctx, "Done.")
	p.metrics.IncPipeline(string(state.RunStateDone))
	r.logger.Info("run finished", "event", "run_done", "attempts", r.attempts)
	return Outcome{RunID: r.id, State: state.RunStateDone, Attempts: r.attempts}
}

func (r *pipelineRun) configure() (registry.Report, error) {
	rep, err := r.p.kinds.Lookup(r.req.Kind)
	if err != nil {
		return registry.Report{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if _, err := os.Stat(r.p.cfg.SourcePath); err != nil {
		return registry.Report{}, fmt.Errorf("%w: source document: %w", ErrConfig, err)
	}
	if r.p.bindings != nil {
		if err := r.p.bindings.Check(r.p.cfg.SourcePath, rep); err != nil {
			return registry.Report{}, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return rep, nil
}

func (r *pipelineRun) deliver(ctx context.Context, rep registry.Report, outputs engine.Outputs) error {
	for _, id := range rep.Deliver {
		path := outputs[id]
		if path == "" {
			return fmt.Errorf("%w: output %s missing", ErrDelivery, id)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: output %s: %w", ErrDelivery, id, err)
		}
		if err := r.ch.SendDocument(ctx, path); err != nil {
			return fmt.Errorf("%w: send %s: %w", ErrDelivery, id, err)
		}
	}
	return nil
}

// archive is best effort; storage errors are logged only.
func (r *pipelineRun) archive(ctx context.Context, outputs engine.Outputs) {
	if r.p.archiver == nil {
		return
	}
	for _, id := range sortedOutputIDs(outputs) {
		key, err := r.p.archiver.ArchiveReport(ctx, r.id, r.req.Kind, r.req.Year, r.req.Week, outputs[id])
		if err != nil {
			r.logger.Warn("archive report", "event", "archive_failed", "output", id, "error", err)
			continue
		}
		r.logger.Info("report archived", "event", "report_archived", "output", id, "key", key)
	}
}

func (r *pipelineRun) observeAttempt(report engine.AttemptReport) {
	attempt := state.Attempt{
		RunID:      r.id,
		Number:     report.Number,
		Outcome:    report.Outcome,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if report.Err != nil {
		attempt.Error = report.Err.Error()
	}
	if err := r.p.recorder.RecordAttempt(r.ledgerCtx, attempt); err != nil {
		r.logger.Warn("record attempt", "event", "ledger_failed", "attempt", report.Number, "error", err)
	}
}

func (r *pipelineRun) transition(next state.RunState, cause state.FailureCause) {
	if err := state.ValidateTransition(r.id, r.current, next); err != nil {
		r.logger.Error("illegal run transition", "event", "transition_invalid", "error", err)
		return
	}
	if err := r.p.recorder.TransitionRun(r.ledgerCtx, r.id, next, cause); err != nil {
		r.logger.Warn("record transition", "event", "ledger_failed", "state", string(next), "error", err)
	}
	r.current = next
}

func (r *pipelineRun) fail(ctx context.Context, runCtx context.Context, err error) Outcome {
	return r.finishFailed(causeFor(err, ctx, runCtx), err)
}

func (r *pipelineRun) finishFailed(cause state.FailureCause, err error) Outcome {
	r.transition(state.RunStateFailed, cause)
	r.sendStatus(r.ledgerCtx, userMessage(cause))
	r.p.metrics.IncPipeline(string(state.RunStateFailed))
	r.p.metrics.IncFailure(string(cause))
	r.logger.Error("run failed", "event", "run_failed", "cause", string(cause), "attempts", r.attempts, "error", err)
	return Outcome{RunID: r.id, State: state.RunStateFailed, Cause: cause, Attempts: r.attempts, Err: err}
}

// sendStatus replaces the progress text; appendStatus adds a step line to it.
func (r *pipelineRun) sendStatus(ctx context.Context, text string) {
	r.status = text
	if err := r.ch.SendStatus(ctx, text); err != nil {
		r.logger.Warn("send status", "event", "status_failed", "error", err)
	}
}

func (r *pipelineRun) appendStatus(ctx context.Context, line string) {
	if r.status == "" {
		r.sendStatus(ctx, line)
		return
	}
	r.sendStatus(ctx, r.status+"\n"+line)
}

func removeOutputs(logger *slog.Logger, outputs engine.Outputs) {
	for _, id := range sortedOutputIDs(outputs) {
		if err := os.Remove(outputs[id]); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove output", "event", "cleanup_failed", "output", id, "error", err)
		}
	}
}

func sortedOutputIDs(outputs engine.Outputs) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
