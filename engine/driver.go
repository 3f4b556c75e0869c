package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/izavyalov-dev/reportd/registry"
)

// Automation starts fresh engine instances.
type Automation interface {
	Start(ctx context.Context) (Application, error)
}

// Application is one running engine process.
type Application interface {
	// Configure applies headless settings: invisible, no alerts, no screen
	// updating, no events, non-interactive, low automation security.
	Configure() error
	Open(path string) (Document, error)
	Run(macro string) error
	Ready() (bool, error)
	PID() int
	Quit() error
	Kill() error
	// Release frees automation state held by the calling thread.
	Release()
}

// Document is an open working copy.
type Document interface {
	Name() string
	Activate() error
	SetBinding(name string, value any) error
	Binding(name string) (string, error)
	CloseWithoutSaving() error
}

// Job is one generation request as seen by the engine.
type Job struct {
	Kind   string
	Year   int
	Week   int
	Report registry.Report
}

// Outputs maps logical output ids (xlsx, pdf) to produced file paths.
type Outputs map[string]string

type DriverConfig struct {
	SourcePath   string
	WorkDir      string
	ReadyTimeout time.Duration
	PollInterval time.Duration
	Call         CallPolicy
	OutputRead   CallPolicy
	// TeardownCall bounds the close and quit calls during teardown.
	TeardownCall CallPolicy
}

const (
	DefaultReadyTimeout = 180 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Driver runs single engine sessions.
type Driver struct {
	automation Automation
	cfg        DriverConfig
	logger     *slog.Logger
}

func NewDriver(automation Automation, cfg DriverConfig, logger *slog.Logger) *Driver {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Call.Tries <= 0 {
		cfg.Call = DefaultCallPolicy
	}
	if cfg.OutputRead.Tries <= 0 {
		cfg.OutputRead = DefaultOutputPolicy
	}
	if cfg.TeardownCall.Tries <= 0 {
		cfg.TeardownCall = CallPolicy{Tries: 10, Sleep: 200 * time.Millisecond}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{automation: automation, cfg: cfg, logger: logger}
}

// Run executes one session on a goroutine locked to its OS thread, as
// thread-affine automation requires. It returns only after teardown.
func (d *Driver) Run(ctx context.Context, job Job) (Outputs, error) {
	type result struct {
		outputs Outputs
		err     error
	}
	done := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		out, err := d.session(ctx, job)
		done <- result{outputs: out, err: err}
	}()
	res := <-done
	return res.outputs, res.err
}

func (d *Driver) session(ctx context.Context, job Job) (_ Outputs, err error) {
	copyPath, err := MakeWorkingCopy(d.cfg.SourcePath, d.cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := RemoveWorkingCopy(copyPath); rmErr != nil {
			d.logger.Warn("remove working copy", "path", copyPath, "error", rmErr)
		}
	}()

	app, err := d.automation.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	defer d.teardownApp(ctx, app)
	if app.PID() <= 0 {
		d.logger.Warn("engine process id unknown, refusing unkillable session", "event", "engine_pid_unknown")
		return nil, ErrProcessUnknown
	}

	// Cancellation kills the process so blocked native calls return.
	stop := context.AfterFunc(ctx, func() {
		if killErr := app.Kill(); killErr != nil {
			d.logger.Warn("kill engine on cancel", "pid", app.PID(), "error", killErr)
		}
	})
	defer stop()

	if err := app.Configure(); err != nil {
		return nil, fmt.Errorf("configure engine: %w", err)
	}

	doc, err := Call(ctx, d.cfg.Call, func() (Document, error) { return app.Open(copyPath) })
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() {
		teardownCtx := context.WithoutCancel(ctx)
		if closeErr := Do(teardownCtx, d.cfg.TeardownCall, doc.CloseWithoutSaving); closeErr != nil {
			d.logger.Debug("close document", "error", closeErr)
		}
	}()

	if err := Do(ctx, d.cfg.Call, doc.Activate); err != nil {
		return nil, fmt.Errorf("activate document: %w", err)
	}

	if job.Report.KindBinding != "" {
		// Older documents have no kind binding.
		if err := Do(ctx, d.cfg.Call, func() error { return doc.SetBinding(job.Report.KindBinding, job.Kind) }); err != nil {
			d.logger.Debug("kind binding not written", "binding", job.Report.KindBinding, "error", err)
		}
	}

	params := job.Report.Parameters(job.Year, job.Week)
	for _, name := range sortedKeys(params) {
		value := params[name]
		if err := Do(ctx, d.cfg.Call, func() error { return doc.SetBinding(name, value) }); err != nil {
			return nil, fmt.Errorf("write binding %s: %w", name, err)
		}
	}

	// The macro may write outputs even when the attempt fails afterwards.
	// Registered after the close defer so bindings are still readable.
	defer func() {
		if err != nil {
			d.discardOutputs(ctx, doc, job.Report.Outputs)
		}
	}()

	macro := fmt.Sprintf("'%s'!%s", doc.Name(), job.Report.Macro)
	if err := Do(ctx, d.cfg.Call, func() error { return app.Run(macro) }); err != nil {
		return nil, fmt.Errorf("run macro %s: %w", job.Report.Macro, err)
	}

	if err := d.waitReady(ctx, app); err != nil {
		return nil, err
	}

	outputs := make(Outputs, len(job.Report.Outputs))
	for _, id := range sortedKeys(job.Report.Outputs) {
		binding := job.Report.Outputs[id]
		value, err := Call(ctx, d.cfg.OutputRead, func() (string, error) { return doc.Binding(binding) })
		if err != nil {
			return nil, fmt.Errorf("read output %s: %w", binding, err)
		}
		outputs[id] = strings.TrimSpace(value)
	}

	if job.Report.LastErrorBinding != "" {
		msg, err := Call(ctx, d.cfg.Call, func() (string, error) { return doc.Binding(job.Report.LastErrorBinding) })
		if err == nil && strings.TrimSpace(msg) != "" {
			return nil, &BusinessError{Message: strings.TrimSpace(msg)}
		}
	}

	for id, path := range outputs {
		if path == "" {
			return nil, fmt.Errorf("%w: output %s is empty", ErrEngineTimeout, id)
		}
	}
	return outputs, nil
}

// discardOutputs reads the output bindings of a failed attempt and removes
// the files they name. A killed engine cannot be read and is skipped.
func (d *Driver) discardOutputs(ctx context.Context, doc Document, bindings map[string]string) {
	teardownCtx := context.WithoutCancel(ctx)
	for _, id := range sortedKeys(bindings) {
		binding := bindings[id]
		value, err := Call(teardownCtx, d.cfg.TeardownCall, func() (string, error) { return doc.Binding(binding) })
		if err != nil {
			d.logger.Debug("read output for cleanup", "binding", binding, "error", err)
			continue
		}
		path := strings.TrimSpace(value)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(path); err != nil {
			d.logger.Warn("remove output of failed attempt", "path", path, "error", err)
			continue
		}
		d.logger.Debug("removed output of failed attempt", "output", id, "path", path)
	}
}

// waitReady polls until the engine reports ready. Errors while busy are ignored.
func (d *Driver) waitReady(ctx context.Context, app Application) error {
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for {
		if ready, err := app.Ready(); err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not ready after %s", ErrEngineTimeout, d.cfg.ReadyTimeout)
		}
		if err := sleepContext(ctx, d.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (d *Driver) teardownApp(ctx context.Context, app Application) {
	teardownCtx := context.WithoutCancel(ctx)
	if err := Do(teardownCtx, d.cfg.TeardownCall, app.Quit); err != nil {
		d.logger.Debug("quit engine", "error", err)
	}
	if err := app.Kill(); err != nil && !errors.Is(err, ErrProcessGone) {
		d.logger.Warn("kill engine", "pid", app.PID(), "error", err)
	}
	app.Release()
}

// ErrProcessGone is returned by Kill when the engine process already exited.
var ErrProcessGone = errors.New("engine: process already exited")

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
