// Package simulated provides an in-process stand-in for the spreadsheet
// engine. It honors the same bindings and macro contract as the native
// engine, produces real output files and can inject failures per session.
package simulated

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/izavyalov-dev/reportd/engine"
)

// Stage names where an injected fault fires.
type Stage string

const (
	StageStart    Stage = "start"
	StageOpen     Stage = "open"
	StageRun      Stage = "run"
	StageReady    Stage = "ready"
	StageOutput   Stage = "output"
	StageBusiness Stage = "business"
)

// Fault is a failure injected into one session.
type Fault struct {
	Stage Stage
	Err   error
}

const (
	outputPrefix   = "Report_Out_"
	lastErrorName  = "Report_LastError"
	defaultRunTime = 10 * time.Millisecond
)

// Engine is an engine.Automation and engine.Sweeper backed by files on disk.
type Engine struct {
	outputDir string
	runTime   time.Duration

	mu     sync.Mutex
	faults map[int]Fault

	starts int32
	active int32
	peak   int32
	sweeps int32
	kills  int32
}

// New returns an engine that writes outputs to outputDir.
func New(outputDir string) *Engine {
	return &Engine{outputDir: outputDir, runTime: defaultRunTime, faults: make(map[int]Fault)}
}

// WithRunTime sets how long the macro takes to finish.
func (e *Engine) WithRunTime(d time.Duration) *Engine {
	e.runTime = d
	return e
}

// FailSession injects a fault into the n-th started session (1-based).
func (e *Engine) FailSession(n int, stage Stage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[n] = Fault{Stage: stage, Err: err}
}

func (e *Engine) Starts() int { return int(atomic.LoadInt32(&e.starts)) }
func (e *Engine) Active() int { return int(atomic.LoadInt32(&e.active)) }
func (e *Engine) Peak() int   { return int(atomic.LoadInt32(&e.peak)) }
func (e *Engine) Sweeps() int { return int(atomic.LoadInt32(&e.sweeps)) }
func (e *Engine) Kills() int  { return int(atomic.LoadInt32(&e.kills)) }

// Sweep records that stale sessions were cleared.
func (e *Engine) Sweep(context.Context) error {
	atomic.AddInt32(&e.sweeps, 1)
	return nil
}

func (e *Engine) Start(ctx context.Context) (engine.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(atomic.AddInt32(&e.starts, 1))

	e.mu.Lock()
	fault, hasFault := e.faults[n]
	e.mu.Unlock()
	if hasFault && fault.Stage == StageStart {
		return nil, fault.Err
	}

	active := atomic.AddInt32(&e.active, 1)
	for {
		peak := atomic.LoadInt32(&e.peak)
		if active <= peak || atomic.CompareAndSwapInt32(&e.peak, peak, active) {
			break
		}
	}

	app := &application{engine: e, session: n, killed: make(chan struct{})}
	if hasFault {
		app.fault = &fault
	}
	return app, nil
}

type application struct {
	engine  *Engine
	session int
	fault   *Fault

	mu       sync.Mutex
	doc      *document
	ready    bool
	killOnce sync.Once
	killed   chan struct{}
	released atomic.Bool
}

func (a *application) faultAt(stage Stage) error {
	if a.fault != nil && a.fault.Stage == stage {
		return a.fault.Err
	}
	return nil
}

func (a *application) hasFault(stage Stage) bool {
	return a.fault != nil && a.fault.Stage == stage
}

func (a *application) dead() error {
	select {
	case <-a.killed:
		return &engine.AutomationError{Op: "call", Code: engine.HResultServerUnavailable, Message: "The RPC server is unavailable."}
	default:
		return nil
	}
}

func (a *application) Configure() error {
	return a.dead()
}

func (a *application) Open(path string) (engine.Document, error) {
	if err := a.dead(); err != nil {
		return nil, err
	}
	if err := a.faultAt(StageOpen); err != nil {
		return nil, err
	}
	names, err := ReadDefinedNames(path)
	if err != nil {
		return nil, err
	}
	doc := &document{app: a, name: filepath.Base(path), values: make(map[string]string, len(names))}
	for _, name := range names {
		doc.values[name] = ""
	}
	a.mu.Lock()
	a.doc = doc
	a.mu.Unlock()
	return doc, nil
}

func (a *application) Run(macro string) error {
	if err := a.dead(); err != nil {
		return err
	}
	a.mu.Lock()
	doc := a.doc
	a.mu.Unlock()
	if doc == nil {
		return &engine.AutomationError{Op: "run", Message: "no document open"}
	}
	if !strings.HasPrefix(macro, "'"+doc.name+"'!") {
		return &engine.AutomationError{Op: "run", Message: "cannot run the macro " + macro}
	}
	if err := a.faultAt(StageRun); err != nil {
		return err
	}

	select {
	case <-time.After(a.engine.runTime):
	case <-a.killed:
		return a.dead()
	}

	if !a.hasFault(StageOutput) {
		if err := a.writeOutputs(doc); err != nil {
			doc.set(lastErrorName, err.Error())
		}
	}
	// A business failure is reported after the outputs were written.
	if err := a.faultAt(StageBusiness); err != nil {
		doc.set(lastErrorName, err.Error())
	}

	a.mu.Lock()
	a.ready = !a.hasFault(StageReady)
	a.mu.Unlock()
	return nil
}

func (a *application) writeOutputs(doc *document) error {
	year, week := doc.get("Report_Year"), doc.get("Report_Week")
	if err := os.MkdirAll(a.engine.outputDir, 0o755); err != nil {
		return err
	}
	base := fmt.Sprintf("Bericht_%s_KW%s_%d", year, week, a.session)
	for _, name := range doc.names() {
		if !strings.HasPrefix(name, outputPrefix) {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(name, outputPrefix))
		path := filepath.Join(a.engine.outputDir, base+"."+ext)
		var err error
		switch ext {
		case "xlsx":
			err = WriteWorkbook(path, year, week)
		default:
			err = os.WriteFile(path, []byte("%PDF-1.4\n% simulated report "+year+"/"+week+"\n%%EOF\n"), 0o644)
		}
		if err != nil {
			return err
		}
		doc.set(name, path)
	}
	return nil
}

func (a *application) Ready() (bool, error) {
	if err := a.dead(); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready, nil
}

func (a *application) PID() int {
	return os.Getpid()*1000 + a.session
}

func (a *application) Quit() error {
	return a.dead()
}

func (a *application) Kill() error {
	killed := false
	a.killOnce.Do(func() {
		close(a.killed)
		killed = true
	})
	if !killed {
		return engine.ErrProcessGone
	}
	atomic.AddInt32(&a.engine.kills, 1)
	return nil
}

func (a *application) Release() {
	if a.released.CompareAndSwap(false, true) {
		atomic.AddInt32(&a.engine.active, -1)
	}
}

type document struct {
	app  *application
	name string

	mu     sync.Mutex
	values map[string]string
}

func (d *document) get(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[name]
}

func (d *document) set(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[name] = value
}

func (d *document) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.values))
	for name := range d.values {
		out = append(out, name)
	}
	return out
}

func (d *document) Name() string { return d.name }

func (d *document) Activate() error { return d.app.dead() }

func (d *document) SetBinding(name string, value any) error {
	if err := d.app.dead(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.values[name]; !ok {
		return &engine.AutomationError{Op: "binding " + name, Message: "name not found"}
	}
	d.values[name] = fmt.Sprint(value)
	return nil
}

func (d *document) Binding(name string) (string, error) {
	if err := d.app.dead(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	value, ok := d.values[name]
	if !ok {
		return "", &engine.AutomationError{Op: "binding " + name, Message: "name not found"}
	}
	return value, nil
}

func (d *document) CloseWithoutSaving() error {
	return d.app.dead()
}
