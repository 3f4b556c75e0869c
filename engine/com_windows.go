//go:build windows

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows"
)

const excelProgID = "Excel.Application"

// msoAutomationSecurityLow lets macros run without prompting.
const msoAutomationSecurityLow = 1

// COMAutomation drives a spreadsheet engine through its COM automation server.
// Every method must run on the OS thread that called Start.
type COMAutomation struct{}

func NewCOMAutomation() *COMAutomation {
	return &COMAutomation{}
}

func (COMAutomation) Start(ctx context.Context) (Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil && !alreadyInitialized(err) {
		return nil, wrapOLE("initialize", err)
	}

	unknown, err := oleutil.CreateObject(excelProgID)
	if err != nil {
		ole.CoUninitialize()
		return nil, wrapOLE("create", err)
	}
	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		ole.CoUninitialize()
		return nil, wrapOLE("query dispatch", err)
	}

	// A zero pid is reported through PID; the driver refuses such sessions.
	app := &comApplication{disp: disp}
	app.pid = processID(disp)
	return app, nil
}

func processID(disp *ole.IDispatch) int {
	hwnd, err := oleutil.GetProperty(disp, "Hwnd")
	if err != nil {
		return 0
	}
	defer hwnd.Clear()
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(hwnd.Val), &pid); err != nil {
		return 0
	}
	return int(pid)
}

type comApplication struct {
	disp *ole.IDispatch
	pid  int
	once sync.Once
}

func (a *comApplication) Configure() error {
	settings := []struct {
		name  string
		value any
	}{
		{"Visible", false},
		{"DisplayAlerts", false},
		{"ScreenUpdating", false},
		{"EnableEvents", false},
		{"Interactive", false},
	}
	for _, s := range settings {
		if err := putProperty(a.disp, s.name, s.value); err != nil {
			return err
		}
	}
	// Not every installation permits changing macro security.
	_ = putProperty(a.disp, "AutomationSecurity", msoAutomationSecurityLow)
	return nil
}

func (a *comApplication) Open(path string) (Document, error) {
	workbooks, err := oleutil.GetProperty(a.disp, "Workbooks")
	if err != nil {
		return nil, wrapOLE("get workbooks", err)
	}
	defer workbooks.Clear()

	// Open(Filename, UpdateLinks=0, ReadOnly=false); writing bindings needs a writable copy.
	res, err := oleutil.CallMethod(workbooks.ToIDispatch(), "Open", path, 0, false)
	if err != nil {
		return nil, wrapOLE("open "+path, err)
	}
	return &comDocument{disp: res.ToIDispatch()}, nil
}

func (a *comApplication) Run(macro string) error {
	res, err := oleutil.CallMethod(a.disp, "Run", macro)
	if err != nil {
		return wrapOLE("run "+macro, err)
	}
	_ = res.Clear()
	return nil
}

func (a *comApplication) Ready() (bool, error) {
	v, err := oleutil.GetProperty(a.disp, "Ready")
	if err != nil {
		return false, wrapOLE("ready", err)
	}
	defer v.Clear()
	ready, _ := v.Value().(bool)
	return ready, nil
}

func (a *comApplication) PID() int {
	return a.pid
}

func (a *comApplication) Quit() error {
	res, err := oleutil.CallMethod(a.disp, "Quit")
	if err != nil {
		return wrapOLE("quit", err)
	}
	_ = res.Clear()
	return nil
}

func (a *comApplication) Kill() error {
	if a.pid == 0 {
		return ErrProcessGone
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(a.pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return ErrProcessGone
		}
		return fmt.Errorf("open engine process %d: %w", a.pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.TerminateProcess(h, 1); err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			// The process is already exiting.
			return ErrProcessGone
		}
		return fmt.Errorf("terminate engine process %d: %w", a.pid, err)
	}
	return nil
}

func (a *comApplication) Release() {
	a.once.Do(func() {
		a.disp.Release()
		ole.CoUninitialize()
	})
}

type comDocument struct {
	disp *ole.IDispatch
}

func (d *comDocument) Name() string {
	v, err := oleutil.GetProperty(d.disp, "Name")
	if err != nil {
		return ""
	}
	defer v.Clear()
	return v.ToString()
}

func (d *comDocument) Activate() error {
	res, err := oleutil.CallMethod(d.disp, "Activate")
	if err != nil {
		return wrapOLE("activate", err)
	}
	_ = res.Clear()
	return nil
}

func (d *comDocument) SetBinding(name string, value any) error {
	return d.withRange(name, func(rng *ole.IDispatch) error {
		return putProperty(rng, "Value", value)
	})
}

func (d *comDocument) Binding(name string) (string, error) {
	var out string
	err := d.withRange(name, func(rng *ole.IDispatch) error {
		v, err := oleutil.GetProperty(rng, "Value")
		if err != nil {
			return wrapOLE("read "+name, err)
		}
		defer v.Clear()
		if val := v.Value(); val != nil {
			out = fmt.Sprint(val)
		}
		return nil
	})
	return out, err
}

func (d *comDocument) CloseWithoutSaving() error {
	if d.disp == nil {
		return nil
	}
	res, err := oleutil.CallMethod(d.disp, "Close", false)
	if err != nil {
		return wrapOLE("close", err)
	}
	_ = res.Clear()
	d.disp.Release()
	d.disp = nil
	return nil
}

// withRange resolves Names.Item(name).RefersToRange.
func (d *comDocument) withRange(name string, fn func(*ole.IDispatch) error) error {
	names, err := oleutil.GetProperty(d.disp, "Names")
	if err != nil {
		return wrapOLE("get names", err)
	}
	defer names.Clear()

	item, err := oleutil.CallMethod(names.ToIDispatch(), "Item", name)
	if err != nil {
		return wrapOLE("binding "+name, err)
	}
	defer item.Clear()

	rng, err := oleutil.GetProperty(item.ToIDispatch(), "RefersToRange")
	if err != nil {
		return wrapOLE("range "+name, err)
	}
	defer rng.Clear()

	return fn(rng.ToIDispatch())
}

func putProperty(disp *ole.IDispatch, name string, value any) error {
	res, err := oleutil.PutProperty(disp, name, value)
	if err != nil {
		return wrapOLE("set "+name, err)
	}
	_ = res.Clear()
	return nil
}

// wrapOLE converts go-ole errors so the classifier can see the HRESULT.
// Dispatch exceptions carry the server's code in the exception info.
func wrapOLE(op string, err error) error {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return fmt.Errorf("automation %s: %w", op, err)
	}
	code := uint32(oleErr.Code())
	if sub, ok := oleErr.SubError().(interface{ SCODE() uint32 }); ok && sub.SCODE() != 0 {
		code = sub.SCODE()
	}
	return &AutomationError{Op: op, Code: code, Message: oleErr.String()}
}

func alreadyInitialized(err error) bool {
	var oleErr *ole.OleError
	// S_FALSE: the thread is already initialized.
	return errors.As(err, &oleErr) && oleErr.Code() == 1
}
