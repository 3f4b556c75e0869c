package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"call rejected code", &AutomationError{Op: "run", Code: HResultCallRejected}, ClassTransientAutomation},
		{"remote call failed code", &AutomationError{Op: "open", Code: HResultRemoteCallFailed}, ClassTransientAutomation},
		{"server unavailable code", &AutomationError{Op: "ready", Code: HResultServerUnavailable}, ClassTransientAutomation},
		{"retry later code", &AutomationError{Op: "set", Code: HResultRetryLater}, ClassTransientAutomation},
		{"wrapped automation", fmt.Errorf("open document: %w", &AutomationError{Code: HResultCallRejected}), ClassTransientAutomation},
		{"message call rejected", errors.New("(-2147418111, 'Call was rejected by callee.', None, None)"), ClassTransientAutomation},
		{"message rpc unavailable", errors.New("The RPC server is unavailable"), ClassTransientAutomation},
		{"message hex code", errors.New("failed with 0x800706BE"), ClassTransientAutomation},
		{"file locked sentinel", fmt.Errorf("copy: %w", ErrFileLocked), ClassTransientIO},
		{"cannot access file", errors.New("Microsoft Excel cannot access the file 'C:\\tmp\\x.xlsm'"), ClassTransientIO},
		{"used by another process", errors.New("The process cannot access the file because it is being used by another process"), ClassTransientIO},
		{"business error", &BusinessError{Message: "no data for week"}, ClassFatal},
		{"business error mentioning rpc", &BusinessError{Message: "rpc server is unavailable"}, ClassFatal},
		{"engine timeout", fmt.Errorf("%w: not ready", ErrEngineTimeout), ClassFatal},
		{"context canceled", context.Canceled, ClassFatal},
		{"unknown automation code", &AutomationError{Op: "run", Code: 0x80020009, Message: "exception"}, ClassFatal},
		{"plain error", errors.New("macro not found"), ClassFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestClassTransient(t *testing.T) {
	if !ClassTransientAutomation.Transient() || !ClassTransientIO.Transient() {
		t.Fatal("transient classes must report transient")
	}
	if ClassFatal.Transient() {
		t.Fatal("fatal class must not report transient")
	}
}

func TestParseHiddenPIDs(t *testing.T) {
	out := `"Image Name","PID","Session Name","Session#","Mem Usage","Status","User Name","CPU Time","Window Title"
"EXCEL.EXE","4120","Console","1","80,120 K","Running","HOST\bot","0:00:03","N/A"
"EXCEL.EXE","5004","Console","1","92,000 K","Running","HOST\bot","0:00:10","Book1 - Excel"
"EXCEL.EXE","6110","Console","1","12,000 K","Unknown","HOST\bot","0:00:00",""
`
	pids, err := parseHiddenPIDs(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pids) != 2 || pids[0] != 4120 || pids[1] != 6110 {
		t.Fatalf("unexpected pids: %v", pids)
	}

	pids, err = parseHiddenPIDs("INFO: No tasks are running which match the specified criteria.\n")
	if err != nil {
		t.Fatalf("parse info line: %v", err)
	}
	if len(pids) != 0 {
		t.Fatalf("expected no pids, got %v", pids)
	}
}
