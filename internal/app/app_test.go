package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/engine/simulated"
	"github.com/izavyalov-dev/reportd/internal/config"
	"github.com/izavyalov-dev/reportd/state"
)

func simulatedConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.BotToken = "123456:test-token"
	cfg.Whitelist = []int64{111}
	cfg.SourcePath = filepath.Join(dir, "Bericht.xlsm")
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.LockPath = filepath.Join(dir, "engine.lock")
	cfg.LockTimeout = 5 * time.Second
	cfg.EngineKind = config.EngineSimulated
	cfg.DatabaseURL = "sqlite:" + filepath.Join(dir, "ledger.db")
	if err := simulated.WriteDocument(cfg.SourcePath,
		"Report_Year", "Report_Week", "Report_Type", "Report_LastError", "Report_Out_XLSX", "Report_Out_PDF"); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return cfg
}

type nullChannel struct{}

func (nullChannel) SendStatus(context.Context, string) error   { return nil }
func (nullChannel) SendDocument(context.Context, string) error { return nil }

func TestBuildRunsReportAgainstLedger(t *testing.T) {
	cfg := simulatedConfig(t)
	a, err := Build(context.Background(), cfg, nil, Options{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	outcome, err := a.Service.Generate(context.Background(), admission.Request{
		Kind: "bericht", Year: 2026, Week: 6, Channel: admission.ChannelScheduled,
	}, nullChannel{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if outcome.State != state.RunStateDone {
		t.Fatalf("expected DONE, got %s (%v)", outcome.State, outcome.Err)
	}

	runs, err := a.Store.ListRecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].State != state.RunStateDone || runs[0].Attempts != 1 {
		t.Fatalf("unexpected ledger %+v", runs)
	}

	if err := a.Store.AuthorizeUser(context.Background(), 555, "added by test"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	stored, err := a.Store.LoadWhitelist(context.Background())
	if err != nil || len(stored) != 1 || stored[0] != 555 {
		t.Fatalf("expected stored whitelist [555], got %v (%v)", stored, err)
	}
	if !a.Whitelist.Allowed(context.Background(), 111) {
		t.Fatal("expected static whitelist id to be allowed")
	}
}

func TestPreflight(t *testing.T) {
	cfg := simulatedConfig(t)
	checks := Preflight(context.Background(), cfg)
	if !Passed(checks) {
		for _, c := range checks {
			if !c.OK {
				t.Errorf("%s: %s", c.Name, c.Detail)
			}
		}
		t.FailNow()
	}

	cfg.BotToken = ""
	cfg.Schedule.Enabled = true
	cfg.Schedule.Timezone = "Nowhere/Special"
	cfg.SourcePath = filepath.Join(t.TempDir(), "missing.xlsm")
	failed := map[string]bool{}
	for _, c := range Preflight(context.Background(), cfg) {
		if !c.OK {
			failed[c.Name] = true
		}
	}
	for _, name := range []string{"bot token", "source document", "schedule"} {
		if !failed[name] {
			t.Fatalf("expected %q to fail, failures: %v", name, failed)
		}
	}
	if strings.Contains(strings.Join(keys(failed), ","), "bindings") {
		t.Fatal("bindings cannot be checked without a source document")
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
