package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/izavyalov-dev/reportd/state"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCommand()
	want := []string{"run", "preflight", "sweep", "history", "status", "submit", "users"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %s, got %v", name, err)
		}
	}
}

func TestHistoryListsRuns(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	store, err := state.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.ApplyMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now().UTC()
	if err := store.CreateRun(ctx, state.Run{
		ID: "run_a", Kind: "bericht", Year: 2026, Week: 6, RequesterID: 111,
		Channel: "http", State: state.RunStateReceived, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	store.Close()

	out, err := execute(t, "history", "--database-url", dsn)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "run_a") || !strings.Contains(out, "2026-W06") {
		t.Fatalf("expected run listed, got:\n%s", out)
	}
}

func TestUsersAuthorizeAndList(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "ledger.db")
	if _, err := execute(t, "users", "authorize", "555", "--note", "ops", "--database-url", dsn); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	out, err := execute(t, "users", "list", "--database-url", dsn)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "555" {
		t.Fatalf("expected 555, got %q", out)
	}
	if _, err := execute(t, "users", "revoke", "abc", "--database-url", dsn); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
}

func TestPreflightFailsWithoutSource(t *testing.T) {
	t.Setenv("EXCEL_FILE_PATH", "")
	out, err := execute(t, "preflight", "--engine", "simulated", "--source", filepath.Join(t.TempDir(), "missing.xlsm"))
	if err == nil {
		t.Fatalf("expected preflight failure, got:\n%s", out)
	}
	if !strings.Contains(out, "FAIL") {
		t.Fatalf("expected a failed check in output, got:\n%s", out)
	}
}
