package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.ApplyMigrations(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: "r1", Kind: "bericht", Year: 2026, Week: 6, RequesterID: 111, Channel: "http"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	for _, next := range []RunState{RunStateConfiguring, RunStateExecuting, RunStateDelivering, RunStateDone} {
		if err := store.TransitionRun(ctx, "r1", next, CauseNone); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != RunStateDone {
		t.Fatalf("expected DONE, got %s", got.State)
	}
	if got.Kind != "bericht" || got.Year != 2026 || got.Week != 6 || got.RequesterID != 111 {
		t.Fatalf("unexpected run: %+v", got)
	}

	err = store.TransitionRun(ctx, "r1", RunStateFailed, CauseFatal)
	if !IsTransitionError(err) {
		t.Fatalf("expected transition error from terminal state, got %v", err)
	}
}

func TestTransitionRunRecordsCause(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, Run{ID: "r2", Kind: "bericht", Year: 2026, Week: 7, Channel: "chat"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.TransitionRun(ctx, "r2", RunStateConfiguring, CauseNone); err != nil {
		t.Fatalf("configuring: %v", err)
	}
	if err := store.TransitionRun(ctx, "r2", RunStateFailed, CauseLockTimeout); err != nil {
		t.Fatalf("failed: %v", err)
	}

	got, err := store.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != RunStateFailed || got.Cause != CauseLockTimeout {
		t.Fatalf("expected FAILED/lock_timeout, got %s/%s", got.State, got.Cause)
	}
}

func TestTransitionRunRejectsSkippedState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, Run{ID: "r3", Kind: "bericht", Year: 2026, Week: 8}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.TransitionRun(ctx, "r3", RunStateExecuting, CauseNone); !IsTransitionError(err) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.TransitionRun(context.Background(), "missing", RunStateConfiguring, CauseNone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on transition, got %v", err)
	}
}

func TestRecordAttemptsAndHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		run := Run{ID: id, Kind: "bericht", Year: 2026, Week: 6, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("create run %s: %v", id, err)
		}
	}

	outcomes := []AttemptOutcome{AttemptTransient, AttemptTransient, AttemptSuccess}
	for i, outcome := range outcomes {
		err := store.RecordAttempt(ctx, Attempt{
			RunID:      "new",
			Number:     i + 1,
			Outcome:    outcome,
			StartedAt:  base,
			FinishedAt: base.Add(time.Second),
		})
		if err != nil {
			t.Fatalf("record attempt %d: %v", i+1, err)
		}
	}

	attempts, err := store.ListAttempts(ctx, "new")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	if attempts[2].Outcome != AttemptSuccess {
		t.Fatalf("expected last attempt success, got %s", attempts[2].Outcome)
	}

	run, err := store.GetRun(ctx, "new")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Attempts != 3 {
		t.Fatalf("expected attempts=3, got %d", run.Attempts)
	}

	runs, err := store.ListRecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}
}

func TestWhitelistRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{222, 111} {
		if err := store.AuthorizeUser(ctx, id, "ops"); err != nil {
			t.Fatalf("authorize %d: %v", id, err)
		}
	}
	if err := store.AuthorizeUser(ctx, 111, "again"); err != nil {
		t.Fatalf("re-authorize: %v", err)
	}
	if err := store.RevokeUser(ctx, 222); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	ids, err := store.LoadWhitelist(ctx)
	if err != nil {
		t.Fatalf("load whitelist: %v", err)
	}
	if len(ids) != 1 || ids[0] != 111 {
		t.Fatalf("unexpected whitelist: %v", ids)
	}
}

func TestRebindPostgres(t *testing.T) {
	s := NewStore(nil, DialectPostgres)
	got := s.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if NewStore(nil, DialectSQLite).rebind("x = ?") != "x = ?" {
		t.Fatal("sqlite queries must not be rewritten")
	}
}
