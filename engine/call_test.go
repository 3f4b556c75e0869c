package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallRetriesTransientAutomation(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), CallPolicy{Tries: 5, Sleep: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &AutomationError{Op: "read", Code: HResultCallRejected}
		}
		return "C:\\out\\report.pdf", nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "C:\\out\\report.pdf" || calls != 3 {
		t.Fatalf("expected value after 3 calls, got %q after %d", got, calls)
	}
}

func TestCallStopsOnOtherErrors(t *testing.T) {
	calls := 0
	ioErr := errors.New("being used by another process")
	err := Do(context.Background(), CallPolicy{Tries: 5, Sleep: time.Millisecond}, func() error {
		calls++
		return ioErr
	})
	if !errors.Is(err, ioErr) || calls != 1 {
		t.Fatalf("expected single call returning io error, got %v after %d", err, calls)
	}
}

func TestCallGivesUpAfterTries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), CallPolicy{Tries: 4, Sleep: time.Millisecond}, func() error {
		calls++
		return &AutomationError{Op: "set", Code: HResultRetryLater}
	})
	if Classify(err) != ClassTransientAutomation || calls != 4 {
		t.Fatalf("expected transient error after 4 calls, got %v after %d", err, calls)
	}
}

func TestCallHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, CallPolicy{Tries: 100, Sleep: time.Hour}, func() error {
		calls++
		cancel()
		return &AutomationError{Op: "set", Code: HResultCallRejected}
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after first call, got %v after %d", err, calls)
	}
}
