package engine

import (
	"context"
	"time"
)

// CallPolicy bounds in-place retries of a single automation call.
type CallPolicy struct {
	Tries int
	Sleep time.Duration
}

var (
	DefaultCallPolicy   = CallPolicy{Tries: 120, Sleep: 500 * time.Millisecond}
	DefaultOutputPolicy = CallPolicy{Tries: 360, Sleep: 500 * time.Millisecond}
)

// Call runs fn, retrying while it fails with a transient automation error.
// Any other error is returned immediately.
func Call[T any](ctx context.Context, p CallPolicy, fn func() (T, error)) (T, error) {
	tries := p.Tries
	if tries <= 0 {
		tries = 1
	}

	var zero T
	var last error
	for i := 0; i < tries; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		last = err
		if Classify(err) != ClassTransientAutomation {
			return zero, err
		}
		if i == tries-1 {
			break
		}
		if err := sleepContext(ctx, p.Sleep); err != nil {
			return zero, err
		}
	}
	return zero, last
}

// Do is Call for operations without a result.
func Do(ctx context.Context, p CallPolicy, fn func() error) error {
	_, err := Call(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
