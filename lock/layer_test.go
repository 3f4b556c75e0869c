package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLayer(t *testing.T, timeout time.Duration) *Layer {
	t.Helper()
	return NewLayer(Config{
		Path:         filepath.Join(t.TempDir(), "engine.lock"),
		Timeout:      timeout,
		PollInterval: 10 * time.Millisecond,
	}, nil)
}

func TestAcquireReleaseTracksLevels(t *testing.T) {
	layer := newTestLayer(t, time.Second)

	token, err := layer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	held := layer.Held()
	if !held.File || !held.Mutex || !held.Semaphore {
		t.Fatalf("expected all levels held, got %+v", held)
	}

	token.Release()
	token.Release()
	if layer.Held().Any() {
		t.Fatalf("expected no levels held, got %+v", layer.Held())
	}

	again, err := layer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again.Release()
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	layer := newTestLayer(t, 50*time.Millisecond)

	token, err := layer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer token.Release()

	_, err = layer.Acquire(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !layer.Held().File {
		t.Fatal("timed-out waiter must not disturb the holder")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	layer := newTestLayer(t, time.Minute)

	token, err := layer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer token.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := layer.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLayersSharingPathExcludeEachOther(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")
	first := NewLayer(Config{Path: path, Timeout: time.Second, PollInterval: 10 * time.Millisecond}, nil)
	second := NewLayer(Config{Path: path, Timeout: 40 * time.Millisecond, PollInterval: 10 * time.Millisecond}, nil)

	token, err := first.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	if _, err := second.Acquire(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected second layer to time out, got %v", err)
	}
	token.Release()

	token, err = second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire second after release: %v", err)
	}
	token.Release()
}

func TestConcurrentHoldersAreSerialized(t *testing.T) {
	layer := newTestLayer(t, 5*time.Second)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := layer.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			token.Release()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
}
