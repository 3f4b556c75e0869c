package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the cross-process lock is not obtained in time.
var ErrTimeout = errors.New("lock: timeout waiting for engine lock")

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 300 * time.Second
)

// Levels reports which exclusivity levels are currently held.
type Levels struct {
	File      bool `json:"file"`
	Mutex     bool `json:"mutex"`
	Semaphore bool `json:"semaphore"`
}

// Any reports whether at least one level is held.
func (l Levels) Any() bool {
	return l.File || l.Mutex || l.Semaphore
}

type Config struct {
	Path         string
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultPath is the well-known lock file location shared by all processes on the host.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "reportd_engine.lock")
}

// Layer serializes access to the engine seat. Levels are acquired file,
// mutex, semaphore and released in reverse.
type Layer struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	sem *semaphore.Weighted

	state sync.Mutex
	held  Levels
}

func NewLayer(cfg Config, logger *slog.Logger) *Layer {
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{cfg: cfg, logger: logger, sem: semaphore.NewWeighted(1)}
}

// Held returns a snapshot of the held levels.
func (l *Layer) Held() Levels {
	l.state.Lock()
	defer l.state.Unlock()
	return l.held
}

func (l *Layer) setHeld(fn func(*Levels)) {
	l.state.Lock()
	fn(&l.held)
	l.state.Unlock()
}

// Token is proof of exclusive access. Release is idempotent.
type Token struct {
	layer *Layer
	file  *fileLock
	once  sync.Once
}

// Acquire blocks until all three levels are held, the timeout elapses or ctx ends.
func (l *Layer) Acquire(ctx context.Context) (*Token, error) {
	started := time.Now()
	fl, err := l.acquireFile(ctx)
	if err != nil {
		return nil, err
	}
	l.setHeld(func(h *Levels) { h.File = true })

	// Holding the file lock means no other token of this layer is live.
	l.mu.Lock()
	l.setHeld(func(h *Levels) { h.Mutex = true })

	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.setHeld(func(h *Levels) { h.Mutex = false })
		l.mu.Unlock()
		l.releaseFile(fl)
		return nil, err
	}
	l.setHeld(func(h *Levels) { h.Semaphore = true })

	l.logger.Debug("engine lock acquired", "event", "lock_acquired", "path", l.cfg.Path, "wait_ms", time.Since(started).Milliseconds())
	return &Token{layer: l, file: fl}, nil
}

// Release frees the levels inner to outer.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		l := t.layer
		l.sem.Release(1)
		l.setHeld(func(h *Levels) { h.Semaphore = false })
		l.setHeld(func(h *Levels) { h.Mutex = false })
		l.mu.Unlock()
		l.releaseFile(t.file)
		l.logger.Debug("engine lock released", "event", "lock_released", "path", l.cfg.Path)
	})
}

func (l *Layer) acquireFile(ctx context.Context) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(l.cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	deadline := time.Now().Add(l.cfg.Timeout)
	for {
		fl, err := tryLockFile(l.cfg.Path)
		if err == nil {
			return fl, nil
		}
		if !errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("lock %s: %w", l.cfg.Path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, l.cfg.Timeout, l.cfg.Path)
		}

		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Layer) releaseFile(fl *fileLock) {
	if err := fl.unlock(); err != nil {
		l.logger.Warn("release file lock", "path", l.cfg.Path, "error", err)
	}
	l.setHeld(func(h *Levels) { h.File = false })
}
