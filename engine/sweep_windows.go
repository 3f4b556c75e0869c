//go:build windows

package engine

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const engineImage = "EXCEL.EXE"

// ProcessSweeper kills hidden and non-responding engine processes left
// behind by crashed sessions.
type ProcessSweeper struct {
	logger  *slog.Logger
	timeout time.Duration
}

func DefaultSweeper(logger *slog.Logger) Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSweeper{logger: logger, timeout: 10 * time.Second}
}

func (s *ProcessSweeper) Sweep(ctx context.Context) error {
	killed := 0
	pids, err := s.hiddenPIDs(ctx)
	if err != nil {
		s.logger.Debug("list engine processes", "error", err)
	}
	for _, pid := range pids {
		if _, err := s.run(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid)); err == nil {
			killed++
		}
	}
	if killed > 0 {
		s.logger.Warn("killed hidden engine processes", "event", "sweep_hidden", "count", killed)
	}

	out, err := s.run(ctx, "taskkill", "/F", "/IM", engineImage, "/FI", "STATUS eq NOT RESPONDING")
	if err == nil && strings.Contains(out, "SUCCESS") {
		s.logger.Warn("killed non-responding engine processes", "event", "sweep_hung")
	}
	return nil
}

// hiddenPIDs lists engine processes without a window title.
func (s *ProcessSweeper) hiddenPIDs(ctx context.Context) ([]int, error) {
	out, err := s.run(ctx, "tasklist", "/v", "/fo", "csv", "/fi", "IMAGENAME eq "+engineImage)
	if err != nil {
		return nil, err
	}
	return parseHiddenPIDs(out)
}

func (s *ProcessSweeper) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.String(), err
}
