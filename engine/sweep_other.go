//go:build !windows

package engine

import "log/slog"

// DefaultSweeper returns a no-op where the native engine cannot run.
func DefaultSweeper(*slog.Logger) Sweeper {
	return NopSweeper{}
}
