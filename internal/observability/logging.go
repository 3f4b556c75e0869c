package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strconv"
)

// NewLogger returns a JSON logger with a component field attached.
func NewLogger(component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil || runID == "" {
		return logger
	}
	return logger.With("run_id", runID)
}

func WithAttempt(logger *slog.Logger, attempt int) *slog.Logger {
	if logger == nil || attempt <= 0 {
		return logger
	}
	return logger.With("attempt", attempt)
}

// WithRequester attaches a hashed requester id; raw chat ids are never logged.
func WithRequester(logger *slog.Logger, requesterID int64) *slog.Logger {
	if logger == nil || requesterID == 0 {
		return logger
	}
	return logger.With("requester_hash", hashRequester(requesterID))
}

func hashRequester(requesterID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(requesterID, 10)))
	return hex.EncodeToString(sum[:8])
}
