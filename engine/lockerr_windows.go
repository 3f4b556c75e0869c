//go:build windows

package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// lockedOr marks sharing violations so they classify as transient I/O.
func lockedOr(err error) error {
	if errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return fmt.Errorf("%w: %w", ErrFileLocked, err)
	}
	return err
}
