//go:build unix

package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// lockedOr marks busy-file errors so they classify as transient I/O.
func lockedOr(err error) error {
	if errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("%w: %w", ErrFileLocked, err)
	}
	return err
}
