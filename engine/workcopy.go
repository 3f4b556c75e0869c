package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MakeWorkingCopy copies the source document to a unique path in dir so the
// canonical file is never opened by the engine.
func MakeWorkingCopy(source, dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("work dir: %w", err)
	}

	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".xlsm"
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s_%d_%d_%s%s", base, time.Now().Unix(), os.Getpid(), suffix, ext)
	target := filepath.Join(dir, name)

	if err := copyFile(source, target); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return target, nil
}

// RemoveWorkingCopy deletes a working copy; a missing file is not an error.
func RemoveWorkingCopy(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open source document: %w", lockedOr(err))
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source document: %w", err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create working copy: %w", lockedOr(err))
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy document: %w", lockedOr(err))
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close working copy: %w", err)
	}
	return os.Chtimes(target, info.ModTime(), info.ModTime())
}
