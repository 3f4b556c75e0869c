package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestMakeWorkingCopyIsUnique(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "Bericht.xlsm")
	if err := os.WriteFile(source, []byte("workbook"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	workDir := filepath.Join(dir, "work")

	first, err := MakeWorkingCopy(source, workDir)
	if err != nil {
		t.Fatalf("first copy: %v", err)
	}
	second, err := MakeWorkingCopy(source, workDir)
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct copies, got %s twice", first)
	}

	pattern := regexp.MustCompile(`^Bericht_\d+_\d+_[0-9a-f]{8}\.xlsm$`)
	if !pattern.MatchString(filepath.Base(first)) {
		t.Fatalf("unexpected copy name %s", filepath.Base(first))
	}
	data, err := os.ReadFile(first)
	if err != nil || string(data) != "workbook" {
		t.Fatalf("copy content mismatch: %q %v", data, err)
	}

	for _, p := range []string{first, second, first} {
		if err := RemoveWorkingCopy(p); err != nil {
			t.Fatalf("remove %s: %v", p, err)
		}
	}
}

func TestMakeWorkingCopyMissingSource(t *testing.T) {
	if _, err := MakeWorkingCopy(filepath.Join(t.TempDir(), "missing.xlsm"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing source")
	}
}
