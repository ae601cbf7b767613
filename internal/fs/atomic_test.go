package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type failingRename struct {
	*OS
}

func (failingRename) Rename(string, string) error { return errors.New("rename refused") }

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs", "report.md")
	if err := WriteFileAtomic(NewOS(), path, []byte("first"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(NewOS(), path, []byte("second"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "second" {
		t.Fatalf("content = %q, %v", data, err)
	}
}

func TestWriteFileAtomicLeavesNoTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.md")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := WriteFileAtomic(failingRename{NewOS()}, path, []byte("new"), 0o644); err == nil {
		t.Fatalf("expected rename failure")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Fatalf("original content changed: %q", data)
	}
}
