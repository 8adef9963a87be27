package ioutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileByPathReadsRealFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("currency: btc\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := ReadFileByPath(path)
	if err != nil {
		t.Fatalf("ReadFileByPath: %v", err)
	}
	if string(b) != "currency: btc\n" {
		t.Errorf("got %q", b)
	}
}

func TestReadFileFromDirRejectsTraversalName(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadFileFromDir(dir, ".."); err == nil {
		t.Fatalf("expected error for \"..\" name")
	}
	if _, err := ReadFileFromDir(dir, "../escape.txt"); err == nil {
		t.Fatalf("expected error for embedded traversal name")
	}
}
