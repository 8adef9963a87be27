// Package ioutil provides path-safe file reads, adapted from the
// teacher's node.readFileFromDir guard against directory traversal
// (SPEC_FULL.md AMBIENT STACK).
package ioutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadFileByPath reads path after splitting it into a directory and a
// base name and rejecting a base name that could escape the directory.
func ReadFileByPath(path string) ([]byte, error) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	return ReadFileFromDir(dir, name)
}

// ReadFileFromDir reads name from dir, refusing empty names, "." and
// ".." and any name that resolves outside dir.
func ReadFileFromDir(dir, name string) ([]byte, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid file name: %q", name)
	}
	return fs.ReadFile(os.DirFS(dir), name)
}
