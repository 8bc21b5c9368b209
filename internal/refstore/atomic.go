package refstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tmpPrefix marks in-flight writes; listings skip these files.
const tmpPrefix = ".kr-tmp-"

// WriteFileAtomic writes content to path: tmp file → fsync → rename.
// Parent directories are created as needed.
func WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("refstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("refstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("refstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("refstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("refstore: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("refstore: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("refstore: rename: %w", err)
	}
	success = true
	return nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), tmpPrefix)
}
