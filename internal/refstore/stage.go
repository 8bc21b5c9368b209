package refstore

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/starford/kr/internal/apperr"
)

// Stage runs fn against a private copy of the post at path and moves the
// copy into place only when fn succeeds, so a failed fn leaves the post
// exactly as it was. create selects the form of a post that does not exist
// yet. The copy lives in a hidden sibling directory removed on return.
func Stage(path string, create Form, fn func(Store) error) error {
	dir, base := filepath.Dir(path), filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IO("refstore: mkdir "+dir, err)
	}
	work, err := os.MkdirTemp(dir, tmpPrefix+"*")
	if err != nil {
		return apperr.IO("refstore: stage "+path, err)
	}
	defer os.RemoveAll(work)

	staged := filepath.Join(work, base)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return apperr.IO("refstore: stat "+path, err)
	case info.IsDir():
		if err := os.CopyFS(staged, os.DirFS(path)); err != nil {
			return apperr.IO("refstore: copy "+path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return apperr.IO("refstore: read "+path, err)
		}
		if err := os.WriteFile(staged, data, 0o644); err != nil {
			return apperr.IO("refstore: copy "+path, err)
		}
	}

	s, err := Open(staged, create)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	if _, err := os.Stat(staged); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return swap(path, staged, filepath.Join(work, "previous"))
}

// swap moves staged to path. A directory cannot be renamed over another, so
// an existing post is first moved aside to previous and restored on failure.
func swap(path, staged, previous string) error {
	_, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.Rename(staged, path); err != nil {
			return apperr.IO("refstore: rename "+path, err)
		}
		return nil
	case err != nil:
		return apperr.IO("refstore: stat "+path, err)
	}
	if err := os.Rename(path, previous); err != nil {
		return apperr.IO("refstore: move aside "+path, err)
	}
	if err := os.Rename(staged, path); err != nil {
		if rerr := os.Rename(previous, path); rerr != nil {
			return apperr.IO("refstore: restore "+path, errors.Join(err, rerr))
		}
		return apperr.IO("refstore: rename "+path, err)
	}
	return nil
}
