package refstore

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/starford/kr/internal/apperr"
)

// Tree is an expanded post: a directory whose regular files are references.
type Tree struct {
	dir string
}

// NewTree returns a store rooted at dir. The directory need not exist yet.
func NewTree(dir string) *Tree {
	return &Tree{dir: dir}
}

// Dir returns the post directory.
func (t *Tree) Dir() string { return t.dir }

func (t *Tree) Form() Form { return Expanded }

func (t *Tree) abs(name string) (string, string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(t.dir, filepath.FromSlash(clean)), nil
}

func (t *Tree) Read(name string) ([]byte, error) {
	clean, p, err := t.abs(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("refstore: read %s: %w", clean, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.IO("refstore: read "+clean, err)
	}
	return data, nil
}

func (t *Tree) Write(name string, data []byte) error {
	clean, p, err := t.abs(name)
	if err != nil {
		return err
	}
	if err := t.checkLayout(clean); err != nil {
		return err
	}
	if err := WriteFileAtomic(p, data); err != nil {
		return apperr.IO("refstore: write "+clean, err)
	}
	return nil
}

// checkLayout rejects a write whose name is an existing directory or runs
// through an existing reference, matching the packed form.
func (t *Tree) checkLayout(clean string) error {
	if info, err := os.Stat(filepath.Join(t.dir, filepath.FromSlash(clean))); err == nil && info.IsDir() {
		return fmt.Errorf("refstore: reference %s is a directory: %w", clean, apperr.ErrInvalidPath)
	}
	for d := path.Dir(clean); d != "."; d = path.Dir(d) {
		info, err := os.Stat(filepath.Join(t.dir, filepath.FromSlash(d)))
		if err == nil && !info.IsDir() {
			return fmt.Errorf("refstore: reference %s is also the directory of %s: %w", d, clean, apperr.ErrInvalidPath)
		}
	}
	return nil
}

func (t *Tree) Exists(name string) (bool, error) {
	_, p, err := t.abs(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	// ENOTDIR: a file sits where a parent directory is expected.
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return false, nil
	}
	if err != nil {
		return false, apperr.IO("refstore: stat "+name, err)
	}
	return info.Mode().IsRegular(), nil
}

// List walks the post directory lazily. Names are slash-separated and
// relative to the post root.
func (t *Tree) List(under string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := underPrefix(under)
		if err != nil {
			yield("", err)
			return
		}
		root := filepath.Join(t.dir, filepath.FromSlash(prefix))
		if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
			return
		}
		stop := errors.New("stop")
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || isTemp(p) {
				return nil
			}
			rel, err := filepath.Rel(t.dir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if IsReserved(rel) {
				return nil
			}
			if !yield(rel, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield("", apperr.IO("refstore: list "+t.dir, err))
		}
	}
}

// Remove deletes a reference and prunes directories it leaves empty.
func (t *Tree) Remove(name string) error {
	clean, p, err := t.abs(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("refstore: remove %s: %w", clean, apperr.ErrNotFound)
		}
		return apperr.IO("refstore: remove "+clean, err)
	}
	for d := filepath.Dir(p); d != t.dir && len(d) > len(t.dir); d = filepath.Dir(d) {
		if os.Remove(d) != nil {
			break
		}
	}
	return nil
}
