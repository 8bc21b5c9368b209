package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/refstore"
)

// Folder is a repository stored as a plain directory tree. It has no review
// workflow: every stored post is published.
type Folder struct {
	refAccess

	root   string
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
}

var _ Repository = (*Folder)(nil)

func openFolder(root string, o *options) (*Folder, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("repository: %s: %w", root, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.IO("repository: stat "+root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository: %s is not a directory: %w", root, apperr.ErrInvalidURI)
	}
	cfg, err := loadConfigFile(root, o.logger)
	if err != nil {
		return nil, err
	}
	f := &Folder{root: root, cfg: cfg, logger: o.logger}
	f.refAccess = refAccess{
		read: func(_ context.Context, path, rev string) (refstore.Store, error) {
			if err := noHistory(KindFolder, rev); err != nil {
				return nil, err
			}
			return f.existing(path)
		},
		write: func(_ context.Context, path string) (refstore.Store, error) {
			return f.store(path)
		},
	}
	return f, nil
}

func (f *Folder) Kind() Kind                   { return KindFolder }
func (f *Folder) Location() string             { return f.root }
func (f *Folder) Config() Config               { return f.cfg }
func (f *Folder) Close() error                 { return nil }
func (f *Folder) Update(context.Context) error { return nil }

func (f *Folder) abs(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *Folder) store(path string) (refstore.Store, error) {
	return refstore.Open(f.abs(path), newForm(f.cfg))
}

// existing opens a post that must already be on disk.
func (f *Folder) existing(path string) (refstore.Store, error) {
	if _, err := os.Stat(f.abs(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("repository: post %s: %w", path, apperr.ErrNotFound)
		}
		return nil, apperr.IO("repository: stat "+path, err)
	}
	return f.store(path)
}

// Dir walks the tree for .kp entries, skipping hidden directories and never
// descending into a post.
func (f *Folder) Dir(_ context.Context, opts DirOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		filter, err := newDirFilter(opts)
		if err != nil {
			yield("", err)
			return
		}
		if !filter.matchStatus(lifecycle.Published) {
			return
		}
		stop := errors.New("stop")
		err = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == f.root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(name, PostExt) {
				return nil
			}
			rel, err := filepath.Rel(f.root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if filter.matchPath(rel) && !yield(rel, nil) {
				return stop
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield("", apperr.IO("repository: walk "+f.root, err))
		}
	}
}

func (f *Folder) Status(_ context.Context, path string) (lifecycle.Status, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return lifecycle.None, err
	}
	s, err := f.existing(norm)
	if err != nil {
		return lifecycle.None, err
	}
	ok, err := s.Exists(post.PrimaryRef)
	if err != nil {
		return lifecycle.None, err
	}
	if !ok {
		return lifecycle.None, fmt.Errorf("repository: post %s: %w", norm, apperr.ErrNotFound)
	}
	return lifecycle.Published, nil
}

func (f *Folder) Post(_ context.Context, path, rev string) (*post.Post, error) {
	if err := noHistory(KindFolder, rev); err != nil {
		return nil, err
	}
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	s, err := f.existing(norm)
	if err != nil {
		return nil, err
	}
	return loadPost(s, norm)
}

func (f *Folder) Add(ctx context.Context, p *post.Post, opts AddOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := preparePost(p, opts)
	if err != nil {
		return err
	}
	if _, err := lifecycle.DirectMachine.Next(f.statusOrNone(ctx, path), lifecycle.Add); err != nil {
		return err
	}
	// A failed add leaves the previous post untouched.
	var form refstore.Form
	err = refstore.Stage(f.abs(path), newForm(f.cfg), func(s refstore.Store) error {
		form = s.Form()
		return storePost(s, p, path, opts.Update)
	})
	if err != nil {
		return err
	}
	f.logger.Info("post added",
		slog.String("path", path),
		slog.Int("revision", p.Revision),
		slog.String("form", form.String()))
	return nil
}

func (f *Folder) statusOrNone(ctx context.Context, path string) lifecycle.Status {
	st, err := f.Status(ctx, path)
	if err != nil {
		return lifecycle.None
	}
	return st
}

func (f *Folder) transition(ctx context.Context, path string, action lifecycle.Action) error {
	_, err := lifecycle.DirectMachine.Next(f.statusOrNone(ctx, path), action)
	return err
}

func (f *Folder) Submit(ctx context.Context, path string) error {
	return f.transition(ctx, path, lifecycle.Submit)
}

func (f *Folder) Accept(ctx context.Context, path string) error {
	return f.transition(ctx, path, lifecycle.Accept)
}

func (f *Folder) Unpublish(ctx context.Context, path string) error {
	return f.transition(ctx, path, lifecycle.Unpublish)
}

// Publish is a no-op on an existing post.
func (f *Folder) Publish(ctx context.Context, path string) error {
	if _, err := f.Status(ctx, path); err != nil {
		return err
	}
	return f.transition(ctx, path, lifecycle.Publish)
}

func (f *Folder) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	target := f.abs(norm)
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("repository: post %s: %w", norm, apperr.ErrNotFound)
		}
		return apperr.IO("repository: stat "+norm, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return apperr.IO("repository: remove "+norm, err)
	}
	f.logger.Info("post removed", slog.String("path", norm))
	return nil
}

func (f *Folder) Diff(context.Context, string, string, string) ([]RefChange, error) {
	return nil, fmt.Errorf("repository: diff: %w", apperr.ErrNotSupported)
}

func (f *Folder) Revisions(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("repository: revisions: %w", apperr.ErrNotSupported)
}
