package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/git"
	"github.com/starford/kr/internal/refstore"
)

// gitTree is a read-only expanded post as recorded in a git tree object.
type gitTree struct {
	ctx  context.Context
	repo *git.Repository
	rev  string
	dir  string
}

var _ refstore.Store = (*gitTree)(nil)

func (t *gitTree) Form() refstore.Form { return refstore.Expanded }

func (t *gitTree) spec(name string) string {
	return t.rev + ":" + path.Join(t.dir, name)
}

func (t *gitTree) Read(name string) ([]byte, error) {
	data, err := t.repo.ReadBlob(t.ctx, t.spec(name))
	if err != nil {
		return nil, fmt.Errorf("repository: read %s at %s: %w", name, t.rev, err)
	}
	return data, nil
}

func (t *gitTree) Exists(name string) (bool, error) {
	typ, err := t.repo.ObjectType(t.ctx, t.spec(name))
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return typ == "blob", nil
}

func (t *gitTree) List(under string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		files, err := t.repo.ListFiles(t.ctx, t.rev, path.Join(t.dir, under))
		if err != nil {
			yield("", err)
			return
		}
		prefix := t.dir + "/"
		for _, f := range files {
			name := strings.TrimPrefix(f, prefix)
			if refstore.IsReserved(name) {
				continue
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (t *gitTree) Write(string, []byte) error {
	return fmt.Errorf("repository: revision %s is read-only: %w", t.rev, apperr.ErrNotSupported)
}

func (t *gitTree) Remove(string) error {
	return fmt.Errorf("repository: revision %s is read-only: %w", t.rev, apperr.ErrNotSupported)
}

// storeAt opens the post at path as recorded in rev.
func storeAt(ctx context.Context, repo *git.Repository, rev, p string) (refstore.Store, error) {
	typ, err := repo.ObjectType(ctx, rev+":"+p)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("repository: post %s at %s: %w", p, rev, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	switch typ {
	case "blob":
		data, err := repo.ReadBlob(ctx, rev+":"+p)
		if err != nil {
			return nil, err
		}
		return refstore.NewPacked(refstore.BytesArchive(data)), nil
	case "tree":
		return &gitTree{ctx: ctx, repo: repo, rev: rev, dir: p}, nil
	default:
		return nil, fmt.Errorf("repository: post %s at %s is a %s: %w", p, rev, typ, apperr.ErrNotFound)
	}
}
