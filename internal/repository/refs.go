package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/checksum"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/refstore"
)

// refAccess implements ReferenceStore on top of two store resolvers shared
// by every backend.
type refAccess struct {
	// read opens the post at rev for reading.
	read func(ctx context.Context, path, rev string) (refstore.Store, error)
	// write opens the latest state of the post for mutation. Backends that
	// commit writes themselves override WriteRef and BumpRevision instead.
	write func(ctx context.Context, path string) (refstore.Store, error)
}

func (a refAccess) ReadRef(ctx context.Context, path, name, rev string) ([]byte, error) {
	s, err := a.openRead(ctx, path, rev)
	if err != nil {
		return nil, err
	}
	return s.Read(name)
}

func (a refAccess) HasRef(ctx context.Context, path, name, rev string) (bool, error) {
	s, err := a.openRead(ctx, path, rev)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Exists(name)
}

func (a refAccess) Refs(ctx context.Context, path, rev string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s, err := a.openRead(ctx, path, rev)
		if errors.Is(err, apperr.ErrNotFound) {
			return
		}
		if err != nil {
			yield("", err)
			return
		}
		for name, err := range s.List("") {
			if !yield(name, err) || err != nil {
				return
			}
		}
	}
}

func (a refAccess) WriteRef(ctx context.Context, path, name string, data []byte) error {
	s, err := a.openWrite(ctx, path)
	if err != nil {
		return err
	}
	return s.Write(name, data)
}

func (a refAccess) BumpRevision(ctx context.Context, path, uuid string) (int, error) {
	s, err := a.openWrite(ctx, path)
	if err != nil {
		return 0, err
	}
	return refstore.Bump(s, uuid)
}

func (a refAccess) openRead(ctx context.Context, path, rev string) (refstore.Store, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return a.read(ctx, norm, rev)
}

func (a refAccess) openWrite(ctx context.Context, path string) (refstore.Store, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return a.write(ctx, norm)
}

// loadPost reads a post from s and stamps its path.
func loadPost(s refstore.Store, path string) (*post.Post, error) {
	p, err := post.Load(s)
	if err != nil {
		return nil, fmt.Errorf("repository: load %s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// noHistory rejects a revision selector on backends without history.
func noHistory(kind Kind, rev string) error {
	if rev != "" {
		return fmt.Errorf("repository: %s backend has no revision history: %w", kind, apperr.ErrNotSupported)
	}
	return nil
}

// digests returns reference checksums keyed by name. A nil store is empty.
func digests(s refstore.Store) (map[string]string, error) {
	out := make(map[string]string)
	if s == nil {
		return out, nil
	}
	for name, err := range s.List("") {
		if err != nil {
			return nil, err
		}
		data, err := s.Read(name)
		if err != nil {
			return nil, err
		}
		out[name] = checksum.Sum(data)
	}
	return out, nil
}

// diffStores compares two states of a post reference by reference.
func diffStores(base, head refstore.Store) ([]RefChange, error) {
	before, err := digests(base)
	if err != nil {
		return nil, err
	}
	after, err := digests(head)
	if err != nil {
		return nil, err
	}
	var changes []RefChange
	for name, sum := range after {
		prev, ok := before[name]
		switch {
		case !ok:
			changes = append(changes, RefChange{Name: name, Kind: Added, After: sum})
		case prev != sum:
			changes = append(changes, RefChange{Name: name, Kind: Modified, Before: prev, After: sum})
		}
	}
	for name, sum := range before {
		if _, ok := after[name]; !ok {
			changes = append(changes, RefChange{Name: name, Kind: Deleted, Before: sum})
		}
	}
	slices.SortFunc(changes, func(a, b RefChange) int { return strings.Compare(a.Name, b.Name) })
	return changes, nil
}
