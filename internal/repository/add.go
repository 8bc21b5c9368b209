package repository

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/refstore"
)

// preparePost validates p for storage and resolves its target path.
func preparePost(p *post.Post, opts AddOptions) (string, error) {
	target := opts.Path
	if target == "" {
		target = p.Headers.Path
	}
	if target == "" {
		target = p.Path
	}
	if target == "" {
		return "", fmt.Errorf("repository: post has no target path: %w", apperr.ErrInvalidPath)
	}
	path, err := NormalizePath(target)
	if err != nil {
		return "", err
	}
	p.Headers.Normalize()
	if err := p.Headers.Validate(); err != nil {
		return "", err
	}
	p.Headers.Path = path
	return path, nil
}

// storePost writes p into s, replacing the content of an existing post when
// update is set, and advances its revision. The stored UUID wins over any
// carried by p; a post without one gets a fresh UUID.
func storePost(s refstore.Store, p *post.Post, path string, update bool) error {
	exists, err := s.Exists(post.PrimaryRef)
	if err != nil {
		return err
	}
	if exists && !update {
		return fmt.Errorf("repository: post %s already exists: %w", path, apperr.ErrConflict)
	}
	if exists {
		stale, err := refstore.Names(s, "")
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := s.Remove(name); err != nil {
				return err
			}
		}
	}
	if err := p.Save(s); err != nil {
		return err
	}

	id, err := refstore.UUID(s)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.New().String()
	}
	rev, err := refstore.Bump(s, id)
	if err != nil {
		return err
	}
	p.Path, p.UUID, p.Revision = path, id, rev
	return nil
}

// newForm is the physical form used for posts that do not exist yet.
func newForm(cfg Config) refstore.Form {
	if cfg.PackedPosts {
		return refstore.Packed
	}
	return refstore.Expanded
}
