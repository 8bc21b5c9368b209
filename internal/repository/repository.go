// Package repository implements the knowledge repository contract over a
// closed set of backends: a plain folder, a git working tree with a
// branch-per-post review workflow, and a SQLite database.
package repository

import (
	"context"
	"iter"

	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
)

// Kind tags a backend implementation.
type Kind string

const (
	KindFolder Kind = "folder"
	KindGit    Kind = "git"
	KindSQLite Kind = "sqlite"
)

// DirOptions filters Dir listings. Zero values match everything.
type DirOptions struct {
	// Prefix keeps posts whose path starts with it.
	Prefix string
	// Pattern is a doublestar glob matched against the post path.
	Pattern string
	// Statuses keeps posts in one of the listed statuses.
	Statuses []lifecycle.Status
}

// AddOptions control Add.
type AddOptions struct {
	// Path overrides the post's target path header.
	Path string
	// Update allows replacing an existing post.
	Update bool
	// Branch overrides the review branch (git only).
	Branch string
	// Message overrides the commit message (git only).
	Message string
}

// ChangeKind classifies a reference difference.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
)

// RefChange is one reference that differs between two revisions of a post.
// Before and After hold BLAKE3 checksums, empty on the missing side.
type RefChange struct {
	Name   string     `json:"name"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// ReferenceStore is reference-level access to posts. A non-empty rev selects
// a historical revision, which only version-controlled backends support.
type ReferenceStore interface {
	ReadRef(ctx context.Context, path, name, rev string) ([]byte, error)
	HasRef(ctx context.Context, path, name, rev string) (bool, error)
	Refs(ctx context.Context, path, rev string) iter.Seq2[string, error]
	WriteRef(ctx context.Context, path, name string, data []byte) error
	BumpRevision(ctx context.Context, path, uuid string) (int, error)
}

// Repository is the storage API consumed by higher layers.
type Repository interface {
	ReferenceStore

	Kind() Kind
	// Location is the absolute path backing the repository.
	Location() string
	Config() Config

	// Dir lists post paths matching opts, sorted by path.
	Dir(ctx context.Context, opts DirOptions) iter.Seq2[string, error]
	Status(ctx context.Context, path string) (lifecycle.Status, error)
	// Post loads a post; rev "" selects the newest revision.
	Post(ctx context.Context, path, rev string) (*post.Post, error)

	// Add stores p and fills its Path, UUID and Revision fields.
	Add(ctx context.Context, p *post.Post, opts AddOptions) error
	Submit(ctx context.Context, path string) error
	Accept(ctx context.Context, path string) error
	Publish(ctx context.Context, path string) error
	Unpublish(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error

	Diff(ctx context.Context, path, head, base string) ([]RefChange, error)
	Revisions(ctx context.Context, path string) ([]string, error)
	// Update brings the repository up to date with its remote, if any.
	Update(ctx context.Context) error

	Close() error
}
