package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/git"
)

// Option configures Open and Create.
type Option func(*options)

type options struct {
	autoCreate bool
	logger     *slog.Logger
	hookRunner git.HookRunner
}

// WithAutoCreate makes Open create a missing repository.
func WithAutoCreate(on bool) Option {
	return func(o *options) { o.autoCreate = on }
}

// WithLogger sets the logger used by the backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHookRunner overrides how git hooks are executed.
func WithHookRunner(r git.HookRunner) Option {
	return func(o *options) { o.hookRunner = r }
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// schemes is the closed registry of URI schemes. The empty scheme means
// "detect from the filesystem".
var schemes = map[string]Kind{
	"":       "",
	"file":   KindFolder,
	"git":    KindGit,
	"sqlite": KindSQLite,
}

// ParseURI splits a repository URI into its backend kind and absolute
// location. An empty kind asks for detection.
func ParseURI(uri string) (Kind, string, error) {
	if strings.TrimSpace(uri) == "" {
		return "", "", fmt.Errorf("repository: empty uri: %w", apperr.ErrInvalidURI)
	}
	loc := uri
	scheme := ""
	if i := strings.Index(uri, "://"); i >= 0 {
		u, err := url.Parse(uri)
		if err != nil {
			return "", "", fmt.Errorf("repository: %q: %w: %v", uri, apperr.ErrInvalidURI, err)
		}
		scheme = strings.ToLower(u.Scheme)
		// file://relative/dir puts the first segment in Host.
		loc = u.Host + u.Path
		if loc == "" {
			return "", "", fmt.Errorf("repository: %q has no path: %w", uri, apperr.ErrInvalidURI)
		}
	}
	kind, ok := schemes[scheme]
	if !ok {
		return "", "", fmt.Errorf("repository: unknown scheme %q: %w", scheme, apperr.ErrInvalidURI)
	}
	abs, err := filepath.Abs(filepath.FromSlash(loc))
	if err != nil {
		return "", "", fmt.Errorf("repository: resolve %q: %w: %v", loc, apperr.ErrInvalidURI, err)
	}
	return kind, abs, nil
}

// detect picks the backend for a bare path.
func detect(path string) Kind {
	if git.IsRepository(path) {
		return KindGit
	}
	return KindFolder
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.IO("repository: stat "+path, err)
	}
	return true, nil
}

// Open resolves uri to a repository handle.
func Open(ctx context.Context, uri string, opts ...Option) (Repository, error) {
	o := buildOptions(opts)
	kind, loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = detect(loc)
	}

	present, err := exists(loc)
	if err != nil {
		return nil, err
	}
	if kind == KindGit && present {
		present = git.IsRepository(loc)
	}
	if !present {
		if !o.autoCreate {
			return nil, fmt.Errorf("repository: %s: %w", loc, apperr.ErrNotFound)
		}
		return create(ctx, kind, loc, o)
	}
	return open(ctx, kind, loc, o)
}

func open(ctx context.Context, kind Kind, loc string, o *options) (Repository, error) {
	switch kind {
	case KindFolder:
		return openFolder(loc, o)
	case KindGit:
		return openGit(loc, o)
	case KindSQLite:
		return openSQLite(ctx, loc, o)
	}
	return nil, fmt.Errorf("repository: unknown backend %q: %w", kind, apperr.ErrInvalidURI)
}

// Create initializes a repository at uri and opens it. Existing template
// files are kept.
func Create(ctx context.Context, uri string, opts ...Option) (Repository, error) {
	o := buildOptions(opts)
	kind, loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = detect(loc)
	}
	return create(ctx, kind, loc, o)
}

func create(ctx context.Context, kind Kind, loc string, o *options) (Repository, error) {
	switch kind {
	case KindSQLite:
		if err := os.MkdirAll(filepath.Dir(loc), 0o755); err != nil {
			return nil, apperr.IO("repository: mkdir", err)
		}
		if err := initSQLite(ctx, loc); err != nil {
			return nil, err
		}
	case KindFolder:
		if err := os.MkdirAll(loc, 0o755); err != nil {
			return nil, apperr.IO("repository: mkdir", err)
		}
		if _, err := writeTemplates(loc, o.logger); err != nil {
			return nil, err
		}
	case KindGit:
		if err := initGit(ctx, loc, o); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("repository: unknown backend %q: %w", kind, apperr.ErrInvalidURI)
	}
	o.logger.Info("repository created", slog.String("kind", string(kind)), slog.String("location", loc))
	return open(ctx, kind, loc, o)
}

// initGit makes loc a git checkout on the canonical branch and commits the
// templates through the hook-aware committer.
func initGit(ctx context.Context, loc string, o *options) error {
	if err := os.MkdirAll(loc, 0o755); err != nil {
		return apperr.IO("repository: mkdir", err)
	}
	cfg, err := loadConfigFile(loc, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	repo := git.NewRepository(loc)
	if !git.IsRepository(loc) {
		if repo, err = git.Init(ctx, loc, cfg.PublishedBranch); err != nil {
			return err
		}
	}
	written, err := writeTemplates(loc, o.logger)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		return nil
	}
	if _, err := repo.Run(ctx, append([]string{"add", "--"}, written...)...); err != nil {
		return err
	}
	changed, err := repo.HasChanges(ctx, written...)
	if err != nil || !changed {
		return err
	}
	committer := git.NewCommitter(repo,
		git.WithHookRunner(o.hookRunner),
		git.WithHookTimeout(cfg.HookTimeout),
		git.WithLogger(o.logger))
	_, err = committer.Commit(ctx, "Initialize knowledge repository\n")
	return err
}
