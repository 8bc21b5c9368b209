package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/git"
	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/refstore"
)

// Commit trailers that record lifecycle actions on the canonical branch.
const (
	trailerAction = "Knowledge-Action"
	trailerPath   = "Knowledge-Path"

	submittedRefPrefix = "refs/knowledge/submitted/"
)

// Git is a repository in a git working tree. Published posts live on the
// canonical branch; drafts live on one review branch per post.
type Git struct {
	refAccess

	root      string
	repo      *git.Repository
	committer *git.Committer
	cfg       Config
	logger    *slog.Logger
	mu        sync.Mutex
}

var _ Repository = (*Git)(nil)

func openGit(root string, o *options) (*Git, error) {
	if !git.IsRepository(root) {
		return nil, fmt.Errorf("repository: %s is not a git checkout: %w", root, apperr.ErrNotFound)
	}
	cfg, err := loadConfigFile(root, o.logger)
	if err != nil {
		return nil, err
	}
	repo := git.NewRepository(root)
	g := &Git{
		root: root,
		repo: repo,
		committer: git.NewCommitter(repo,
			git.WithHookRunner(o.hookRunner),
			git.WithHookTimeout(cfg.HookTimeout),
			git.WithLogger(o.logger)),
		cfg:    cfg,
		logger: o.logger,
	}
	g.refAccess = refAccess{
		read: func(ctx context.Context, path, rev string) (refstore.Store, error) {
			if rev == "" {
				var err error
				if rev, err = g.latestRev(ctx, path); err != nil {
					return nil, err
				}
			}
			return storeAt(ctx, g.repo, rev, path)
		},
	}
	return g, nil
}

func (g *Git) Kind() Kind       { return KindGit }
func (g *Git) Location() string { return g.root }
func (g *Git) Config() Config   { return g.cfg }
func (g *Git) Close() error     { return nil }

func (g *Git) canonical() string { return g.cfg.PublishedBranch }

func (g *Git) abs(path string) string {
	return filepath.Join(g.root, filepath.FromSlash(path))
}

// Update fast-forwards the canonical branch from the remote when one is
// configured and present.
func (g *Git) Update(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ok, err := g.hasRemote(ctx)
	if err != nil || !ok {
		return err
	}
	if err := g.checkout(ctx, g.canonical()); err != nil {
		return err
	}
	if _, err := g.repo.Run(ctx, "pull", "--quiet", "--ff-only", g.cfg.Remote, g.canonical()); err != nil {
		return fmt.Errorf("repository: update: %w", err)
	}
	return nil
}

func (g *Git) hasRemote(ctx context.Context) (bool, error) {
	if g.cfg.Remote == "" {
		return false, nil
	}
	out, err := g.repo.Run(ctx, "remote")
	if err != nil {
		return false, err
	}
	return slices.Contains(strings.Fields(out), g.cfg.Remote), nil
}

func (g *Git) checkout(ctx context.Context, branch string) error {
	// The trailing "--" keeps a branch named after a post from being read
	// as a path.
	_, err := g.repo.Run(ctx, "checkout", "--quiet", branch, "--")
	return err
}

// branchName turns a post path into a valid branch name.
func branchName(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r <= ' ' || r == 0x7f || strings.ContainsRune("~^:?*[\\", r):
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	name := b.String()
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	return strings.ReplaceAll(name, "@{", "-{")
}

// branchFor finds the review branch holding unmerged work on path: the
// branch named after the post first, then any branch touching it.
func (g *Git) branchFor(ctx context.Context, path string) (string, bool, error) {
	unmerged := func(branch string) (bool, error) {
		out, err := g.repo.Run(ctx, "rev-list", "--count", g.canonical()+".."+branch, "--", path)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(out) != "0", nil
	}

	def := branchName(path)
	exists, err := g.repo.RefExists(ctx, "refs/heads/"+def)
	if err != nil {
		return "", false, err
	}
	if exists && def != g.canonical() {
		ok, err := unmerged(def)
		if err != nil || ok {
			return def, ok, err
		}
	}

	branches, err := g.repo.Branches(ctx)
	if err != nil {
		return "", false, err
	}
	for _, b := range branches {
		if b == g.canonical() || b == def {
			continue
		}
		ok, err := unmerged(b)
		if err != nil {
			return "", false, err
		}
		if ok {
			return b, true, nil
		}
	}
	return "", false, nil
}

// lastAction returns the newest canonical commit whose trailers name path,
// with its recorded action.
func (g *Git) lastAction(ctx context.Context, path string) (action, commit string, err error) {
	ids, err := g.repo.Log(ctx, "--fixed-strings", "--grep="+trailerPath+": "+path, g.canonical())
	if err != nil {
		return "", "", err
	}
	for _, id := range ids {
		msg, err := g.repo.Run(ctx, "log", "-1", "--format=%B", id)
		if err != nil {
			return "", "", err
		}
		tr := parseTrailers(msg)
		if tr[trailerPath] == path {
			return tr[trailerAction], id, nil
		}
	}
	return "", "", nil
}

func parseTrailers(msg string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(msg, "\n") {
		k, v, ok := strings.Cut(line, ": ")
		if ok && strings.HasPrefix(k, "Knowledge-") {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func message(subject, action, path string) string {
	return fmt.Sprintf("%s\n\n%s: %s\n%s: %s\n", subject, trailerAction, action, trailerPath, path)
}

func (g *Git) onCanonical(ctx context.Context, path string) (bool, error) {
	_, err := g.repo.ObjectType(ctx, g.canonical()+":"+path)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (g *Git) Status(ctx context.Context, path string) (lifecycle.Status, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return lifecycle.None, err
	}
	return g.status(ctx, norm)
}

func (g *Git) status(ctx context.Context, path string) (lifecycle.Status, error) {
	branch, ok, err := g.branchFor(ctx, path)
	if err != nil {
		return lifecycle.None, err
	}
	if ok {
		tip, err := g.repo.RevParse(ctx, "refs/heads/"+branch)
		if err != nil {
			return lifecycle.None, err
		}
		sub, err := g.repo.RevParse(ctx, submittedRefPrefix+branch)
		if err == nil && sub == tip {
			return lifecycle.Submitted, nil
		}
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return lifecycle.None, err
		}
		return lifecycle.Draft, nil
	}

	published, err := g.onCanonical(ctx, path)
	if err != nil {
		return lifecycle.None, err
	}
	if published {
		return lifecycle.Published, nil
	}

	action, _, err := g.lastAction(ctx, path)
	if err != nil {
		return lifecycle.None, err
	}
	if action == lifecycle.Unpublish.String() {
		return lifecycle.Unpublished, nil
	}
	return lifecycle.None, fmt.Errorf("repository: post %s: %w", path, apperr.ErrNotFound)
}

func (g *Git) statusOrNone(ctx context.Context, path string) (lifecycle.Status, error) {
	st, err := g.status(ctx, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return lifecycle.None, nil
	}
	return st, err
}

// latestRev selects the newest revision of path: its review branch, the
// canonical branch, or the state before it was unpublished.
func (g *Git) latestRev(ctx context.Context, path string) (string, error) {
	branch, ok, err := g.branchFor(ctx, path)
	if err != nil {
		return "", err
	}
	if ok {
		return "refs/heads/" + branch, nil
	}
	published, err := g.onCanonical(ctx, path)
	if err != nil {
		return "", err
	}
	if published {
		return g.canonical(), nil
	}
	action, commit, err := g.lastAction(ctx, path)
	if err != nil {
		return "", err
	}
	if action == lifecycle.Unpublish.String() {
		return commit + "^", nil
	}
	return "", fmt.Errorf("repository: post %s: %w", path, apperr.ErrNotFound)
}

// Dir lists posts on the canonical branch, on review branches and, when the
// status filter asks for them, unpublished posts.
func (g *Git) Dir(ctx context.Context, opts DirOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		filter, err := newDirFilter(opts)
		if err != nil {
			yield("", err)
			return
		}
		candidates, err := g.candidates(ctx, filter.matchStatus(lifecycle.Unpublished))
		if err != nil {
			yield("", err)
			return
		}
		for _, p := range candidates {
			if !filter.matchPath(p) {
				continue
			}
			st, err := g.Status(ctx, p)
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			if !filter.matchStatus(st) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (g *Git) candidates(ctx context.Context, withHistory bool) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(files []string) {
		for _, f := range files {
			if p := PostOf(f); p != "" {
				seen[p] = struct{}{}
			}
		}
	}

	files, err := g.repo.ListFiles(ctx, g.canonical(), ".")
	if err != nil {
		return nil, err
	}
	add(files)

	branches, err := g.repo.Branches(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if b == g.canonical() {
			continue
		}
		out, err := g.repo.Run(ctx, "diff", "--name-only", g.canonical()+"..."+b)
		if err != nil {
			return nil, err
		}
		add(strings.Split(strings.TrimSpace(out), "\n"))
	}

	if withHistory {
		out, err := g.repo.Run(ctx, "log", "--format=", "--name-only", "--diff-filter=D", g.canonical())
		if err != nil {
			return nil, err
		}
		add(strings.Split(strings.TrimSpace(out), "\n"))
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

func (g *Git) Post(ctx context.Context, path, rev string) (*post.Post, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	s, err := g.read(ctx, norm, rev)
	if err != nil {
		return nil, err
	}
	return loadPost(s, norm)
}

// rollback discards uncommitted changes to path and returns to the
// canonical branch.
func (g *Git) rollback(ctx context.Context, path string) {
	if _, err := g.repo.Run(ctx, "reset", "--quiet", "--", path); err != nil {
		g.logger.Warn("rollback unstage failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	// Fails harmlessly when HEAD does not contain path.
	_, _ = g.repo.Run(ctx, "checkout", "--quiet", "HEAD", "--", path)
	if _, err := g.repo.Run(ctx, "clean", "--quiet", "-fd", "--", path); err != nil {
		g.logger.Warn("rollback clean failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if err := g.checkout(ctx, g.canonical()); err != nil {
		g.logger.Warn("rollback checkout failed", slog.String("error", err.Error()))
	}
}

// commitPath stages path and commits it with the hook-aware committer.
func (g *Git) commitPath(ctx context.Context, path, msg string, extraParents ...string) (string, error) {
	if _, err := g.repo.Run(ctx, "add", "--all", "--", path); err != nil {
		return "", err
	}
	return g.committer.Commit(ctx, msg, extraParents...)
}

func (g *Git) Add(ctx context.Context, p *post.Post, opts AddOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	path, err := preparePost(p, opts)
	if err != nil {
		return err
	}
	st, err := g.statusOrNone(ctx, path)
	if err != nil {
		return err
	}
	if _, err := lifecycle.ReviewMachine.Next(st, lifecycle.Add); err != nil {
		return err
	}

	branch, created, err := g.openDraft(ctx, path, opts.Branch, st)
	if err != nil {
		return err
	}
	s, err := refstore.Open(g.abs(path), newForm(g.cfg))
	if err != nil {
		return g.abandonDraft(ctx, path, branch, created, err)
	}
	if err := storePost(s, p, path, opts.Update); err != nil {
		return g.abandonDraft(ctx, path, branch, created, err)
	}

	action := lifecycle.Add.String()
	subject := opts.Message
	if subject == "" {
		subject = fmt.Sprintf("Add post %s", path)
		if p.Revision > 1 {
			subject = fmt.Sprintf("Update post %s to revision %d", path, p.Revision)
		}
	}
	commit, err := g.commitPath(ctx, path, message(subject, action, path))
	if err != nil {
		return g.abandonDraft(ctx, path, branch, created, err)
	}
	if err := g.checkout(ctx, g.canonical()); err != nil {
		return err
	}
	g.logger.Info("post added",
		slog.String("path", path),
		slog.String("branch", branch),
		slog.String("commit", commit),
		slog.Int("revision", p.Revision))
	return nil
}

// openDraft checks out the review branch that takes new work on path,
// creating it from the canonical branch when it does not exist. A new branch
// for an unpublished post gets the post's last tree back so its identity
// carries over. It reports whether the branch was created.
func (g *Git) openDraft(ctx context.Context, path, branch string, st lifecycle.Status) (string, bool, error) {
	if branch == "" {
		b, ok, err := g.branchFor(ctx, path)
		if err != nil {
			return "", false, err
		}
		branch = branchName(path)
		if ok {
			branch = b
		}
	}
	if branch == g.canonical() {
		return "", false, fmt.Errorf("repository: cannot draft on the published branch %s: %w", branch, apperr.ErrConflict)
	}

	exists, err := g.repo.RefExists(ctx, "refs/heads/"+branch)
	if err != nil {
		return "", false, err
	}
	if exists {
		return branch, false, g.checkout(ctx, branch)
	}
	if _, err := g.repo.Run(ctx, "checkout", "--quiet", "-b", branch, g.canonical(), "--"); err != nil {
		return "", false, err
	}
	if st == lifecycle.Unpublished {
		_, commit, err := g.lastAction(ctx, path)
		if err == nil {
			_, err = g.repo.Run(ctx, "checkout", commit+"^", "--", path)
		}
		if err != nil {
			return "", false, g.abandonDraft(ctx, path, branch, true, err)
		}
	}
	return branch, true, nil
}

// abandonDraft undoes uncommitted work on path, dropping branch when it was
// created for that work, and returns err.
func (g *Git) abandonDraft(ctx context.Context, path, branch string, created bool, err error) error {
	g.rollback(ctx, path)
	if created {
		if _, derr := g.repo.Run(ctx, "branch", "--quiet", "-D", branch); derr != nil {
			g.logger.Warn("remove draft branch failed", slog.String("branch", branch), slog.String("error", derr.Error()))
		}
	}
	return err
}

// WriteRef commits a single reference to the review branch of path, opening
// a new draft revision as Add does.
func (g *Git) WriteRef(ctx context.Context, path, name string, data []byte) error {
	return g.commitRefs(ctx, path, "Write reference "+name, func(s refstore.Store) error {
		return s.Write(name, data)
	})
}

// BumpRevision commits an incremented revision counter to the review branch
// of path.
func (g *Git) BumpRevision(ctx context.Context, path, id string) (int, error) {
	var rev int
	err := g.commitRefs(ctx, path, "Bump revision", func(s refstore.Store) error {
		var err error
		rev, err = refstore.Bump(s, id)
		return err
	})
	return rev, err
}

func (g *Git) commitRefs(ctx context.Context, path, what string, fn func(refstore.Store) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	st, err := g.statusOrNone(ctx, norm)
	if err != nil {
		return err
	}
	if _, err := lifecycle.ReviewMachine.Next(st, lifecycle.Add); err != nil {
		return err
	}
	branch, created, err := g.openDraft(ctx, norm, "", st)
	if err != nil {
		return err
	}
	s, err := refstore.Open(g.abs(norm), newForm(g.cfg))
	if err != nil {
		return g.abandonDraft(ctx, norm, branch, created, err)
	}
	if err := fn(s); err != nil {
		return g.abandonDraft(ctx, norm, branch, created, err)
	}
	if _, err := g.commitPath(ctx, norm, message(what+" of post "+norm, "write", norm)); err != nil {
		return g.abandonDraft(ctx, norm, branch, created, err)
	}
	return g.checkout(ctx, g.canonical())
}

func (g *Git) Submit(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if err := g.require(ctx, norm, lifecycle.Submit); err != nil {
		return err
	}
	branch, _, err := g.branchFor(ctx, norm)
	if err != nil {
		return err
	}
	tip, err := g.repo.RevParse(ctx, "refs/heads/"+branch)
	if err != nil {
		return err
	}

	remote, err := g.hasRemote(ctx)
	if err != nil {
		return err
	}
	if remote {
		if _, err := g.repo.Run(ctx, "push", "--quiet", "--force", g.cfg.Remote, branch); err != nil {
			return fmt.Errorf("repository: submit %s: %w", norm, err)
		}
	} else {
		g.logger.Debug("no review remote, recording submission locally", slog.String("path", norm))
	}

	if _, err := g.repo.Run(ctx, "update-ref", submittedRefPrefix+branch, tip); err != nil {
		return err
	}
	g.logger.Info("post submitted", slog.String("path", norm), slog.String("branch", branch))
	return nil
}

// require checks that action is legal for path right now.
func (g *Git) require(ctx context.Context, path string, action lifecycle.Action) error {
	st, err := g.status(ctx, path)
	if err != nil {
		return err
	}
	_, err = lifecycle.ReviewMachine.Next(st, action)
	return err
}

func (g *Git) Accept(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if err := g.require(ctx, norm, lifecycle.Accept); err != nil {
		return err
	}
	return g.accept(ctx, norm, lifecycle.Accept)
}

// accept merges the review branch of path into the canonical branch with a
// hook-aware merge commit.
func (g *Git) accept(ctx context.Context, path string, action lifecycle.Action) error {
	branch, _, err := g.branchFor(ctx, path)
	if err != nil {
		return err
	}
	tip, err := g.repo.RevParse(ctx, "refs/heads/"+branch)
	if err != nil {
		return err
	}
	if err := g.checkout(ctx, g.canonical()); err != nil {
		return err
	}
	if _, err := g.repo.Run(ctx, "merge", "--quiet", "--no-ff", "--no-commit", tip); err != nil {
		g.abortMerge(ctx)
		return fmt.Errorf("repository: merge %s: %w: %w", branch, apperr.ErrConflict, err)
	}
	subject := fmt.Sprintf("Merge post %s from %s", path, branch)
	if _, err := g.committer.Commit(ctx, message(subject, action.String(), path), tip); err != nil {
		g.abortMerge(ctx)
		return err
	}
	g.clearMergeState(ctx)

	if err := g.clearSubmitted(ctx, branch); err != nil {
		g.logger.Warn("clear submitted ref failed", slog.String("branch", branch), slog.String("error", err.Error()))
	}
	if _, err := g.repo.Run(ctx, "branch", "--quiet", "-D", branch); err != nil {
		g.logger.Warn("delete merged branch failed", slog.String("branch", branch), slog.String("error", err.Error()))
	}
	g.logger.Info("post published", slog.String("path", path), slog.String("branch", branch))
	return nil
}

// clearSubmitted drops the submission marker of branch, if any.
func (g *Git) clearSubmitted(ctx context.Context, branch string) error {
	ref := submittedRefPrefix + branch
	ok, err := g.repo.RefExists(ctx, ref)
	if err != nil || !ok {
		return err
	}
	_, err = g.repo.Run(ctx, "update-ref", "-d", ref)
	return err
}

func (g *Git) abortMerge(ctx context.Context) {
	if _, err := g.repo.Run(ctx, "merge", "--abort"); err != nil {
		g.logger.Warn("merge abort failed", slog.String("error", err.Error()))
	}
}

// clearMergeState removes the files `git merge --no-commit` leaves behind,
// which `git commit` would normally delete.
func (g *Git) clearMergeState(ctx context.Context) {
	for _, name := range []string{"MERGE_HEAD", "MERGE_MSG", "MERGE_MODE", "AUTO_MERGE"} {
		p, err := g.repo.GitPath(ctx, name)
		if err != nil {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("remove merge state failed", slog.String("file", p), slog.String("error", err.Error()))
		}
	}
}

func (g *Git) Publish(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	st, err := g.status(ctx, norm)
	if err != nil {
		return err
	}
	if _, err := lifecycle.ReviewMachine.Next(st, lifecycle.Publish); err != nil {
		return err
	}
	switch st {
	case lifecycle.Submitted:
		return g.accept(ctx, norm, lifecycle.Publish)
	case lifecycle.Unpublished:
		return g.republish(ctx, norm)
	default:
		return nil
	}
}

// republish restores path on the canonical branch from the commit before it
// was unpublished.
func (g *Git) republish(ctx context.Context, path string) error {
	_, commit, err := g.lastAction(ctx, path)
	if err != nil {
		return err
	}
	if err := g.checkout(ctx, g.canonical()); err != nil {
		return err
	}
	if _, err := g.repo.Run(ctx, "checkout", commit+"^", "--", path); err != nil {
		g.rollback(ctx, path)
		return err
	}
	if _, err := g.commitPath(ctx, path, message("Republish post "+path, lifecycle.Publish.String(), path)); err != nil {
		g.rollback(ctx, path)
		return err
	}
	g.logger.Info("post republished", slog.String("path", path))
	return nil
}

func (g *Git) Unpublish(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if err := g.require(ctx, norm, lifecycle.Unpublish); err != nil {
		return err
	}
	if err := g.deleteOnCanonical(ctx, norm, "Unpublish post "+norm, lifecycle.Unpublish.String()); err != nil {
		return err
	}
	g.logger.Info("post unpublished", slog.String("path", norm))
	return nil
}

func (g *Git) deleteOnCanonical(ctx context.Context, path, subject, action string) error {
	if err := g.checkout(ctx, g.canonical()); err != nil {
		return err
	}
	present, err := g.onCanonical(ctx, path)
	if err != nil {
		return err
	}
	if present {
		if _, err := g.repo.Run(ctx, "rm", "-r", "--quiet", "--", path); err != nil {
			g.rollback(ctx, path)
			return err
		}
	}
	if _, err := g.committer.Commit(ctx, message(subject, action, path)); err != nil {
		g.rollback(ctx, path)
		return err
	}
	return nil
}

// Remove deletes every trace of path from the working state: the canonical
// copy, the review branch and its submission marker.
func (g *Git) Remove(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if _, err := g.status(ctx, norm); err != nil {
		return err
	}

	branch, ok, err := g.branchFor(ctx, norm)
	if err != nil {
		return err
	}
	if ok {
		if err := g.checkout(ctx, g.canonical()); err != nil {
			return err
		}
		if _, err := g.repo.Run(ctx, "branch", "--quiet", "-D", branch); err != nil {
			return err
		}
		if err := g.clearSubmitted(ctx, branch); err != nil {
			return err
		}
	}

	// A published or unpublished state remains on the canonical branch.
	st, err := g.statusOrNone(ctx, norm)
	if err != nil {
		return err
	}
	if st == lifecycle.Published || st == lifecycle.Unpublished {
		if err := g.deleteOnCanonical(ctx, norm, "Remove post "+norm, "remove"); err != nil {
			return err
		}
	}
	g.logger.Info("post removed", slog.String("path", norm))
	return nil
}

func (g *Git) Diff(ctx context.Context, path, head, base string) ([]RefChange, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if head == "" {
		if head, err = g.latestRev(ctx, norm); err != nil {
			return nil, err
		}
	}
	if base == "" {
		base = g.canonical()
	}
	headStore, err := storeAt(ctx, g.repo, head, norm)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	baseStore, berr := storeAt(ctx, g.repo, base, norm)
	if berr != nil && !errors.Is(berr, apperr.ErrNotFound) {
		return nil, berr
	}
	if headStore == nil && baseStore == nil {
		return nil, fmt.Errorf("repository: post %s at %s or %s: %w", norm, head, base, apperr.ErrNotFound)
	}
	return diffStores(baseStore, headStore)
}

// Revisions lists commits touching path on its review branch and the
// canonical branch, newest first.
func (g *Git) Revisions(ctx context.Context, path string) ([]string, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	revs := []string{g.canonical()}
	branch, ok, err := g.branchFor(ctx, norm)
	if err != nil {
		return nil, err
	}
	if ok {
		revs = append(revs, "refs/heads/"+branch)
	}
	args := append(revs, "--", norm)
	ids, err := g.repo.Log(ctx, args...)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("repository: post %s: %w", norm, apperr.ErrNotFound)
	}
	return ids, nil
}
