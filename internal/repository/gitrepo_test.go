package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/testutil"
)

func requireStatus(t *testing.T, r Repository, path string, want lifecycle.Status) {
	t.Helper()
	got, err := r.Status(context.Background(), path)
	if err != nil {
		t.Fatalf("Status(%s): %v", path, err)
	}
	if got != want {
		t.Fatalf("Status(%s) = %s, want %s", path, got, want)
	}
}

func TestGit_ReviewLifecycle(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	dir := r.Location()
	before := testutil.CommitCount(t, dir, "master")

	if err := r.Add(ctx, newPost("Review me"), AddOptions{Path: "projects/review"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	requireStatus(t, r, "projects/review", lifecycle.Draft)
	if got := testutil.CommitCount(t, dir, "master"); got != before {
		t.Errorf("draft touched master: %s commits, want %s", got, before)
	}
	if head := testutil.Git(t, dir, "symbolic-ref", "--short", "HEAD"); head != "master" {
		t.Errorf("working tree left on %q", head)
	}

	if err := r.Submit(ctx, "projects/review"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	requireStatus(t, r, "projects/review", lifecycle.Submitted)

	if err := r.Accept(ctx, "projects/review"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	requireStatus(t, r, "projects/review", lifecycle.Published)
	if _, err := os.Stat(filepath.Join(dir, "projects", "review.kp", post.PrimaryRef)); err != nil {
		t.Errorf("published post missing from working tree: %v", err)
	}
	parents := testutil.Git(t, dir, "log", "-1", "--format=%P", "master")
	if n := len(strings.Fields(parents)); n != 2 {
		t.Errorf("accept should create a merge commit, parents = %q", parents)
	}

	if err := r.Unpublish(ctx, "projects/review"); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	requireStatus(t, r, "projects/review", lifecycle.Unpublished)
	if got := collect(t, r, DirOptions{Statuses: []lifecycle.Status{lifecycle.Unpublished}}); !slices.Equal(got, []string{"projects/review.kp"}) {
		t.Errorf("Dir unpublished = %v", got)
	}
	p, err := r.Post(ctx, "projects/review", "")
	if err != nil {
		t.Fatalf("Post of unpublished: %v", err)
	}
	if p.Headers.Title != "Review me" {
		t.Errorf("title = %q", p.Headers.Title)
	}

	if err := r.Publish(ctx, "projects/review"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	requireStatus(t, r, "projects/review", lifecycle.Published)
}

func TestGit_IllegalTransitions(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	if err := r.Submit(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Submit missing err = %v, want ErrNotFound", err)
	}
	if err := r.Add(ctx, newPost("x"), AddOptions{Path: "d"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Accept(ctx, "d"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("Accept draft err = %v, want ErrInvalidTransition", err)
	}
	if err := r.Unpublish(ctx, "d"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("Unpublish draft err = %v, want ErrInvalidTransition", err)
	}
	requireStatus(t, r, "d", lifecycle.Draft)
}

func TestGit_PublishSubmittedMerges(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	if err := r.Add(ctx, newPost("x"), AddOptions{Path: "fast"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Submit(ctx, "fast"); err != nil {
		t.Fatal(err)
	}
	if err := r.Publish(ctx, "fast"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	requireStatus(t, r, "fast", lifecycle.Published)
}

func TestGit_PreCommitFailureLeavesNoTrace(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	dir := r.Location()
	testutil.WriteHook(t, dir, "pre-commit", "#!/bin/sh\necho 'lint failed' >&2\nexit 1\n")
	before := testutil.CommitCount(t, dir, "master")

	err := r.Add(ctx, newPost("x"), AddOptions{Path: "hooked"})
	if !errors.Is(err, apperr.ErrHookExecution) {
		t.Fatalf("err = %v, want ErrHookExecution", err)
	}
	var he *apperr.HookError
	if !errors.As(err, &he) || he.Hook != "pre-commit" {
		t.Errorf("hook error = %+v", he)
	}

	if got := testutil.CommitCount(t, dir, "master"); got != before {
		t.Errorf("commit count = %s, want %s", got, before)
	}
	if branches := testutil.Git(t, dir, "branch", "--list", "hooked.kp"); branches != "" {
		t.Errorf("draft branch left behind: %q", branches)
	}
	if _, err := os.Stat(filepath.Join(dir, "hooked.kp")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("post left in working tree: %v", err)
	}
	if _, err := r.Status(ctx, "hooked"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Status err = %v, want ErrNotFound", err)
	}
}

func TestGit_CommitMsgHookSeesTrailers(t *testing.T) {
	r := newGitRepo(t)
	dir := r.Location()
	testutil.WriteHook(t, dir, "commit-msg", "#!/bin/sh\ngrep -q '^Knowledge-Path: t.kp$' \"$1\" || exit 1\n")
	if err := r.Add(context.Background(), newPost("x"), AddOptions{Path: "t"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestGit_DiffAndHistory(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	if err := r.Add(ctx, newPost("first"), AddOptions{Path: "d"}); err != nil {
		t.Fatal(err)
	}

	changes, err := r.Diff(ctx, "d", "", "")
	if err != nil {
		t.Fatalf("Diff draft: %v", err)
	}
	if len(changes) != 1 || changes[0].Name != post.PrimaryRef || changes[0].Kind != Added {
		t.Errorf("draft diff = %+v", changes)
	}

	if err := r.Submit(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if err := r.Accept(ctx, "d"); err != nil {
		t.Fatal(err)
	}

	second := newPost("second")
	if err := second.SetRef("images/plot.png", []byte("png")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(ctx, second, AddOptions{Path: "d", Update: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	requireStatus(t, r, "d", lifecycle.Draft)
	if second.Revision != 2 {
		t.Errorf("revision = %d, want 2", second.Revision)
	}

	changes, err = r.Diff(ctx, "d", "", "")
	if err != nil {
		t.Fatalf("Diff update: %v", err)
	}
	want := []RefChange{
		{Name: "images/plot.png", Kind: Added},
		{Name: post.PrimaryRef, Kind: Modified},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %+v", changes)
	}
	for i := range want {
		if changes[i].Name != want[i].Name || changes[i].Kind != want[i].Kind {
			t.Errorf("change %d = %+v, want %s %s", i, changes[i], want[i].Name, want[i].Kind)
		}
	}

	published, err := r.Post(ctx, "d", "master")
	if err != nil {
		t.Fatalf("Post at master: %v", err)
	}
	if published.Headers.Title != "first" || published.Revision != 1 {
		t.Errorf("published = %q rev %d", published.Headers.Title, published.Revision)
	}
	draft, err := r.Post(ctx, "d", "")
	if err != nil {
		t.Fatal(err)
	}
	if draft.Headers.Title != "second" || draft.UUID != published.UUID {
		t.Errorf("draft = %q uuid %q", draft.Headers.Title, draft.UUID)
	}

	revs, err := r.Revisions(ctx, "d")
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if len(revs) < 2 {
		t.Fatalf("revisions = %v", revs)
	}
	if p, err := r.Post(ctx, "d", revs[len(revs)-1]); err != nil || p.Headers.Title != "first" {
		t.Errorf("oldest revision = %+v, %v", p, err)
	}
}

func TestGit_RemovePublished(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	if err := r.Add(ctx, newPost("x"), AddOptions{Path: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Submit(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	if err := r.Accept(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(ctx, "old"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Status(ctx, "old"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Status err = %v, want ErrNotFound", err)
	}
	if got := collect(t, r, DirOptions{}); len(got) != 0 {
		t.Errorf("Dir = %v", got)
	}
}

func TestGit_RemoveUnpublished(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	for _, step := range []func() error{
		func() error { return r.Add(ctx, newPost("x"), AddOptions{Path: "u"}) },
		func() error { return r.Submit(ctx, "u") },
		func() error { return r.Accept(ctx, "u") },
		func() error { return r.Unpublish(ctx, "u") },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Remove(ctx, "u"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Status(ctx, "u"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Status err = %v, want ErrNotFound", err)
	}
}

func TestGit_ReadRefAtRevision(t *testing.T) {
	r := newGitRepo(t)
	ctx := context.Background()
	if err := r.Add(ctx, newPost("x"), AddOptions{Path: "ro"}); err != nil {
		t.Fatal(err)
	}
	branch := "refs/heads/" + branchName("ro.kp")
	data, err := r.ReadRef(ctx, "ro", post.PrimaryRef, branch)
	if err != nil || len(data) == 0 {
		t.Fatalf("ReadRef at branch = %q, %v", data, err)
	}
	if ok, err := r.HasRef(ctx, "ro", "REVISION", branch); err != nil || !ok {
		t.Errorf("HasRef(REVISION) = %v, %v", ok, err)
	}
}

func TestGit_PackedPosts(t *testing.T) {
	dir := testutil.GitRepo(t)
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("packed_posts: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, dir, "add", ConfigFile)
	testutil.Git(t, dir, "commit", "--quiet", "-m", "config")

	r, err := Open(context.Background(), dir, WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind() != KindGit {
		t.Fatalf("kind = %s, want git", r.Kind())
	}
	ctx := context.Background()
	if err := r.Add(ctx, newPost("packed"), AddOptions{Path: "p"}); err != nil {
		t.Fatal(err)
	}
	typ := testutil.Git(t, dir, "cat-file", "-t", "refs/heads/p.kp:p.kp")
	if typ != "blob" {
		t.Errorf("object type = %q, want blob", typ)
	}
	p, err := r.Post(ctx, "p", "")
	if err != nil || p.Headers.Title != "packed" || p.Revision != 1 {
		t.Errorf("Post = %+v, %v", p, err)
	}
}

func publishOn(t *testing.T, r Repository, path, title string) {
	t.Helper()
	ctx := context.Background()
	if err := r.Add(ctx, newPost(title), AddOptions{Path: path}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Submit(ctx, path); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Accept(ctx, path); err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

func TestGit_UpdatePullsFromRemote(t *testing.T) {
	origin := newGitRepo(t)
	ctx := context.Background()
	publishOn(t, origin, "first", "first")

	clone := filepath.Join(t.TempDir(), "clone")
	testutil.Git(t, origin.Location(), "clone", "--quiet", origin.Location(), clone)
	testutil.ConfigureIdentity(t, clone)
	r, err := Open(ctx, "git://"+filepath.ToSlash(clone), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("Open clone: %v", err)
	}
	requireStatus(t, r, "first", lifecycle.Published)

	publishOn(t, origin, "second", "second")
	if _, err := r.Status(ctx, "second"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Status before update: %v, want ErrNotFound", err)
	}
	if err := r.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	requireStatus(t, r, "second", lifecycle.Published)
}

func TestGit_UpdateWithoutRemoteIsNoop(t *testing.T) {
	r := newGitRepo(t)
	if err := r.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestBranchName(t *testing.T) {
	tests := map[string]string{
		"a/b.kp":         "a/b.kp",
		"with space.kp":  "with-space.kp",
		"odd~name^x.kp":  "odd-name-x.kp",
		"dots..twice.kp": "dots.twice.kp",
	}
	for in, want := range tests {
		if got := branchName(in); got != want {
			t.Errorf("branchName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTrailers(t *testing.T) {
	tr := parseTrailers(message("Unpublish post a.kp", "unpublish", "a.kp"))
	if tr[trailerAction] != "unpublish" || tr[trailerPath] != "a.kp" {
		t.Errorf("trailers = %v", tr)
	}
}
