// Package watch reports changes to posts in a working tree.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/kr/internal/checksum"
	"github.com/starford/kr/internal/refstore"
	"github.com/starford/kr/internal/repository"
)

// Kind classifies a post change.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

// Event describes one settled change to a post.
type Event struct {
	Kind Kind
	// Path is the post path relative to the root, e.g. "team/a.kp".
	Path string
	// Digest is the content digest after the change, empty for Deleted.
	Digest string
}

// Callback receives events in the order they settle.
type Callback func(Event)

// DefaultSettle is how long a post must stay quiet before it is reported.
const DefaultSettle = 200 * time.Millisecond

// Watch reports post changes under root until ctx is cancelled. Changes to
// files inside a post are collapsed into one event per post once the post
// has been quiet for settle; a rewrite that leaves the content unchanged is
// not reported. Hidden directories such as .git are not watched.
func Watch(ctx context.Context, root string, settle time.Duration, logger *slog.Logger, cb Callback) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	known, err := scan(root)
	if err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root), slog.Int("posts", len(known)))

	dirty := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	touch := func(post string) {
		dirty[post] = struct{}{}
		if settleTimer == nil {
			settleTimer = time.NewTimer(settle)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			flush(root, dirty, known, logger, cb)
			clear(dirty)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() && !hidden(info.Name()) {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					// Posts may have been written into the directory before
					// it was watched.
					for _, p := range postsUnder(root, ev.Name) {
						touch(p)
					}
				}
			}

			if p := repository.PostOf(rel); p != "" {
				touch(p)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// A removed directory may hold several known posts.
				prefix := filepath.ToSlash(rel) + "/"
				for p := range known {
					if strings.HasPrefix(p, prefix) {
						touch(p)
					}
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// flush compares every dirty post with its last known digest and emits the
// resulting events in path order.
func flush(root string, dirty map[string]struct{}, known map[string]string, logger *slog.Logger, cb Callback) {
	paths := make([]string, 0, len(dirty))
	for p := range dirty {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, p := range paths {
		digest, err := Digest(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			logger.Warn("watcher: digest failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		prev, had := known[p]
		var ev Event
		switch {
		case digest == "" && had:
			delete(known, p)
			ev = Event{Kind: Deleted, Path: p}
		case digest == "":
			continue
		case !had:
			known[p] = digest
			ev = Event{Kind: Created, Path: p, Digest: digest}
		case prev != digest:
			known[p] = digest
			ev = Event{Kind: Updated, Path: p, Digest: digest}
		default:
			continue
		}
		logger.Debug("watcher: post changed", slog.String("path", p), slog.String("op", string(ev.Kind)))
		if cb != nil {
			cb(ev)
		}
	}
}

// Digest summarizes the references and revision of the post at path, or
// returns "" when there is no post there.
func Digest(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	s, err := refstore.Open(path, refstore.Expanded)
	if err != nil {
		return "", err
	}
	names, err := refstore.Names(s, "")
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	slices.Sort(names)
	rev, err := refstore.Revision(s)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(refstore.RevisionRef + "=" + strconv.Itoa(rev) + "\n")
	for _, name := range names {
		data, err := s.Read(name)
		if err != nil {
			return "", err
		}
		b.WriteString(name + "=" + checksum.Sum(data) + "\n")
	}
	return checksum.Sum([]byte(b.String())), nil
}

// scan records the digest of every post under root.
func scan(root string) (map[string]string, error) {
	known := make(map[string]string)
	for _, p := range postsUnder(root, root) {
		digest, err := Digest(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		if digest != "" {
			known[p] = digest
		}
	}
	return known, nil
}

// postsUnder lists the posts at or below dir, relative to root.
func postsUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if p := repository.PostOf(rel); p != "" && p == filepath.ToSlash(rel) {
			out = append(out, p)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its visible subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
