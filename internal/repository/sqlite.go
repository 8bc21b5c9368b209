package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/refstore"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS posts (
	path       TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'DRAFT',
	archive    BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status);

CREATE TABLE IF NOT EXISTS repo_config (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	document TEXT NOT NULL
);
`

// querier is the subset of *sql.DB and *sql.Tx the archive needs.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowArchive stores a packed post in the archive column of its row.
type rowArchive struct {
	ctx  context.Context
	q    querier
	path string
}

func (a rowArchive) Load() ([]byte, error) {
	var data []byte
	err := a.q.QueryRowContext(a.ctx, `SELECT archive FROM posts WHERE path = ?`, a.path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository: post %s: %w", a.path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.IO("repository: load "+a.path, err)
	}
	return data, nil
}

func (a rowArchive) Save(data []byte) error {
	_, err := a.q.ExecContext(a.ctx, `
		INSERT INTO posts (path, archive, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			archive    = excluded.archive,
			updated_at = excluded.updated_at
	`, a.path, data, time.Now().UTC())
	if err != nil {
		return apperr.IO("repository: save "+a.path, err)
	}
	return nil
}

// SQLite is a repository kept in a single SQLite database file. Posts are
// stored packed; the review workflow is tracked in a status column.
type SQLite struct {
	refAccess

	file   string
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
}

var _ Repository = (*SQLite)(nil)

func openSQLiteDB(file string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", file+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("repository: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperr.IO("repository: ping "+file, err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repository: apply schema: %w", err)
	}
	return conn, nil
}

func openSQLite(ctx context.Context, file string, o *options) (*SQLite, error) {
	conn, err := openSQLiteDB(file)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	var doc string
	err = conn.QueryRowContext(ctx, `SELECT document FROM repo_config WHERE id = 1`).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		o.logger.Warn("repository config not found, using defaults", slog.String("path", file))
	case err != nil:
		conn.Close()
		return nil, apperr.IO("repository: read config", err)
	default:
		if cfg, err = parseConfig([]byte(doc)); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s := &SQLite{file: file, db: conn, cfg: cfg, logger: o.logger}
	s.refAccess = refAccess{
		read: func(ctx context.Context, path, rev string) (refstore.Store, error) {
			if err := noHistory(KindSQLite, rev); err != nil {
				return nil, err
			}
			if _, err := s.status(ctx, path); err != nil {
				return nil, err
			}
			return s.store(ctx, s.db, path), nil
		},
		write: func(ctx context.Context, path string) (refstore.Store, error) {
			return s.store(ctx, s.db, path), nil
		},
	}
	return s, nil
}

func (s *SQLite) Kind() Kind                   { return KindSQLite }
func (s *SQLite) Location() string             { return s.file }
func (s *SQLite) Config() Config               { return s.cfg }
func (s *SQLite) Update(context.Context) error { return nil }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) store(ctx context.Context, q querier, path string) *refstore.PackedStore {
	return refstore.NewPacked(rowArchive{ctx: ctx, q: q, path: path})
}

func (s *SQLite) status(ctx context.Context, path string) (lifecycle.Status, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM posts WHERE path = ?`, path).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.None, fmt.Errorf("repository: post %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return lifecycle.None, apperr.IO("repository: status "+path, err)
	}
	return lifecycle.ParseStatus(name)
}

func (s *SQLite) Status(ctx context.Context, path string) (lifecycle.Status, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return lifecycle.None, err
	}
	return s.status(ctx, norm)
}

func (s *SQLite) Dir(ctx context.Context, opts DirOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		filter, err := newDirFilter(opts)
		if err != nil {
			yield("", err)
			return
		}
		rows, err := s.db.QueryContext(ctx, `SELECT path, status FROM posts ORDER BY path`)
		if err != nil {
			yield("", apperr.IO("repository: dir", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var p, name string
			if err := rows.Scan(&p, &name); err != nil {
				yield("", apperr.IO("repository: dir scan", err))
				return
			}
			st, err := lifecycle.ParseStatus(name)
			if err != nil {
				if !yield("", err) {
					return
				}
				continue
			}
			if !filter.matchPath(p) || !filter.matchStatus(st) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", apperr.IO("repository: dir", err))
		}
	}
}

func (s *SQLite) Post(ctx context.Context, path, rev string) (*post.Post, error) {
	norm, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	st, err := s.read(ctx, norm, rev)
	if err != nil {
		return nil, err
	}
	return loadPost(st, norm)
}

// Add writes the post and its status in one transaction.
func (s *SQLite) Add(ctx context.Context, p *post.Post, opts AddOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := preparePost(p, opts)
	if err != nil {
		return err
	}
	cur, err := s.status(ctx, path)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	next, err := lifecycle.ReviewMachine.Next(cur, lifecycle.Add)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IO("repository: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := storePost(s.store(ctx, tx, path), p, path, opts.Update); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET status = ? WHERE path = ?`, next.String(), path); err != nil {
		return apperr.IO("repository: set status", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.IO("repository: commit", err)
	}
	s.logger.Info("post added", slog.String("path", path), slog.Int("revision", p.Revision))
	return nil
}

// transition moves path through action and stores the new status.
func (s *SQLite) transition(ctx context.Context, path string, action lifecycle.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	cur, err := s.status(ctx, norm)
	if err != nil {
		return err
	}
	next, err := lifecycle.ReviewMachine.Next(cur, action)
	if err != nil {
		return err
	}
	if next == cur {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, updated_at = ? WHERE path = ? AND status = ?`,
		next.String(), time.Now().UTC(), norm, cur.String())
	if err != nil {
		return apperr.IO("repository: set status", err)
	}
	s.logger.Info("post status changed",
		slog.String("path", norm),
		slog.String("from", cur.String()),
		slog.String("to", next.String()))
	return nil
}

func (s *SQLite) Submit(ctx context.Context, path string) error {
	return s.transition(ctx, path, lifecycle.Submit)
}

func (s *SQLite) Accept(ctx context.Context, path string) error {
	return s.transition(ctx, path, lifecycle.Accept)
}

func (s *SQLite) Publish(ctx context.Context, path string) error {
	return s.transition(ctx, path, lifecycle.Publish)
}

func (s *SQLite) Unpublish(ctx context.Context, path string) error {
	return s.transition(ctx, path, lifecycle.Unpublish)
}

func (s *SQLite) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm, err := NormalizePath(path)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE path = ?`, norm)
	if err != nil {
		return apperr.IO("repository: remove "+norm, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repository: post %s: %w", norm, apperr.ErrNotFound)
	}
	s.logger.Info("post removed", slog.String("path", norm))
	return nil
}

func (s *SQLite) Diff(context.Context, string, string, string) ([]RefChange, error) {
	return nil, fmt.Errorf("repository: diff: %w", apperr.ErrNotSupported)
}

func (s *SQLite) Revisions(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("repository: revisions: %w", apperr.ErrNotSupported)
}

// initSQLite creates the schema and stores the template configuration
// unless a configuration is already present.
func initSQLite(ctx context.Context, file string) error {
	conn, err := openSQLiteDB(file)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `INSERT OR IGNORE INTO repo_config (id, document) VALUES (1, ?)`, string(templateConfig()))
	if err != nil {
		return apperr.IO("repository: store config", err)
	}
	return nil
}
