package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/kr/internal"
	"github.com/starford/kr/internal/repository"
	"github.com/starford/kr/internal/tooling"
	pkgconfig "github.com/starford/kr/pkg/config"
)

// exitError ends the process with code once a pinned tooling build has
// handled the command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("pinned tooling exited with code %d", e.code)
}

// session carries the configuration shared by every command.
type session struct {
	cfg    *internal.Config
	logger *slog.Logger
}

func loadSession(cmd *cli.Command) (*session, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if uri := cmd.String("repo"); uri != "" {
		cfg.Repository.URI = uri
	}
	if cmd.Bool("dev") {
		cfg.Tooling.Dev = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger := internal.NewLogger(cfg.App, os.Stderr)
	slog.SetDefault(logger)
	return &session{cfg: cfg, logger: logger}, nil
}

func (s *session) requireURI() error {
	if s.cfg.Repository.URI == "" {
		return fmt.Errorf("no repository specified: set --repo or the KNOWLEDGE_REPO environment variable")
	}
	return nil
}

// open resolves the repository, refreshes it from its remote unless
// --noupdate is set and enforces its tooling pin.
func (s *session) open(ctx context.Context, cmd *cli.Command) (repository.Repository, error) {
	if err := s.requireURI(); err != nil {
		return nil, err
	}
	repo, err := repository.Open(ctx, s.cfg.Repository.URI,
		repository.WithAutoCreate(s.cfg.Repository.AutoCreate),
		repository.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if !cmd.Bool("noupdate") {
		if err := repo.Update(ctx); err != nil {
			s.logger.Warn("repository update failed", slog.String("error", err.Error()))
		}
	}
	if err := s.pin(ctx, repo); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// pin continues in this process or hands the whole invocation to the
// tooling revision the repository requires.
func (s *session) pin(ctx context.Context, repo repository.Repository) error {
	dev := s.cfg.Tooling.Dev || os.Getenv(tooling.PinnedEnv) != ""
	decision, err := tooling.Decide(repo.Config().RequiredToolingVersion, tooling.CurrentBuild(version), dev)
	if err != nil {
		return err
	}
	if decision.Action == tooling.ActionContinue {
		return nil
	}

	s.logger.Info("handing over to pinned tooling", slog.String("revision", decision.Revision))
	if err := tooling.CloneToDirectory(ctx, s.cfg.Tooling.Dir, s.cfg.Tooling.Source); err != nil {
		return err
	}
	var code int
	err = tooling.WithCheckedOutRevision(ctx, s.cfg.Tooling.Dir, decision.Revision, func(dir string) error {
		var runErr error
		code, runErr = tooling.Reexec(ctx, dir, s.cfg.Tooling.Entrypoint, os.Args[1:])
		return runErr
	})
	if err != nil {
		return err
	}
	return &exitError{code: code}
}

// withRepo wraps a command action that needs an open repository.
func withRepo(fn func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		repo, err := s.open(ctx, cmd)
		if err != nil {
			return err
		}
		defer repo.Close()
		return fn(ctx, cmd, repo)
	}
}
