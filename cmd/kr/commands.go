package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/starford/kr/internal"
	"github.com/starford/kr/internal/lifecycle"
	"github.com/starford/kr/internal/post"
	"github.com/starford/kr/internal/repository"
	"github.com/starford/kr/internal/watch"
)

func commands(out io.Writer) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "init",
			Usage:  "Create a repository with its default files",
			Action: initAction(out),
		},
		{
			Name:      "add",
			Usage:     "Add or update a post from a kp, md or Rmd file",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "path", Usage: "Post path in the repository (defaults to the path header)"},
				&cli.StringFlag{Name: "format", Usage: "Input format, inferred from the extension when empty"},
				&cli.BoolFlag{Name: "update", Usage: "Replace an existing post"},
				&cli.StringFlag{Name: "branch", Usage: "Review branch (git repositories)"},
				&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Commit message (git repositories)"},
				&cli.BoolFlag{Name: "submit", Usage: "Submit the post for review after adding it"},
				&cli.StringSliceFlag{Name: "src", Usage: "Source files to attach under orig_src/"},
			},
			Action: withRepo(addAction(out)),
		},
		transitionCommand(out, "submit", "Submit a draft for review", repository.Repository.Submit),
		transitionCommand(out, "accept", "Accept a submitted post", repository.Repository.Accept),
		transitionCommand(out, "publish", "Publish a submitted or unpublished post", repository.Repository.Publish),
		transitionCommand(out, "unpublish", "Withdraw a published post", repository.Repository.Unpublish),
		transitionCommand(out, "remove", "Delete a post and its review state", repository.Repository.Remove),
		{
			Name:      "status",
			Usage:     "Print the lifecycle status of a post",
			ArgsUsage: "PATH",
			Action: withRepo(func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
				path, err := arg(cmd, 0, "PATH")
				if err != nil {
					return err
				}
				st, err := repo.Status(ctx, path)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, st)
				return err
			}),
		},
		{
			Name:  "dir",
			Usage: "List posts",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "prefix", Usage: "Only posts under this directory"},
				&cli.StringFlag{Name: "pattern", Usage: "Only posts matching this glob, ** allowed"},
				&cli.StringSliceFlag{Name: "status", Usage: "Only posts in these statuses"},
			},
			Action: withRepo(dirAction(out)),
		},
		{
			Name:      "diff",
			Usage:     "Show reference changes of a post between two revisions",
			ArgsUsage: "PATH",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "head", Usage: "Newer revision, the latest one when empty"},
				&cli.StringFlag{Name: "base", Usage: "Older revision, the published branch when empty"},
			},
			Action: withRepo(func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
				path, err := arg(cmd, 0, "PATH")
				if err != nil {
					return err
				}
				changes, err := repo.Diff(ctx, path, cmd.String("head"), cmd.String("base"))
				if err != nil {
					return err
				}
				for _, c := range changes {
					if _, err := fmt.Fprintf(out, "%s\t%s\n", c.Kind, c.Name); err != nil {
						return err
					}
				}
				return nil
			}),
		},
		{
			Name:      "revisions",
			Usage:     "List the revisions that touched a post, newest first",
			ArgsUsage: "PATH",
			Action: withRepo(func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
				path, err := arg(cmd, 0, "PATH")
				if err != nil {
					return err
				}
				revs, err := repo.Revisions(ctx, path)
				if err != nil {
					return err
				}
				for _, r := range revs {
					if _, err := fmt.Fprintln(out, r); err != nil {
						return err
					}
				}
				return nil
			}),
		},
		{
			Name:  "post",
			Usage: "Convert posts between files and formats",
			Commands: []*cli.Command{
				{
					Name:      "from",
					Usage:     "Convert a document file into a .kp post file",
					ArgsUsage: "SRC DEST",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "format", Usage: "Input format, inferred from the extension when empty"},
						&cli.BoolFlag{Name: "expanded", Usage: "Write DEST as a directory instead of an archive"},
						&cli.StringSliceFlag{Name: "src", Usage: "Source files to attach under orig_src/"},
					},
					Action: postFromAction(out),
				},
				{
					Name:      "to",
					Usage:     "Export a repository post to a file",
					ArgsUsage: "POST TARGET",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "format", Usage: "Output format, inferred from the extension when empty"},
						&cli.StringFlag{Name: "rev", Usage: "Revision to export (git repositories)"},
					},
					Action: withRepo(postToAction(out)),
				},
			},
		},
		{
			Name:   "watch",
			Usage:  "Report post changes in the repository working tree",
			Action: watchAction(out),
		},
	}
}

func arg(cmd *cli.Command, i int, name string) (string, error) {
	if cmd.NArg() <= i || cmd.Args().Get(i) == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return cmd.Args().Get(i), nil
}

func initAction(out io.Writer) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		if err := s.requireURI(); err != nil {
			return err
		}
		repo, err := repository.Create(ctx, s.cfg.Repository.URI, repository.WithLogger(s.logger))
		if err != nil {
			return err
		}
		defer repo.Close()
		_, err = fmt.Fprintf(out, "initialized %s repository at %s\n", repo.Kind(), repo.Location())
		return err
	}
}

func addAction(out io.Writer) func(context.Context, *cli.Command, repository.Repository) error {
	return func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
		file, err := arg(cmd, 0, "FILE")
		if err != nil {
			return err
		}
		format, err := post.ParseFormat(cmd.String("format"))
		if err != nil {
			return err
		}
		p, err := post.Parse(file, format, post.WithSources(cmd.StringSlice("src")...))
		if err != nil {
			return err
		}
		err = repo.Add(ctx, p, repository.AddOptions{
			Path:    cmd.String("path"),
			Update:  cmd.Bool("update"),
			Branch:  cmd.String("branch"),
			Message: cmd.String("message"),
		})
		if err != nil {
			return err
		}
		if cmd.Bool("submit") {
			if err := repo.Submit(ctx, p.Path); err != nil {
				return err
			}
		}
		st, err := repo.Status(ctx, p.Path)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\trevision %d\t%s\t%s\n", p.Path, p.Revision, p.UUID, st)
		return err
	}
}

func transitionCommand(out io.Writer, name, usage string, op func(repository.Repository, context.Context, string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "PATH",
		Action: withRepo(func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
			path, err := arg(cmd, 0, "PATH")
			if err != nil {
				return err
			}
			if err := op(repo, ctx, path); err != nil {
				return err
			}
			if name == "remove" {
				_, err = fmt.Fprintf(out, "removed %s\n", path)
				return err
			}
			st, err := repo.Status(ctx, path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s\t%s\n", path, st)
			return err
		}),
	}
}

func dirAction(out io.Writer) func(context.Context, *cli.Command, repository.Repository) error {
	return func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
		opts := repository.DirOptions{
			Prefix:  cmd.String("prefix"),
			Pattern: cmd.String("pattern"),
		}
		for _, name := range cmd.StringSlice("status") {
			st, err := lifecycle.ParseStatus(name)
			if err != nil {
				return err
			}
			opts.Statuses = append(opts.Statuses, st)
		}
		for p, err := range repo.Dir(ctx, opts) {
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(out, p); err != nil {
				return err
			}
		}
		return nil
	}
}

func postFromAction(out io.Writer) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		src, err := arg(cmd, 0, "SRC")
		if err != nil {
			return err
		}
		dest, err := arg(cmd, 1, "DEST")
		if err != nil {
			return err
		}
		format, err := post.ParseFormat(cmd.String("format"))
		if err != nil {
			return err
		}
		p, err := post.Parse(src, format, post.WithSources(cmd.StringSlice("src")...))
		if err != nil {
			return err
		}
		if err := p.Headers.Validate(); err != nil {
			return err
		}
		var opts []post.SerializeOption
		if cmd.Bool("expanded") {
			opts = append(opts, post.Expanded())
		}
		if err := post.Serialize(p, dest, post.FormatKP, opts...); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "wrote %s\n", dest)
		return err
	}
}

func postToAction(out io.Writer) func(context.Context, *cli.Command, repository.Repository) error {
	return func(ctx context.Context, cmd *cli.Command, repo repository.Repository) error {
		path, err := arg(cmd, 0, "POST")
		if err != nil {
			return err
		}
		target, err := arg(cmd, 1, "TARGET")
		if err != nil {
			return err
		}
		format, err := post.ParseFormat(cmd.String("format"))
		if err != nil {
			return err
		}
		p, err := repo.Post(ctx, path, cmd.String("rev"))
		if err != nil {
			return err
		}
		if err := post.Serialize(p, target, format); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "wrote %s\n", target)
		return err
	}
}

func watchAction(out io.Writer) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		// Opening once applies the remote update and the tooling pin.
		repo, err := s.open(ctx, cmd)
		if err != nil {
			return err
		}
		repo.Close()
		return internal.Run(ctx,
			internal.WithConfig(s.cfg),
			internal.WithLogger(s.logger),
			internal.WithEventHandler(func(ev watch.Event) {
				fmt.Fprintf(out, "%s\t%s\n", ev.Kind, ev.Path)
			}))
	}
}
