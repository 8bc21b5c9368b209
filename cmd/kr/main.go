package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// version is stamped at build time with -ldflags "-X main.version=v1.2.3".
var version = ""

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "kr",
		Usage:   "Store, version and publish knowledge posts in folder, git or SQLite repositories",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/kr.yaml",
				Value:       "config/kr.yaml",
				Sources:     cli.EnvVars("KR_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "repo",
				Usage:   "Repository URI: a path, file://, git:// or sqlite://",
				Sources: cli.EnvVars("KNOWLEDGE_REPO"),
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "Skip the tooling version pin of the repository",
			},
			&cli.BoolFlag{
				Name:  "noupdate",
				Usage: "Do not update the repository from its remote first",
			},
		},
		Commands: commands(out),
	}
}

func main() {
	err := newApp(os.Stdout).Run(context.Background(), os.Args)

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	if err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
