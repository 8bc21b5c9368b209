package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/kr/internal/repository"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Repository RepositoryConfig  `yaml:"repository"`
	Tooling    ToolingConfig     `yaml:"tooling"`
	Watch      WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Repository.Validate(); err != nil {
		return err
	}
	if err := c.Tooling.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// RepositoryConfig selects the knowledge repository to operate on.
type RepositoryConfig struct {
	// URI is a bare path or a file://, git:// or sqlite:// URI.
	URI        string `yaml:"uri"`
	AutoCreate bool   `yaml:"auto_create"`
}

// Validate validates the repository configuration. An empty URI is allowed
// here; commands that need a repository report it.
func (c *RepositoryConfig) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return nil
	}
	if _, _, err := repository.ParseURI(c.URI); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	return nil
}

// ToolingConfig describes where pinned tooling revisions come from.
type ToolingConfig struct {
	// Dir caches the clone of the tooling source.
	Dir string `yaml:"dir"`
	// Source is the clone URL of the tooling source.
	Source string `yaml:"source"`
	// Entrypoint is the executable inside a checked out revision.
	Entrypoint string `yaml:"entrypoint"`
	// Dev skips the version pin entirely.
	Dev bool `yaml:"dev"`
}

// Validate validates the tooling configuration.
func (c *ToolingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Source, validation.Required),
		validation.Field(&c.Entrypoint, validation.Required),
	)
}

// WatchConfig tunes the post change feed.
type WatchConfig struct {
	Settle time.Duration `yaml:"settle"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Settle, validation.Min(10*time.Millisecond)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Tooling: ToolingConfig{
			Dir:        "~/.knowledge_repo/git",
			Source:     "https://github.com/starford/kr.git",
			Entrypoint: "scripts/kr",
		},
		Watch: WatchConfig{
			Settle: 200 * time.Millisecond,
		},
	}
}
