package repository

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/tooling"
	"github.com/starford/kr/pkg/config"
)

// ConfigFile is the backend-local configuration file name.
const ConfigFile = ".knowledge_repo_config.yml"

// Config is the per-repository configuration.
type Config struct {
	// RequiredToolingVersion pins the client tooling: empty, a version
	// constraint such as ">=1.2,<2", or "!<revision>" for an exact build.
	RequiredToolingVersion string `yaml:"required_tooling_version"`
	// PublishedBranch is the canonical branch of git repositories.
	PublishedBranch string `yaml:"published_branch"`
	// Remote receives submitted review branches when it exists.
	Remote string `yaml:"remote"`
	// PackedPosts creates new posts as single .kp archive files.
	PackedPosts bool `yaml:"packed_posts"`
	// HookTimeout bounds each git hook invocation.
	HookTimeout time.Duration `yaml:"hook_timeout"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		PublishedBranch: "master",
		Remote:          "origin",
		HookTimeout:     2 * time.Minute,
	}
}

// Validate validates the repository configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RequiredToolingVersion, validation.By(func(v any) error {
			_, err := tooling.ParseRequirement(v.(string))
			return err
		})),
		validation.Field(&c.PublishedBranch, validation.Required),
		validation.Field(&c.HookTimeout, validation.Min(time.Duration(0))),
	)
}

// loadConfigFile reads dir/.knowledge_repo_config.yml over the defaults.
// A missing file is not an error.
func loadConfigFile(dir string, logger *slog.Logger) (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(dir, ConfigFile)
	found, err := config.LoadOptional(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("repository: %w: %w", apperr.ErrIO, err)
	}
	if !found {
		logger.Warn("repository config not found, using defaults", slog.String("path", path))
	}
	return cfg, nil
}

// parseConfig decodes a configuration document over the defaults.
func parseConfig(doc []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := config.Decode(ConfigFile, doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("repository: %w", err)
	}
	return cfg, nil
}
