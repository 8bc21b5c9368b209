package repository

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/refstore"
)

//go:embed templates
var templateFS embed.FS

// templateFiles maps embedded templates to their names in a repository.
var templateFiles = []struct {
	src, dst string
}{
	{"templates/README.md", "README.md"},
	{"templates/knowledge_repo_config.yml", ConfigFile},
}

// writeTemplates materializes the default files into dir, skipping any that
// already exist. It returns the names it wrote.
func writeTemplates(dir string, logger *slog.Logger) ([]string, error) {
	var written []string
	for _, tf := range templateFiles {
		dst := filepath.Join(dir, tf.dst)
		if _, err := os.Stat(dst); err == nil {
			logger.Warn("template target exists, skipping", slog.String("path", dst))
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.IO("repository: stat "+dst, err)
		}
		data, err := templateFS.ReadFile(tf.src)
		if err != nil {
			return nil, fmt.Errorf("repository: read template %s: %w", tf.src, err)
		}
		if err := refstore.WriteFileAtomic(dst, data); err != nil {
			return nil, apperr.IO("repository: write "+dst, err)
		}
		written = append(written, tf.dst)
	}
	return written, nil
}

func templateConfig() []byte {
	data, _ := templateFS.ReadFile("templates/knowledge_repo_config.yml")
	return data
}
