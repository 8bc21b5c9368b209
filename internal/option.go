package internal

import (
	"log/slog"

	"github.com/starford/kr/internal/watch"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	logger  *slog.Logger
	onEvent func(watch.Event)
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithEventHandler receives every settled post change.
func WithEventHandler(fn func(watch.Event)) Option {
	return func(a *application) {
		a.onEvent = fn
	}
}
