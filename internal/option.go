package internal

import (
	"io"

	"github.com/starford/nudger/internal/compiler"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	compiler compiler.Compiler
	output   io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithCompiler replaces the model-backed compiler.
func WithCompiler(c compiler.Compiler) Option {
	return func(a *application) {
		a.compiler = c
	}
}

// WithOutput sets where one-shot ticks write delivered reminders.
// Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.output = w
	}
}
