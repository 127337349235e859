package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
)

// Logger wraps slog.Logger with a component name
type Logger struct {
	*slog.Logger
	root      *slog.Logger
	attrs     []any
	component string
}

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Component string
	Output    io.Writer
	JSON      bool
	Handler   slog.Handler
}

// DefaultConfig returns sensible defaults for logging
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
		Output:    os.Stdout,
	}
}

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		out := config.Output
		if out == nil {
			out = os.Stdout
		}
		opts := &slog.HandlerOptions{Level: config.Level}
		if config.JSON {
			handler = slog.NewJSONHandler(out, opts)
		} else {
			handler = slog.NewTextHandler(out, opts)
		}
	}

	return wrap(slog.New(handler), nil, config.Component)
}

func wrap(root *slog.Logger, attrs []any, component string) *Logger {
	logger := root
	if component != "" {
		logger = logger.With(FieldComponent, component)
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return &Logger{
		Logger:    logger,
		root:      root,
		attrs:     attrs,
		component: component,
	}
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return wrap(l.root, append(slices.Clone(l.attrs), args...), l.component)
}

// WithComponent returns a logger for another component. Attributes added
// with With are kept; the component attribute is replaced.
func (l *Logger) WithComponent(component string) *Logger {
	return wrap(l.root, l.attrs, component)
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// SetDefault sets the default logger for the application
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying logger
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts a logger from the context, falling back to the default
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return wrap(slog.Default(), nil, "")
}
