package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Fields represents structured logging fields.
type Fields map[string]interface{}

// ApplicationLogger defines the interface for structured application logging.
type ApplicationLogger interface {
	Debug(ctx context.Context, message string, fields Fields)
	Info(ctx context.Context, message string, fields Fields)
	Warn(ctx context.Context, message string, fields Fields)
	Error(ctx context.Context, message string, fields Fields)
	ErrorWithError(ctx context.Context, err error, message string, fields Fields)
	WithComponent(component string) ApplicationLogger
}

// Config represents logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json, text
	Output string // stdout, stderr
}

// slogApplicationLogger implements ApplicationLogger on top of log/slog.
type slogApplicationLogger struct {
	logger    *slog.Logger
	component string
}

// NewApplicationLogger creates a structured logger from the given config.
func NewApplicationLogger(config Config) (ApplicationLogger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	var output io.Writer
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		return nil, fmt.Errorf("unsupported log output: %s", config.Output)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	return &slogApplicationLogger{logger: slog.New(handler)}, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, errors.New("invalid log level: " + level)
	}
}

func (l *slogApplicationLogger) log(ctx context.Context, level slog.Level, message string, fields Fields) {
	attrs := make([]any, 0, 2*(len(fields)+1))
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	for key, value := range fields {
		attrs = append(attrs, key, value)
	}
	l.logger.Log(ctx, level, message, attrs...)
}

func (l *slogApplicationLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelDebug, message, fields)
}

func (l *slogApplicationLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelInfo, message, fields)
}

func (l *slogApplicationLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelWarn, message, fields)
}

func (l *slogApplicationLogger) Error(ctx context.Context, message string, fields Fields) {
	l.log(ctx, slog.LevelError, message, fields)
}

func (l *slogApplicationLogger) ErrorWithError(ctx context.Context, err error, message string, fields Fields) {
	merged := make(Fields, len(fields)+1)
	for key, value := range fields {
		merged[key] = value
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	l.log(ctx, slog.LevelError, message, merged)
}

func (l *slogApplicationLogger) WithComponent(component string) ApplicationLogger {
	return &slogApplicationLogger{logger: l.logger, component: component}
}
