package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Options controls the logger created by InitLogging
type Options struct {
	Service string
	Level   string // debug, info, warn, error
	JSON    bool
	Output  io.Writer
}

// InitLogging initializes logging
func InitLogging(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(handler)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	logger = l
	slog.SetDefault(l)
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the process logger for structured logging
func Logger() *slog.Logger {
	return logger
}

// Debugf logs debug level messages
func Debugf(format string, v ...any) {
	logger.Log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, v...))
}

// Infof logs info level messages
func Infof(format string, v ...any) {
	logger.Info(fmt.Sprintf(format, v...))
}

// Warnf logs warning level messages
func Warnf(format string, v ...any) {
	logger.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs error level messages
func Errorf(format string, v ...any) {
	logger.Error(fmt.Sprintf(format, v...))
}
