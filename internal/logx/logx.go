// Package logx configures the process-wide zerolog logger.
package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const (
	CtxKeyExportID  ctxKey = "export_id"
	CtxKeySessionID ctxKey = "session_id"
	CtxKeyRequestID ctxKey = "request_id"
)

// Config controls output format and the optional rotating log file.
type Config struct {
	Service        string // "api" or "framecast"
	Level          string // debug|info|warn|error
	Format         string // json|console
	FilePath       string // "" disables the file writer
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool
}

// Setup configures the global logger and returns it.
func Setup(c Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if c.Format == "console" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stderr)
	}
	if c.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.FileMaxSizeMB,
			MaxBackups: c.FileMaxBackups,
			MaxAge:     c.FileMaxAgeDays,
			Compress:   c.FileCompress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()

	log.Logger = logger
	return logger
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// WithExportID stores the export run id for FromCtx.
func WithExportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeyExportID, id)
}

// WithSessionID stores the remote session id for FromCtx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeySessionID, id)
}

// WithRequestID stores the HTTP request id for FromCtx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKeyRequestID, id)
}

// FromCtx enriches l with the ids carried by ctx.
func FromCtx(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return l
	}
	if v, ok := ctx.Value(CtxKeyExportID).(string); ok && v != "" {
		l = l.With().Str("export_id", v).Logger()
	}
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok && v != "" {
		l = l.With().Str("session_id", v).Logger()
	}
	if v, ok := ctx.Value(CtxKeyRequestID).(string); ok && v != "" {
		l = l.With().Str("request_id", v).Logger()
	}
	return l
}
