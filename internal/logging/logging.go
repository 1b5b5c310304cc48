// Package logging builds the process slog logger from configuration.
// Level strings are normalized so "INFO", "warning" and "Debug" all parse.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel normalizes a log level string into slog.Level.
// Unknown values return slog.LevelInfo with an error.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err", "critical":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + s)
	}
}

// FileOptions configures size based rotation of a log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Options controls logger formatting and destinations.
// Writer defaults to stderr. When File.Path is set, records are written to
// both Writer and the rotating file.
type Options struct {
	Level       string
	AddSource   bool
	JSON        bool
	Writer      io.Writer
	File        FileOptions
	DefaultSlog bool
}

// New constructs a configured slog.Logger and returns its parsed level.
// The returned io.Closer releases the log file, if any.
func New(opt Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opt.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}

	var closer io.Closer = nopCloser{}
	if p := strings.TrimSpace(opt.File.Path); p != "" {
		lj := &lumberjack.Logger{
			Filename:   p,
			MaxSize:    orDefault(opt.File.MaxSizeMB, 100),
			MaxBackups: orDefault(opt.File.MaxBackups, 5),
			MaxAge:     orDefault(opt.File.MaxAgeDays, 30),
			Compress:   true,
		}
		w = io.MultiWriter(w, lj)
		closer = lj
	}

	ho := &slog.HandlerOptions{
		Level:     level,
		AddSource: opt.AddSource || level == slog.LevelDebug,
	}
	var h slog.Handler
	if opt.JSON {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	lg := slog.New(h)
	if opt.DefaultSlog {
		slog.SetDefault(lg)
	}
	return lg, closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
