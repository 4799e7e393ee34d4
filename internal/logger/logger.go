package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level  string
	Format string
	// File, when set, also receives the stream with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output is a logger whose level can change at runtime.
type Output struct {
	Logger *slog.Logger
	level  *slog.LevelVar
	file   *lumberjack.Logger
}

func New(level string, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(w io.Writer, level string, format string) *slog.Logger {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	return slog.New(newHandler(w, lv, format))
}

// Open builds the process logger from opts. Close releases the log file.
func Open(opts Options) *Output {
	out := &Output{level: new(slog.LevelVar)}
	out.level.Set(parseLevel(opts.Level))

	var w io.Writer = os.Stdout
	if opts.File != "" {
		out.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, out.file)
	}

	out.Logger = slog.New(newHandler(w, out.level, opts.Format))
	return out
}

// SetLevel changes the level of every logger derived from Output.Logger.
func (o *Output) SetLevel(level string) {
	o.level.Set(parseLevel(level))
}

func (o *Output) Level() slog.Level {
	return o.level.Level()
}

func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func newHandler(w io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
