package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loomhttp/loom/loom"
)

// slogLogger adapts log/slog to loom.Logger, registered under the sign
// "slog" the way the core's log.go expects a caller-supplied backend to
// register itself, built over slog.NewJSONHandler to stdout.
type slogLogger struct {
	log *slog.Logger
}

func (l *slogLogger) Logf(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Close() {}

func init() {
	loom.RegisterLogger("slog", func(cfg *loom.LogConfig) loom.Logger {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		return &slogLogger{log: slog.New(handler)}
	})
}
