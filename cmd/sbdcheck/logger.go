package main

import (
	"fmt"
	"log/slog"
	"os"
)

// slogLogger adapts the standard library's structured logger to
// base.Logger, the one place in this repo a caller may plug in diagnostics
// (spec §7). The core device and every internal package never log on their
// own; only this CLI does.
type slogLogger struct {
	l *slog.Logger
}

func newSlogLogger() *slogLogger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (s *slogLogger) Infof(format string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Errorf(format string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(format, args...))
}
