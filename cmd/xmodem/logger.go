package main

import (
	"io"
	"log/slog"

	"github.com/kstaniek/go-xmodem/internal/logging"
)

func setupLogger(format, level string, w io.Writer) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), w).With("app", "xmodem")
	logging.Set(l)
	return l
}
