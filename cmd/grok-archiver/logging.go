package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
)

// newLogger returns a text handler for terminals and a JSON handler
// otherwise, installed as the default logger.
func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if isTerminal(w) {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// debugEnv reports whether DEBUG is set to a true value.
func debugEnv() bool {
	v, ok := os.LookupEnv("DEBUG")
	if !ok {
		return false
	}
	on, err := strconv.ParseBool(v)
	return err != nil || on
}
