// Package logging wires log/slog the way
// cmd/devdashboard/main.go's initLogging does: one handler chosen by verbosity
// flags, installed via slog.SetDefault. janitord logs through a JSON handler
// and janitor-worker through a text handler, so this package exposes both
// entry points instead of the teacher's single hardcoded text handler.
package logging

import (
	"log/slog"
	"os"
)

// Verbosity mirrors the teacher's --verbose/--debug flag pair.
type Verbosity struct {
	Debug   bool
	Verbose bool
}

func (v Verbosity) level() slog.Level {
	switch {
	case v.Debug:
		return slog.LevelDebug
	case v.Verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// InitText installs a slog.TextHandler on os.Stderr; janitor-worker uses it.
func InitText(v Verbosity) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v.level()})
	slog.SetDefault(slog.New(handler))
	slog.Debug("logging initialized", "level", v.level().String(), "format", "text")
}

// InitJSON installs a slog.JSONHandler on os.Stderr; janitord (the
// publisher daemon) uses it, so its logs can be machine-parsed.
func InitJSON(v Verbosity) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: v.level()})
	slog.SetDefault(slog.New(handler))
	slog.Debug("logging initialized", "level", v.level().String(), "format", "json")
}
