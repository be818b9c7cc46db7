package logging

import (
	"log/slog"
	"testing"
)

func TestVerbosityLevel(t *testing.T) {
	tests := []struct {
		v    Verbosity
		want slog.Level
	}{
		{Verbosity{}, slog.LevelWarn},
		{Verbosity{Verbose: true}, slog.LevelInfo},
		{Verbosity{Debug: true}, slog.LevelDebug},
		{Verbosity{Debug: true, Verbose: true}, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := tt.v.level(); got != tt.want {
			t.Errorf("level() for %+v = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestInitTextDoesNotPanic(t *testing.T) {
	InitText(Verbosity{Debug: true})
}

func TestInitJSONDoesNotPanic(t *testing.T) {
	InitJSON(Verbosity{})
}
