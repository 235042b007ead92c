// Package logging builds the process-wide slog logger for both binaries:
// JSON lines for machines, charmbracelet/log text for terminals.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at level ("debug", "info", "warn",
// "error") in format ("json" or "text").
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", level, err)
	}

	switch format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		cl, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logging: level %q: %w", level, err)
		}
		return slog.New(log.NewWithOptions(w, log.Options{
			Level:           cl,
			ReportTimestamp: true,
		})), nil
	default:
		return nil, fmt.Errorf("logging: format %q unknown: want json|text", format)
	}
}
