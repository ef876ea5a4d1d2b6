package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL and returns the matching slog.Level.
// Accepts the slog level names in any case, with optional offsets such as
// "info+2", and "warning" as an alias for "warn". Falls back to fallback if
// the variable is empty or unrecognised.
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(Get("LOG_LEVEL", ""))
	if raw == "" {
		return fallback
	}
	if strings.EqualFold(raw, "warning") {
		raw = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
