package model

import (
	"log/slog"
	"strings"
	"time"
)

// Level names used on the wire and in the cache file.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

// Metadata is the structured context attached to a log entry.
// Values are strings, []any, map[string]any, nil, or anything with a
// textual description. See Normalize.
type Metadata map[string]any

// LogEntry represents a structured log record waiting to be shipped.
// It is the unit stored by the spool buffer and the element type of the
// persisted snapshot.
type LogEntry struct {
	Label    string    `json:"label"`
	File     string    `json:"file"`
	Line     int       `json:"line"`
	Source   string    `json:"source"`
	Function string    `json:"function"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	LoggedAt time.Time `json:"loggedAt"`
	Metadata Metadata  `json:"metadata"`
}

// EncodeLevel converts a slog level to its wire name.
func EncodeLevel(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	case l < slog.LevelError+4:
		return LevelError
	default:
		return LevelFatal
	}
}

// DecodeLevel converts a wire name back to a slog level.
// Unknown names map to INFO.
func DecodeLevel(l string) slog.Level {
	switch strings.ToUpper(l) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}
