// Package logger provides structured logging for the TTS gateway.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Provider call logging (synthesis requests, responses, errors)
//   - Automatic API key and bearer token redaction
//   - Level-based verbosity control via the LOG_LEVEL environment variable
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	DefaultLogger = slog.New(handler)
}

// ParseLevel maps a LOG_LEVEL string to a slog level.
// Unknown or empty values fall back to slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ProviderCall logs an outbound synthesis call with structured fields.
// Additional attributes can be passed as key-value pairs after the mode.
func ProviderCall(mode string, attrs ...any) {
	allAttrs := make([]any, 0, 2+len(attrs))
	allAttrs = append(allAttrs, "mode", mode)
	allAttrs = append(allAttrs, attrs...)
	Debug("Provider call", allAttrs...)
}

// ProviderError logs a failed synthesis call for debugging and monitoring.
// The error text is redacted: provider failures can quote the request they
// were minted for, auth headers included.
func ProviderError(mode string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs, "mode", mode, "error", RedactSensitiveData(err.Error()))
	allAttrs = append(allAttrs, attrs...)
	Error("Provider call failed", allAttrs...)
}

var (
	// secretPatterns contains compiled regular expressions for detecting
	// sensitive data in values bound for log output.
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),         // Bearer tokens (incl. JWTs)
		regexp.MustCompile(`DeepL-Auth-Key\s+[a-zA-Z0-9:-]+`),  // DeepL API keys
		regexp.MustCompile(`[a-f0-9]{8}(-[a-f0-9]{4}){3}-[a-f0-9]{12}:fx`), // bare DeepL free keys
	}
)

// RedactSensitiveData removes bearer tokens and API keys from strings before
// they reach log output. Matched secrets are replaced with a redacted marker
// that preserves the scheme name for debugging.
//
// This function is safe for concurrent use as it only reads from the compiled
// patterns.
func RedactSensitiveData(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if idx := strings.IndexAny(match, " \t"); idx > 0 {
				return match[:idx] + " [REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}
