// Package util provides env, logging and naming helpers shared by the release-mirror commands.
package util

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetEnvDefault returns the value of key whenever it is set, even when empty, and defVal otherwise
func GetEnvDefault(key, defVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defVal
}

// GetEnvOrDefault returns the first non-empty environment variable of keys, or the default
func GetEnvOrDefault(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger(verbose bool) *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if verbose {
		prodConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := prodConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// SplitRepo splits an "owner/name" repository slug
func SplitRepo(slug string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(slug), "/")
	if !ok || IsEmpty(owner) || IsEmpty(name) || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", slug)
	}
	return owner, name, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName replaces anything that is not safe in a file name with underscores and
// cuts the result to at most limit bytes. A limit of zero or less keeps the full length.
func SafeName(name string, limit int) string {
	if name == "" {
		return "_"
	}
	safe := unsafeChars.ReplaceAllString(name, "_")
	if limit > 0 && len(safe) > limit {
		safe = safe[:limit]
	}
	return safe
}
