package logger

import (
	"log/slog"
	"strings"
)

// MaskLoginKey masks a login key for logging, keeping the first and last character ("a***z")
func MaskLoginKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 2 {
		return strings.Repeat("*", len(key))
	}
	return key[:1] + strings.Repeat("*", len(key)-2) + key[len(key)-1:]
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveParams = []string{
	"password",
	"secret",
	"token",
	"login_key",
	"auth",
	"session",
	"sid",
}

// SanitizeQueryString reports whether a query string contains sensitive parameters
// and should be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
