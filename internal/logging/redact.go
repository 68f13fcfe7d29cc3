package logging

import "regexp"

// Patterns for secrets that must never reach the log output.
var secretPatterns = []*regexp.Regexp{
	// Marketplace api keys are long uuid-ish or base64-ish blobs.
	regexp.MustCompile(`(?i)(api[_-]?key|client[_-]?secret)[=:]\s*["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
	regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}:[a-zA-Z0-9+/=_-]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces credential material in a string before it is logged or
// forwarded to a notification channel.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// MaskKey keeps the first four characters of an api key for operator
// correlation and hides the rest.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return RedactedValue
	}
	return key[:4] + "…"
}
