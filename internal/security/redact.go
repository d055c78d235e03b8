// Package security provides log-safety helpers: redaction for URLs and
// search queries, and validation of the caller identity header.
package security

import (
	"net/url"
	"strings"
)

// maxLoggedQueryLength caps how much of a search query appears in logs.
// Queries can carry personal data (names, addresses), so logs keep only
// enough to correlate entries.
const maxLoggedQueryLength = 80

// sensitiveParamPatterns are query parameter names that likely carry secrets.
var sensitiveParamPatterns = []string{
	"password", "passwd", "pwd", "secret", "token",
	"api_key", "apikey", "api-key", "auth", "authorization",
	"bearer", "credential", "key", "access_token", "refresh_token",
	"session", "sessionid", "sid", "private",
}

// RedactURL strips credentials and secret-looking query parameters from a
// URL before logging.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}

	return parsed.String()
}

func redactQueryParams(params url.Values) url.Values {
	redacted := make(url.Values)
	for key, values := range params {
		keyLower := strings.ToLower(key)
		matched := false
		for _, pattern := range sensitiveParamPatterns {
			if strings.Contains(keyLower, pattern) {
				matched = true
				break
			}
		}
		if matched {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}
	return redacted
}

// RedactQuery prepares a search query for logging: control characters are
// dropped and long queries are truncated.
func RedactQuery(query string) string {
	var b strings.Builder
	for _, r := range query {
		if r < 32 || r == 127 {
			continue
		}
		b.WriteRune(r)
	}

	out := b.String()
	if len(out) > maxLoggedQueryLength {
		return out[:maxLoggedQueryLength] + "..."
	}
	return out
}
