package security

import (
	"regexp"
	"strings"
)

// User ID constraints. IDs arrive on a trusted header but still get
// sanity-checked before they reach logs and database rows.
const (
	MaxUserIDLength = 255
)

// validUserIDPattern allows the characters common across auth providers:
// alphanumerics, hyphens, underscores, dots, and the @ of email-style IDs.
var validUserIDPattern = regexp.MustCompile(`^[a-zA-Z0-9@._-]+$`)

// blockedUserIDPatterns are substrings never valid in an identity and
// typical of injection attempts.
var blockedUserIDPatterns = []string{
	"../",
	"..\\",
	"<script",
	"javascript:",
	"__proto__",
	"constructor",
}

// ValidateUserID checks a caller identity value. Returns an error message,
// empty when valid.
func ValidateUserID(id string) string {
	if id == "" {
		return "user ID is required"
	}
	if len(id) > MaxUserIDLength {
		return "user ID too long (max 255 characters)"
	}
	if !validUserIDPattern.MatchString(id) {
		return "user ID contains invalid characters"
	}

	idLower := strings.ToLower(id)
	for _, pattern := range blockedUserIDPatterns {
		if strings.Contains(idLower, pattern) {
			return "user ID contains blocked pattern"
		}
	}
	return ""
}
