// Package blockdetect recognizes Google's anti-automation interstitials
// so a scrape fails with a clear reason instead of timing out against an
// empty page.
package blockdetect

import (
	"regexp"
	"strings"
)

// maxBodyLenForRegex limits how much page text the patterns scan.
const maxBodyLenForRegex = 100 * 1024

// Category is the broad class of a detected block.
type Category string

// Block categories.
const (
	CategoryRateLimit Category = "rate_limit"
	CategoryCaptcha   Category = "captcha"
	CategoryConsent   Category = "consent_wall"
)

// Info describes a detected block.
type Info struct {
	Detected       bool
	Code           string
	Category       Category
	SuggestedDelay int // milliseconds; 0 means retrying will not help
	Description    string
}

type blockPattern struct {
	pattern     *regexp.Regexp
	code        string
	category    Category
	baseDelayMs int
	description string
}

// patterns are ordered by specificity; the first match wins.
var patterns = []blockPattern{
	{
		pattern:     regexp.MustCompile(`(?i)unusual\s{1,5}traffic\s{1,5}from\s{1,5}your`),
		code:        "UNUSUAL_TRAFFIC",
		category:    CategoryRateLimit,
		baseDelayMs: 300000,
		description: "Google unusual-traffic interstitial",
	},
	{
		pattern:     regexp.MustCompile(`(?i)our\s{1,5}systems\s{1,5}have\s{1,5}detected`),
		code:        "AUTOMATED_QUERIES",
		category:    CategoryRateLimit,
		baseDelayMs: 300000,
		description: "Automated-queries detection page",
	},
	{
		pattern:     regexp.MustCompile(`(?i)(recaptcha|g-recaptcha|captcha-form)`),
		code:        "CAPTCHA_REQUIRED",
		category:    CategoryCaptcha,
		baseDelayMs: 0,
		description: "CAPTCHA challenge required",
	},
	{
		pattern:     regexp.MustCompile(`(?i)before\s{1,5}you\s{1,5}continue\s{1,5}to\s{1,5}google`),
		code:        "CONSENT_WALL",
		category:    CategoryConsent,
		baseDelayMs: 0,
		description: "Consent wall not dismissed",
	},
	{
		pattern:     regexp.MustCompile(`(?i)rate\s{0,3}limit`),
		code:        "RATE_LIMITED",
		category:    CategoryRateLimit,
		baseDelayMs: 60000,
		description: "Generic rate limit",
	},
}

// sorryPathMarker is the redirect target of Google's block interstitial.
const sorryPathMarker = "/sorry/"

// Detect analyzes the landed URL and visible page text for block
// indicators.
func Detect(pageURL, body string) Info {
	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	if strings.Contains(pageURL, sorryPathMarker) {
		info := Info{
			Detected:       true,
			Code:           "SORRY_REDIRECT",
			Category:       CategoryRateLimit,
			SuggestedDelay: 300000,
			Description:    "Redirected to Google sorry page",
		}
		// The body usually names the reason more precisely.
		for _, p := range patterns {
			if p.pattern.MatchString(body) {
				info.Code = p.code
				info.Category = p.category
				info.Description = p.description
				if p.baseDelayMs > 0 {
					info.SuggestedDelay = p.baseDelayMs
				}
				break
			}
		}
		return info
	}

	for _, p := range patterns {
		if p.pattern.MatchString(body) {
			return Info{
				Detected:       true,
				Code:           p.code,
				Category:       p.category,
				SuggestedDelay: p.baseDelayMs,
				Description:    p.description,
			}
		}
	}
	return Info{}
}
