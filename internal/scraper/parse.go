package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

var (
	ratingPattern  = regexp.MustCompile(`([\d.,]+)\s*star`)
	reviewsPattern = regexp.MustCompile(`([\d,]+)`)
	coordsPattern  = regexp.MustCompile(`@(-?\d+\.?\d*),(-?\d+\.?\d*)`)
)

// nameBlacklist holds placeholder strings the page renders while a panel
// is loading or empty. A "name" matching one of these is no name at all.
var nameBlacklist = map[string]struct{}{
	"none":           {},
	"null":           {},
	"undefined":      {},
	"unknown":        {},
	"results":        {},
	"result":         {},
	"search results": {},
	"google maps":    {},
	"map":            {},
	"maps":           {},
	"loading":        {},
	"loading...":     {},
	"error":          {},
	"n/a":            {},
	"na":             {},
	"sponsored":      {},
	"menu":           {},
}

// fieldValue is what one selector yields: the element's text plus the
// attributes extraction cares about.
type fieldValue struct {
	Text string
	Aria string
	Href string
	Src  string
}

// firstField tries each selector of a chain in order and returns the
// first element found.
func firstField(page *rod.Page, chain []string) (*fieldValue, bool) {
	for _, sel := range chain {
		if v, ok := queryField(page, sel); ok {
			return v, true
		}
	}
	return nil, false
}

// queryField evaluates one selector on the page.
func queryField(page *rod.Page, selector string) (*fieldValue, bool) {
	res, err := page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return null;
		return {
			text: (el.textContent || '').trim(),
			aria: el.getAttribute('aria-label') || '',
			href: el.getAttribute('href') || '',
			src: el.getAttribute('src') || '',
		};
	}`, selector)
	if err != nil || res.Value.Nil() {
		return nil, false
	}
	return fieldFromJSON(res.Value), true
}

// fieldFromJSON maps an evaluated element object onto a fieldValue.
func fieldFromJSON(v gson.JSON) *fieldValue {
	return &fieldValue{
		Text: v.Get("text").Str(),
		Aria: v.Get("aria").Str(),
		Href: v.Get("href").Str(),
		Src:  v.Get("src").Str(),
	}
}

// preferAria returns the aria-label when present, otherwise the text.
// Accessible labels survive class-name churn better than rendered text.
func preferAria(v *fieldValue) string {
	if strings.TrimSpace(v.Aria) != "" {
		return v.Aria
	}
	return v.Text
}

// cleanLabeled strips an accessibility prefix like "Address:" and falls
// back from aria to text.
func cleanLabeled(v *fieldValue, prefix string) string {
	s := preferAria(v)
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), prefix))
	return s
}

// parseRating extracts a 0-5 rating from strings like "4.5 stars",
// "4,5 stars", or a bare "4.5". Returns nil when nothing parses.
func parseRating(s string) *float64 {
	candidate := ""
	if m := ratingPattern.FindStringSubmatch(s); m != nil {
		candidate = m[1]
	} else {
		candidate = strings.TrimSpace(s)
	}

	candidate = strings.ReplaceAll(candidate, ",", ".")
	candidate = strings.Trim(candidate, ".")
	rating, err := strconv.ParseFloat(candidate, 64)
	if err != nil || rating < 0 || rating > 5 {
		return nil
	}
	return &rating
}

// parseReviews extracts a review count from strings like "1,234 reviews"
// or "(1,234)". Returns nil when nothing parses.
func parseReviews(s string) *int {
	m := reviewsPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// parseCoordinates pulls the "@lat,lng" pair out of a maps URL.
func parseCoordinates(url string) (*float64, *float64) {
	m := coordsPattern.FindStringSubmatch(url)
	if m == nil {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, nil
	}
	return &lat, &lng
}

// isValidName reports whether an extracted name is a real business name
// rather than a placeholder.
func isValidName(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return false
	}
	_, blacklisted := nameBlacklist[strings.ToLower(name)]
	return !blacklisted
}
