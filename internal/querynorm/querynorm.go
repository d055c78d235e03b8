// Package querynorm normalizes search queries to a canonical form so that
// variations like "dentist amritsar" and "Amritsar dentist" resolve to the
// same cursor. Normalization is deterministic and pure.
package querynorm

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// DefaultFuzzyThreshold is the similarity floor for treating two
// normalized queries as the same search.
const DefaultFuzzyThreshold = 0.85

// locationWords are indicator tokens that sort to the end of the
// normalized form.
var locationWords = map[string]bool{
	"in": true, "near": true, "around": true, "at": true, "of": true, "for": true,
}

// stopWords are removed entirely.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
}

// Normalize converts a raw query to its canonical form:
// lowercase, punctuation stripped (hyphen and ampersand are kept inside
// tokens, they matter in business names), stop words removed, service
// tokens sorted before sorted location indicators.
//
//	Normalize("Dentist - in Amritsar") == "amritsar dentist in"
//	Normalize("DENTIST Amritsar")      == "amritsar dentist"
func Normalize(query string) string {
	if query == "" {
		return ""
	}

	q := strings.ToLower(strings.TrimSpace(query))

	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if isWordRune(r) || unicode.IsSpace(r) || r == '-' || r == '&' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	service := make([]string, 0, 8)
	location := make([]string, 0, 2)
	for _, tok := range strings.Fields(b.String()) {
		if stopWords[tok] || !hasWordRune(tok) {
			continue
		}
		if locationWords[tok] {
			location = append(location, tok)
		} else {
			service = append(service, tok)
		}
	}

	sort.Strings(service)
	sort.Strings(location)

	return strings.Join(append(service, location...), " ")
}

// Hash returns the MD5 hex digest of the normalized query. Used as the
// indexed cursor lookup key, not for anything security sensitive.
func Hash(query string) string {
	sum := md5.Sum([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}

// NormalizeWithHash returns both the normalized form and its hash.
func NormalizeWithHash(query string) (string, string) {
	normalized := Normalize(query)
	sum := md5.Sum([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:])
}

// Equivalent reports whether two queries normalize to the same form.
func Equivalent(query1, query2 string) bool {
	return Normalize(query1) == Normalize(query2)
}

// FuzzyMatch reports whether the normalized forms of two queries reach
// the similarity threshold. Empty queries never match.
func FuzzyMatch(query1, query2 string, threshold float64) bool {
	if query1 == "" || query2 == "" {
		return false
	}

	norm1 := Normalize(query1)
	norm2 := Normalize(query2)
	if norm1 == "" || norm2 == "" {
		return false
	}

	return Similarity(norm1, norm2) >= threshold
}

// Similarity computes the longest-common-subsequence ratio of two
// strings: 2*LCS / (len(a)+len(b)). Returns a value in [0, 1].
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if isWordRune(r) {
			return true
		}
	}
	return false
}
