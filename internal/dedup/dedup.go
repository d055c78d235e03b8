// Package dedup filters duplicate business listings within a scrape run.
// Identity is resolved in priority order: place ID, then CID, then
// normalized href, then name+address. The first matching channel decides.
package dedup

import (
	"math/big"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/types"
)

var (
	// featureIDPattern matches the two-part hex identifier found in
	// place URLs, e.g. "0x890cb024fe77e7b6:0x123abc".
	featureIDPattern = regexp.MustCompile(`(?i)(0x[a-f0-9]+):(0x[a-f0-9]+)`)

	// placeIDPattern matches any bare hex identifier.
	placeIDPattern = regexp.MustCompile(`(?i)0x[a-f0-9]+`)

	cidParamPattern = regexp.MustCompile(`cid=(\d+)`)
	dataCIDPattern  = regexp.MustCompile(`data=.*?(\d{15,20})`)
)

// Identity carries the fields a listing can be deduplicated on.
type Identity struct {
	PlaceID string
	CID     string
	Href    string
	Name    string
	Address string
}

// Service tracks listings seen within a single scrape run.
// Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	seenPlaceIDs  map[string]struct{}
	seenCIDs      map[string]struct{}
	seenHrefs     map[string]struct{}
	seenNameAddrs map[string]struct{}

	totalChecked      int
	duplicatesRemoved int
	uniqueKept        int
	byPlaceID         int
	byCID             int
	byHref            int
	byNameAddress     int
}

// NewService returns an empty deduplication service.
func NewService() *Service {
	return &Service{
		seenPlaceIDs:  make(map[string]struct{}),
		seenCIDs:      make(map[string]struct{}),
		seenHrefs:     make(map[string]struct{}),
		seenNameAddrs: make(map[string]struct{}),
	}
}

// ExtractPlaceID pulls the place ID out of a listing URL. The first half
// of a feature ID wins; otherwise the longest bare hex token is used.
// Returns "" when the URL carries no identifier.
func ExtractPlaceID(href string) string {
	if href == "" {
		return ""
	}

	if m := featureIDPattern.FindStringSubmatch(href); m != nil {
		return strings.ToLower(m[1])
	}

	matches := placeIDPattern.FindAllString(href, -1)
	if len(matches) == 0 {
		return ""
	}
	longest := matches[0]
	for _, m := range matches[1:] {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return strings.ToLower(longest)
}

// ExtractCIDFromFeatureID converts the second hex half of a feature ID
// to its decimal customer ID. A lone hex token converts directly.
// Returns "" when nothing convertible is present.
func ExtractCIDFromFeatureID(featureID string) string {
	if featureID == "" {
		return ""
	}

	hexPart := ""
	if m := featureIDPattern.FindStringSubmatch(featureID); m != nil {
		hexPart = m[2]
	} else if m := placeIDPattern.FindString(featureID); m != "" {
		hexPart = m
	}
	if hexPart == "" {
		return ""
	}

	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(strings.ToLower(hexPart), "0x"), 16); !ok {
		log.Warn().Str("feature_id", featureID).Msg("Failed to convert feature ID hex to CID")
		return ""
	}
	return n.String()
}

// ExtractCIDFromURL pulls a decimal CID from a listing URL, either from
// an explicit cid= parameter or from the data blob.
func ExtractCIDFromURL(url string) string {
	if url == "" {
		return ""
	}

	if m := cidParamPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := dataCIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// IsDuplicate reports whether the identity has been seen before.
// The check itself is recorded in the run statistics.
func (s *Service) IsDuplicate(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDuplicateLocked(id)
}

func (s *Service) isDuplicateLocked(id Identity) bool {
	s.totalChecked++

	if id.PlaceID != "" {
		if _, ok := s.seenPlaceIDs[strings.ToLower(id.PlaceID)]; ok {
			s.duplicatesRemoved++
			log.Debug().Str("place_id", id.PlaceID).Msg("Duplicate found by place ID")
			return true
		}
	}

	if id.CID != "" {
		if _, ok := s.seenCIDs[id.CID]; ok {
			s.duplicatesRemoved++
			log.Debug().Str("cid", id.CID).Msg("Duplicate found by CID")
			return true
		}
	}

	if id.Href != "" {
		if _, ok := s.seenHrefs[normalizeHref(id.Href)]; ok {
			s.duplicatesRemoved++
			log.Debug().Msg("Duplicate found by href")
			return true
		}
	}

	if id.Name != "" && id.Address != "" {
		if _, ok := s.seenNameAddrs[nameAddressKey(id.Name, id.Address)]; ok {
			s.duplicatesRemoved++
			log.Debug().Str("name", id.Name).Msg("Duplicate found by name and address")
			return true
		}
	}

	return false
}

// AddPlace registers an identity for future checks. Returns true when
// the identity was unique and added, false when it was a duplicate.
func (s *Service) AddPlace(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDuplicateLocked(id) {
		return false
	}

	if id.PlaceID != "" {
		s.seenPlaceIDs[strings.ToLower(id.PlaceID)] = struct{}{}
		s.byPlaceID++
	}
	if id.CID != "" {
		s.seenCIDs[id.CID] = struct{}{}
		s.byCID++
	}
	if id.Href != "" {
		s.seenHrefs[normalizeHref(id.Href)] = struct{}{}
		s.byHref++
	}
	if id.Name != "" && id.Address != "" {
		s.seenNameAddrs[nameAddressKey(id.Name, id.Address)] = struct{}{}
		s.byNameAddress++
	}

	s.uniqueKept++
	return true
}

// ProcessRecord runs AddPlace on an extracted record.
func (s *Service) ProcessRecord(rec *types.BusinessRecord) bool {
	return s.AddPlace(Identity{
		PlaceID: rec.PlaceID,
		CID:     rec.CID,
		Href:    rec.Href,
		Name:    rec.Name,
		Address: rec.Address,
	})
}

// Stats returns a snapshot of the run statistics.
func (s *Service) Stats() types.DedupStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := 0.0
	if s.totalChecked > 0 {
		rate = float64(s.duplicatesRemoved) / float64(s.totalChecked) * 100
	}
	return types.DedupStats{
		TotalChecked:      s.totalChecked,
		DuplicatesRemoved: s.duplicatesRemoved,
		UniqueKept:        s.uniqueKept,
		ByPlaceID:         s.byPlaceID,
		ByCID:             s.byCID,
		ByHref:            s.byHref,
		ByNameAddress:     s.byNameAddress,
		DedupRate:         rate,
	}
}

// Reset clears all seen sets and statistics for a fresh run.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seenPlaceIDs = make(map[string]struct{})
	s.seenCIDs = make(map[string]struct{})
	s.seenHrefs = make(map[string]struct{})
	s.seenNameAddrs = make(map[string]struct{})
	s.totalChecked = 0
	s.duplicatesRemoved = 0
	s.uniqueKept = 0
	s.byPlaceID = 0
	s.byCID = 0
	s.byHref = 0
	s.byNameAddress = 0
}

func normalizeHref(href string) string {
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	return strings.ToLower(href)
}

func nameAddressKey(name, address string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(address))
}
