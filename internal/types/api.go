package types

import (
	"fmt"
	"strings"
)

// Request validation limits.
const (
	MinQueryLength      = 2
	MaxQueryLength      = 500
	MaxUserIDLength     = 255
	MinTargetCount      = 1
	MaxTargetCount      = 500
	DefaultTargetCount  = 50
	MinMaxScrolls       = 1
	MaxMaxScrolls       = 100
	DefaultMaxScrolls   = 50
	MaxHistoryLimit     = 100
	DefaultHistoryLimit = 20
)

// ScrapeRequest represents an incoming scrape request. SheetID and
// SheetURL are pass-through metadata stored on the scrape session for
// downstream export tooling; the service does not interpret them.
type ScrapeRequest struct {
	SearchQuery string `json:"search_query"`
	TargetCount int    `json:"target_count,omitempty"`
	MaxScrolls  int    `json:"max_scrolls,omitempty"`
	SheetID     string `json:"sheet_id,omitempty"`
	SheetURL    string `json:"sheet_url,omitempty"`
}

// Validate trims the query, fills zero fields with defaults, and checks bounds.
func (r *ScrapeRequest) Validate() error {
	r.SearchQuery = strings.TrimSpace(r.SearchQuery)
	if r.SearchQuery == "" {
		return ErrQueryRequired
	}
	if len(r.SearchQuery) < MinQueryLength {
		return fmt.Errorf("search_query must be at least %d characters", MinQueryLength)
	}
	if len(r.SearchQuery) > MaxQueryLength {
		return fmt.Errorf("search_query exceeds maximum length of %d", MaxQueryLength)
	}

	if r.TargetCount == 0 {
		r.TargetCount = DefaultTargetCount
	}
	if r.TargetCount < MinTargetCount || r.TargetCount > MaxTargetCount {
		return fmt.Errorf("target_count must be between %d and %d", MinTargetCount, MaxTargetCount)
	}

	if r.MaxScrolls == 0 {
		r.MaxScrolls = DefaultMaxScrolls
	}
	if r.MaxScrolls < MinMaxScrolls || r.MaxScrolls > MaxMaxScrolls {
		return fmt.Errorf("max_scrolls must be between %d and %d", MinMaxScrolls, MaxMaxScrolls)
	}

	return nil
}

// BusinessRecord is a single extracted business listing.
type BusinessRecord struct {
	PlaceID      string   `json:"place_id,omitempty"`
	CID          string   `json:"cid,omitempty"`
	Name         string   `json:"name"`
	Address      string   `json:"address,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Website      string   `json:"website,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	ReviewsCount *int     `json:"reviews_count,omitempty"`
	Category     string   `json:"category,omitempty"`
	Hours        string   `json:"hours,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	IsClaimed    bool     `json:"is_claimed"`
	PhotoURL     string   `json:"photo_url,omitempty"`
	Href         string   `json:"href,omitempty"`
}

// Validate checks field bounds on an extracted record.
func (b *BusinessRecord) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if b.Rating != nil && (*b.Rating < 0 || *b.Rating > 5) {
		return fmt.Errorf("rating must be between 0 and 5")
	}
	if b.ReviewsCount != nil && *b.ReviewsCount < 0 {
		return fmt.Errorf("reviews_count cannot be negative")
	}
	return nil
}

// CollectedCard is a result card gathered during the scroll phase,
// before its detail page has been visited.
type CollectedCard struct {
	PlaceID  string `json:"place_id"`
	Href     string `json:"href"`
	CardName string `json:"card_name,omitempty"`
	Index    int    `json:"index"`
}

// ScrapeStats summarizes a pipeline run.
type ScrapeStats struct {
	CardsFound        int `json:"cards_found"`
	CardsExtracted    int `json:"cards_extracted"`
	ExtractionErrors  int `json:"extraction_errors"`
	ScrollsPerformed  int `json:"scrolls_performed"`
	StaleScrolls      int `json:"stale_scrolls"`
	SkippedDuplicates int `json:"skipped_duplicates"`
}

// DedupStats summarizes duplicate filtering for one run.
type DedupStats struct {
	TotalChecked      int     `json:"total_checked"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	UniqueKept        int     `json:"unique_kept"`
	ByPlaceID         int     `json:"by_place_id"`
	ByCID             int     `json:"by_cid"`
	ByHref            int     `json:"by_href"`
	ByNameAddress     int     `json:"by_name_address"`
	DedupRate         float64 `json:"dedup_rate"`
}

// ScrapeStartedResponse acknowledges an accepted async scrape.
type ScrapeStartedResponse struct {
	ScrapeID            string `json:"scrape_id"`
	Status              string `json:"status"`
	Query               string `json:"query"`
	CursorStatus        string `json:"cursor_status"`
	PreviouslyCollected int    `json:"previously_collected"`
	SeenPlacesCount     int    `json:"seen_places_count"`
	TargetCount         int    `json:"target_count"`
	Message             string `json:"message"`
}

// ScrapeResultsResponse carries the final records of a finished scrape.
type ScrapeResultsResponse struct {
	Status         string           `json:"status"`
	ScrapeID       string           `json:"scrape_id,omitempty"`
	Query          string           `json:"query"`
	TotalCollected int              `json:"total_collected"`
	UniqueResults  int              `json:"unique_results"`
	TargetCount    int              `json:"target_count"`
	TimeTaken      float64          `json:"time_taken_seconds"`
	Results        []BusinessRecord `json:"results"`
	Stats          *ScrapeStats     `json:"stats,omitempty"`
	DedupStats     *DedupStats      `json:"dedup_stats,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Cursor status values returned by scrape-async.
const (
	CursorStatusNew      = "new"
	CursorStatusResuming = "resuming"
)

// Status values for API responses.
const (
	StatusOK      = "ok"
	StatusStarted = "started"
	StatusError   = "error"
)
