package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestScrapeRequestValidateDefaults(t *testing.T) {
	req := ScrapeRequest{SearchQuery: "  dentist in amritsar  "}

	if err := req.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if req.SearchQuery != "dentist in amritsar" {
		t.Errorf("Expected trimmed query, got %q", req.SearchQuery)
	}
	if req.TargetCount != DefaultTargetCount {
		t.Errorf("Expected default target_count %d, got %d", DefaultTargetCount, req.TargetCount)
	}
	if req.MaxScrolls != DefaultMaxScrolls {
		t.Errorf("Expected default max_scrolls %d, got %d", DefaultMaxScrolls, req.MaxScrolls)
	}
}

func TestScrapeRequestValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		req     ScrapeRequest
		wantErr bool
	}{
		{"valid", ScrapeRequest{SearchQuery: "plumber", TargetCount: 100, MaxScrolls: 30}, false},
		{"empty query", ScrapeRequest{SearchQuery: "   "}, true},
		{"query too short", ScrapeRequest{SearchQuery: "a"}, true},
		{"query too long", ScrapeRequest{SearchQuery: strings.Repeat("x", MaxQueryLength+1)}, true},
		{"target too low", ScrapeRequest{SearchQuery: "plumber", TargetCount: -1}, true},
		{"target too high", ScrapeRequest{SearchQuery: "plumber", TargetCount: 501}, true},
		{"target at max", ScrapeRequest{SearchQuery: "plumber", TargetCount: 500}, false},
		{"scrolls too high", ScrapeRequest{SearchQuery: "plumber", MaxScrolls: 101}, true},
		{"scrolls at max", ScrapeRequest{SearchQuery: "plumber", MaxScrolls: 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScrapeRequestEmptyQuerySentinel(t *testing.T) {
	req := ScrapeRequest{}
	if err := req.Validate(); !errors.Is(err, ErrQueryRequired) {
		t.Errorf("Expected ErrQueryRequired, got %v", err)
	}
}

func TestBusinessRecordValidate(t *testing.T) {
	rating := 4.5
	badRating := 5.5
	negReviews := -1

	tests := []struct {
		name    string
		rec     BusinessRecord
		wantErr bool
	}{
		{"valid", BusinessRecord{Name: "Acme Dental", Rating: &rating}, false},
		{"missing name", BusinessRecord{Address: "12 Main St"}, true},
		{"whitespace name", BusinessRecord{Name: "   "}, true},
		{"rating out of range", BusinessRecord{Name: "Acme", Rating: &badRating}, true},
		{"negative reviews", BusinessRecord{Name: "Acme", ReviewsCount: &negReviews}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestBusinessRecordJSONFieldNames verifies the wire format stays snake_case.
func TestBusinessRecordJSONFieldNames(t *testing.T) {
	rating := 4.2
	reviews := 87
	rec := BusinessRecord{
		PlaceID:      "0x1234abcd",
		CID:          "987654321",
		Name:         "Acme Dental",
		Rating:       &rating,
		ReviewsCount: &reviews,
		IsClaimed:    true,
		PhotoURL:     "https://example.com/p.jpg",
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}

	jsonStr := string(data)
	for _, field := range []string{`"place_id"`, `"cid"`, `"name"`, `"rating"`, `"reviews_count"`, `"is_claimed"`, `"photo_url"`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("Expected field %s not found in JSON: %s", field, jsonStr)
		}
	}
	for _, field := range []string{`"placeId"`, `"reviewsCount"`, `"isClaimed"`, `"photoUrl"`} {
		if strings.Contains(jsonStr, field) {
			t.Errorf("Unexpected field %s found in JSON: %s", field, jsonStr)
		}
	}
}

func TestPoolExhaustedError(t *testing.T) {
	err := NewPoolExhaustedError("user-1", 20)

	if !errors.Is(err, ErrPoolExhausted) {
		t.Error("Expected errors.Is(err, ErrPoolExhausted) to be true")
	}
	if !strings.Contains(err.Error(), "Maximum concurrent sessions (20) reached") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
