package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/vantorix/mapscout/internal/types"
)

func TestExtractPlaceID(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{
			"feature id in place URL",
			"/maps/place/Pizza+Hut/@40.7,-74.0,17z/data=!3m4!1s0x890cb024fe77e7b6:0x123abc!8m2",
			"0x890cb024fe77e7b6",
		},
		{"bare hex", "https://maps.example.com/?q=0xabc123", "0xabc123"},
		{
			"longest hex wins",
			"/maps/place/x?a=0xdead&b=0x890cb024fe77e7b6",
			"0x890cb024fe77e7b6",
		},
		{"uppercase lowered", "/place/!1s0xABCDEF12:0x999", "0xabcdef12"},
		{"no identifier", "/maps/place/Somewhere", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPlaceID(tt.href); got != tt.want {
				t.Errorf("ExtractPlaceID(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestExtractCIDFromFeatureID(t *testing.T) {
	tests := []struct {
		name      string
		featureID string
		want      string
	}{
		{"small hex", "0x89c3afa1b597fe49:0xfff", "4095"},
		{"full 64-bit value", "0x1:0x890cb024fe77e7b6", "9875461755851237302"},
		{"no colon converts directly", "0xff", "255"},
		{"garbage", "not-a-feature-id", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCIDFromFeatureID(tt.featureID); got != tt.want {
				t.Errorf("ExtractCIDFromFeatureID(%q) = %q, want %q", tt.featureID, got, tt.want)
			}
		})
	}
}

func TestExtractCIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"cid param", "https://maps.example.com/?cid=9876543210987654321", "9876543210987654321"},
		{"data blob", "/maps/place/x/data=!4m5!1234567890123456!x", "1234567890123456"},
		{"cid param wins over data", "/maps?cid=42&data=!1234567890123456!", "42"},
		{"nothing", "/maps/place/x", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCIDFromURL(tt.url); got != tt.want {
				t.Errorf("ExtractCIDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsDuplicatePriority(t *testing.T) {
	s := NewService()

	if added := s.AddPlace(Identity{
		PlaceID: "0xAAA",
		CID:     "100",
		Href:    "/maps/place/acme?hl=en",
		Name:    "Acme Dental",
		Address: "12 Main St",
	}); !added {
		t.Fatal("First add should be unique")
	}

	// Place ID match, case-insensitive.
	if !s.IsDuplicate(Identity{PlaceID: "0xaaa"}) {
		t.Error("Expected duplicate by place ID")
	}

	// CID match when place ID is new.
	if !s.IsDuplicate(Identity{PlaceID: "0xBBB", CID: "100"}) {
		t.Error("Expected duplicate by CID")
	}

	// Href match ignores the query string.
	if !s.IsDuplicate(Identity{Href: "/maps/place/ACME?hl=fr&foo=1"}) {
		t.Error("Expected duplicate by normalized href")
	}

	// Name+address fallback.
	if !s.IsDuplicate(Identity{Name: "  acme dental ", Address: "12 MAIN ST"}) {
		t.Error("Expected duplicate by name and address")
	}

	// Name alone never matches.
	if s.IsDuplicate(Identity{Name: "Acme Dental"}) {
		t.Error("Name without address must not match")
	}
}

func TestAddPlaceRejectsDuplicates(t *testing.T) {
	s := NewService()

	if !s.AddPlace(Identity{PlaceID: "0x1", Href: "/p/one"}) {
		t.Fatal("Expected first add to succeed")
	}
	if s.AddPlace(Identity{PlaceID: "0x1", Href: "/p/other"}) {
		t.Error("Expected second add with same place ID to be rejected")
	}
	if !s.AddPlace(Identity{PlaceID: "0x2", Href: "/p/two"}) {
		t.Error("Expected add with new identifiers to succeed")
	}
}

func TestStatsCounting(t *testing.T) {
	s := NewService()

	s.AddPlace(Identity{PlaceID: "0x1", CID: "11", Href: "/p/1", Name: "One", Address: "A St"})
	s.AddPlace(Identity{Name: "Two", Address: "B St"})
	s.AddPlace(Identity{PlaceID: "0x1"}) // duplicate

	stats := s.Stats()
	if stats.TotalChecked != 3 {
		t.Errorf("Expected 3 checks, got %d", stats.TotalChecked)
	}
	if stats.DuplicatesRemoved != 1 {
		t.Errorf("Expected 1 duplicate, got %d", stats.DuplicatesRemoved)
	}
	if stats.UniqueKept != 2 {
		t.Errorf("Expected 2 unique, got %d", stats.UniqueKept)
	}
	if stats.ByPlaceID != 1 || stats.ByCID != 1 || stats.ByHref != 1 {
		t.Errorf("Unexpected identifier counters: %+v", stats)
	}
	if stats.ByNameAddress != 2 {
		t.Errorf("Expected 2 name+address registrations, got %d", stats.ByNameAddress)
	}
	want := 1.0 / 3.0 * 100
	if diff := stats.DedupRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected dedup rate %.4f, got %.4f", want, stats.DedupRate)
	}
}

func TestOrderIndependence(t *testing.T) {
	ids := []Identity{
		{PlaceID: "0x1", Name: "One", Address: "A"},
		{PlaceID: "0x2", Name: "Two", Address: "B"},
		{PlaceID: "0x1", Name: "One Again", Address: "C"},
		{CID: "33", Name: "Three", Address: "D"},
	}

	forward := NewService()
	for _, id := range ids {
		forward.AddPlace(id)
	}

	backward := NewService()
	for i := len(ids) - 1; i >= 0; i-- {
		backward.AddPlace(ids[i])
	}

	if forward.Stats().UniqueKept != backward.Stats().UniqueKept {
		t.Errorf("Unique count must not depend on insertion order: %d vs %d",
			forward.Stats().UniqueKept, backward.Stats().UniqueKept)
	}
}

func TestProcessRecord(t *testing.T) {
	s := NewService()
	rec := &types.BusinessRecord{
		PlaceID: "0x890cb024fe77e7b6",
		Name:    "Pizza Hut",
		Address: "1 Plaza Rd",
		Href:    "/maps/place/pizza",
	}

	if !s.ProcessRecord(rec) {
		t.Error("Expected first record to be unique")
	}
	if s.ProcessRecord(rec) {
		t.Error("Expected repeated record to be a duplicate")
	}
}

func TestReset(t *testing.T) {
	s := NewService()
	s.AddPlace(Identity{PlaceID: "0x1"})
	s.Reset()

	stats := s.Stats()
	if stats.TotalChecked != 0 || stats.UniqueKept != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}
	if s.IsDuplicate(Identity{PlaceID: "0x1"}) {
		t.Error("Expected place to be forgotten after reset")
	}
}

func TestConcurrentAddPlace(t *testing.T) {
	s := NewService()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Half the goroutines insert the same identity.
			id := Identity{PlaceID: "0xshared"}
			if n%2 == 0 {
				id = Identity{PlaceID: fmt.Sprintf("0x%d", n)}
			}
			s.AddPlace(id)
		}(i)
	}
	wg.Wait()

	stats := s.Stats()
	if stats.UniqueKept != 26 {
		t.Errorf("Expected 26 unique places (25 distinct + 1 shared), got %d", stats.UniqueKept)
	}
}

func BenchmarkProcessRecord(b *testing.B) {
	svc := NewService()
	records := make([]types.BusinessRecord, 1000)
	for i := range records {
		records[i] = types.BusinessRecord{
			PlaceID: fmt.Sprintf("0x890cb024fe77e%03x", i%700),
			Name:    fmt.Sprintf("Business %d", i),
			Address: "123 Main St",
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := records[i%len(records)]
		svc.ProcessRecord(&rec)
	}
}

func BenchmarkExtractPlaceID(b *testing.B) {
	href := "/maps/place/Pizza+Hut/@40.7,-74.0,17z/data=!3m4!1s0x890cb024fe77e7b6:0x123abc!8m2"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ExtractPlaceID(href)
	}
}
