package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/vantorix/mapscout/internal/config"
)

func testPipelineConfig() *config.Config {
	return &config.Config{
		SearchURL:          "https://www.google.com/maps/search/",
		MaxConcurrentCards: 4,
		StaleScrollLimit:   5,
		DefaultTargetCount: 50,
	}
}

func TestMaxScrolls(t *testing.T) {
	tests := []struct {
		target int
		want   int
	}{
		{1, 20},
		{50, 20},
		{100, 20},
		{150, 30},
		{500, 100},
		{750, 150},
		{10000, 150},
	}
	for _, tt := range tests {
		if got := MaxScrolls(tt.target); got != tt.want {
			t.Errorf("MaxScrolls(%d) = %d, want %d", tt.target, got, tt.want)
		}
	}
}

func TestCollectionTarget(t *testing.T) {
	tests := []struct {
		target   int
		haveSeen bool
		want     int
	}{
		{50, false, 60},
		{50, true, 75},
		{1, false, 2},
		{1, true, 2},
		{33, false, 40},
		{33, true, 50},
	}
	for _, tt := range tests {
		if got := CollectionTarget(tt.target, tt.haveSeen); got != tt.want {
			t.Errorf("CollectionTarget(%d, %v) = %d, want %d", tt.target, tt.haveSeen, got, tt.want)
		}
	}
}

func TestProgressBands(t *testing.T) {
	if got := scrollPercent(0, 20); got != 15 {
		t.Errorf("scrollPercent(0) = %d, want 15", got)
	}
	if got := scrollPercent(20, 20); got != 30 {
		t.Errorf("scrollPercent(max) = %d, want 30", got)
	}
	if got := scrollPercent(40, 20); got != 30 {
		t.Errorf("scrollPercent over max = %d, want capped 30", got)
	}

	if got := extractPercent(0, 10); got != 30 {
		t.Errorf("extractPercent(0) = %d, want 30", got)
	}
	if got := extractPercent(10, 10); got != 95 {
		t.Errorf("extractPercent(all) = %d, want 95", got)
	}

	prev := 0
	for i := 0; i <= 10; i++ {
		pct := extractPercent(i, 10)
		if pct < prev {
			t.Fatalf("extractPercent decreased at %d: %d < %d", i, pct, prev)
		}
		prev = pct
	}
}

// fakeFeed simulates a results feed that reveals more cards per scroll.
type fakeFeed struct {
	pages   [][]cardInfo
	cursor  int
	scrolls int
}

func (f *fakeFeed) list() ([]cardInfo, error) {
	i := f.cursor
	if i >= len(f.pages) {
		i = len(f.pages) - 1
	}
	return f.pages[i], nil
}

func (f *fakeFeed) scroll(context.Context) error {
	f.scrolls++
	if f.cursor < len(f.pages)-1 {
		f.cursor++
	}
	return nil
}

func card(placeID string) cardInfo {
	return cardInfo{
		Href:      "/maps/place/Biz/data=!1s" + placeID + ":0xff",
		AriaLabel: "Biz " + placeID,
	}
}

// cardsUpTo returns n distinct cards, cumulative as a feed would show them.
func cardsUpTo(n int) []cardInfo {
	out := make([]cardInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, card(fmt.Sprintf("0x%04da", i)))
	}
	return out
}

func TestCollectorStopsAtTarget(t *testing.T) {
	feed := &fakeFeed{pages: [][]cardInfo{
		cardsUpTo(5),
		cardsUpTo(10),
		cardsUpTo(20),
		cardsUpTo(40),
	}}

	c := newCollector(12, 50, 5, nil)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.stopReason != stopTarget {
		t.Errorf("stopReason = %q, want %q", c.stopReason, stopTarget)
	}
	if len(c.cards) != 12 {
		t.Errorf("collected = %d, want 12", len(c.cards))
	}
	// Collection order follows on-page order.
	for i, cc := range c.cards {
		if cc.Index != i {
			t.Errorf("card %d has index %d", i, cc.Index)
		}
	}
}

func TestCollectorStaleTermination(t *testing.T) {
	// Feed stops producing after 8 cards.
	feed := &fakeFeed{pages: [][]cardInfo{
		cardsUpTo(4),
		cardsUpTo(8),
		cardsUpTo(8),
	}}

	c := newCollector(100, 50, 5, nil)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.stopReason != stopStale {
		t.Errorf("stopReason = %q, want %q", c.stopReason, stopStale)
	}
	if len(c.cards) != 8 {
		t.Errorf("collected = %d, want 8", len(c.cards))
	}
	// Productive scrolls plus the stale streak.
	if c.scrolls != 2+5-1 {
		t.Errorf("scrolls = %d, want 6", c.scrolls)
	}
	if c.staleTotal != 5 {
		t.Errorf("staleTotal = %d, want 5", c.staleTotal)
	}
}

func TestCollectorMaxScrollsTermination(t *testing.T) {
	// Every scroll yields one new card; the budget runs out first.
	pages := make([][]cardInfo, 20)
	for i := range pages {
		pages[i] = cardsUpTo(i + 1)
	}
	feed := &fakeFeed{pages: pages}

	c := newCollector(1000, 7, 5, nil)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.stopReason != stopMaxScrolls {
		t.Errorf("stopReason = %q, want %q", c.stopReason, stopMaxScrolls)
	}
	if c.scrolls != 7 {
		t.Errorf("scrolls = %d, want 7", c.scrolls)
	}
}

func TestCollectorSeenEarlyExit(t *testing.T) {
	all := cardsUpTo(40)
	seen := make(map[string]struct{})
	for i := 0; i < 40; i++ {
		seen[fmt.Sprintf("0x%04da", i)] = struct{}{}
	}

	feed := &fakeFeed{pages: [][]cardInfo{all}}
	c := newCollector(100, 50, 5, seen)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.stopReason != stopSeenRun {
		t.Errorf("stopReason = %q, want %q", c.stopReason, stopSeenRun)
	}
	if len(c.cards) != 0 {
		t.Errorf("collected = %d, want 0", len(c.cards))
	}
	// Each seen place is counted once even though the run hit 15 first.
	if c.skippedSeen < earlyExitSeenLimit {
		t.Errorf("skippedSeen = %d, want >= %d", c.skippedSeen, earlyExitSeenLimit)
	}
}

func TestCollectorSeenCountedOncePerID(t *testing.T) {
	// Three seen cards interleaved with new ones, re-enumerated each scroll.
	seen := map[string]struct{}{
		"0x0000a": {}, "0x0001a": {}, "0x0002a": {},
	}
	pages := [][]cardInfo{
		{card("0x0000a"), card("0x0001a"), card("0x0002a"), card("0x0010a")},
		{card("0x0000a"), card("0x0001a"), card("0x0002a"), card("0x0010a"), card("0x0011a")},
		{card("0x0000a"), card("0x0001a"), card("0x0002a"), card("0x0010a"), card("0x0011a")},
		{card("0x0000a"), card("0x0001a"), card("0x0002a"), card("0x0010a"), card("0x0011a")},
	}
	feed := &fakeFeed{pages: pages}

	c := newCollector(100, 50, 2, seen)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.skippedSeen != 3 {
		t.Errorf("skippedSeen = %d, want 3 (once per ID)", c.skippedSeen)
	}
	if len(c.cards) != 2 {
		t.Errorf("collected = %d, want 2", len(c.cards))
	}
	// The returned cards must be disjoint from the seen set.
	for _, cc := range c.cards {
		if _, ok := seen[cc.PlaceID]; ok {
			t.Errorf("seen place %s leaked into results", cc.PlaceID)
		}
	}
}

func TestCollectorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	feed := &fakeFeed{pages: [][]cardInfo{cardsUpTo(5)}}
	c := newCollector(100, 50, 5, nil)
	c.list = feed.list
	c.scroll = feed.scroll

	if err := c.run(ctx); err == nil {
		t.Error("run with canceled context should fail")
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4.5 stars", 4.5, true},
		{"4,5 stars", 4.5, true},
		{"5 stars", 5, true},
		{"4.8", 4.8, true},
		{"9.9 stars", 0, false},
		{"no rating", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := parseRating(tt.in)
		if tt.ok {
			if got == nil || *got != tt.want {
				t.Errorf("parseRating(%q) = %v, want %v", tt.in, got, tt.want)
			}
		} else if got != nil {
			t.Errorf("parseRating(%q) = %v, want nil", tt.in, *got)
		}
	}
}

func TestParseReviews(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1,234 reviews", 1234, true},
		{"(567)", 567, true},
		{"1 review", 1, true},
		{"no reviews yet", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := parseReviews(tt.in)
		if tt.ok {
			if got == nil || *got != tt.want {
				t.Errorf("parseReviews(%q) = %v, want %d", tt.in, got, tt.want)
			}
		} else if got != nil {
			t.Errorf("parseReviews(%q) = %v, want nil", tt.in, *got)
		}
	}
}

func TestParseCoordinates(t *testing.T) {
	lat, lng := parseCoordinates("https://www.google.com/maps/place/Biz/@40.7128,-74.0060,17z/data=...")
	if lat == nil || lng == nil {
		t.Fatal("expected coordinates")
	}
	if *lat != 40.7128 || *lng != -74.0060 {
		t.Errorf("coords = %v,%v, want 40.7128,-74.0060", *lat, *lng)
	}

	if lat, lng := parseCoordinates("https://www.google.com/maps/search/pizza"); lat != nil || lng != nil {
		t.Error("URL without @lat,lng should yield nil")
	}
	if lat, _ := parseCoordinates("@95.0,10.0"); lat != nil {
		t.Error("out-of-range latitude should yield nil")
	}
}

func TestIsValidName(t *testing.T) {
	valid := []string{"Joe's Pizza", "AB", "Café 21"}
	for _, name := range valid {
		if !isValidName(name) {
			t.Errorf("isValidName(%q) = false, want true", name)
		}
	}

	invalid := []string{"", " ", "x", "None", "Results", "LOADING", "Sponsored", "Google Maps", "N/A", "loading..."}
	for _, name := range invalid {
		if isValidName(name) {
			t.Errorf("isValidName(%q) = true, want false", name)
		}
	}
}

func TestCleanLabeled(t *testing.T) {
	v := &fieldValue{Aria: "Address: 7 Carmine St, New York", Text: "7 Carmine St"}
	if got := cleanLabeled(v, "Address:"); got != "7 Carmine St, New York" {
		t.Errorf("cleanLabeled = %q", got)
	}

	v = &fieldValue{Text: "+1 212-555-0100"}
	if got := cleanLabeled(v, "Phone:"); got != "+1 212-555-0100" {
		t.Errorf("cleanLabeled without aria = %q", got)
	}
}

func TestSearchURLEscapesQuery(t *testing.T) {
	p := &Pipeline{cfg: testPipelineConfig()}
	got := p.searchURL("coffee & bagels nyc")
	want := "https://www.google.com/maps/search/coffee+%26+bagels+nyc"
	if got != want {
		t.Errorf("searchURL = %q, want %q", got, want)
	}
}
