// Package scraper drives the search page: navigate, scroll the results
// feed collecting card links, then visit detail panels concurrently and
// extract structured business records. A run honors a resume cursor and
// a set of already-seen place IDs, and reports live progress.
package scraper

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/browser"
	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/dedup"
	"github.com/vantorix/mapscout/internal/metrics"
	"github.com/vantorix/mapscout/internal/progress"
	"github.com/vantorix/mapscout/internal/selectors"
	"github.com/vantorix/mapscout/internal/types"
)

// Scroll budget bounds when max_scrolls is not given explicitly.
const (
	minScrollBudget = 20
	maxScrollBudget = 150

	// earlyExitSeenLimit stops collection once this many consecutive
	// anchors belong to already-seen places. A feed dominated by known
	// businesses will not produce new results by scrolling further.
	earlyExitSeenLimit = 15
)

// Progress bands. Scrolling owns 15-30%, extraction 30-95%, the
// post-processing tail 95-100%.
const (
	scrollBandStart  = 15
	scrollBandEnd    = 30
	extractBandStart = 30
	extractBandEnd   = 95
	postBandStart    = 95
)

// MaxScrolls computes the scroll budget for a target count:
// one scroll surfaces roughly five cards, clamped to [20, 150].
func MaxScrolls(targetCount int) int {
	n := int(math.Ceil(float64(targetCount) / 5))
	if n < minScrollBudget {
		return minScrollBudget
	}
	if n > maxScrollBudget {
		return maxScrollBudget
	}
	return n
}

// CollectionTarget inflates the user's target to absorb dedup attrition:
// 1.5x when a seen-set will eat into results, 1.2x otherwise.
func CollectionTarget(targetCount int, haveSeen bool) int {
	factor := 1.2
	if haveSeen {
		factor = 1.5
	}
	return int(math.Ceil(float64(targetCount) * factor))
}

// Resume is the cursor state a pipeline starts from.
type Resume struct {
	ScrollPosition float64
	CollectedCount int
	LastPlaceID    string
	LastCardIndex  int
}

// CursorOut is the resume point emitted at the end of a run.
type CursorOut struct {
	ScrollPosition float64
	CollectedCount int
	LastPlaceID    string
	LastCardIndex  int
	TotalScrolls   int
	VisibleCards   int
}

// Params configures one pipeline run.
type Params struct {
	Query       string
	TargetCount int
	// MaxScrolls of zero means compute from TargetCount.
	MaxScrolls int
	SeenPlaces map[string]struct{}
	Cursor     *Resume
}

// Result is the outcome of a completed run.
type Result struct {
	Records     []types.BusinessRecord
	Cursor      CursorOut
	Stats       types.ScrapeStats
	DedupStats  types.DedupStats
	SkippedSeen int
	TimeTaken   time.Duration
}

// Pipeline is one scrape run bound to a user's browser context.
// Not reusable across runs; create a fresh one per scrape.
type Pipeline struct {
	cfg      *config.Config
	uc       *browser.UserContext
	sel      *selectors.Manager
	tracker  *progress.Tracker
	dedup    *dedup.Service
	scrapeID string

	mu    sync.Mutex
	stats types.ScrapeStats
}

// New creates a pipeline for one scrape.
func New(cfg *config.Config, uc *browser.UserContext, sel *selectors.Manager, tracker *progress.Tracker, scrapeID string) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		uc:       uc,
		sel:      sel,
		tracker:  tracker,
		dedup:    dedup.NewService(),
		scrapeID: scrapeID,
	}
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() types.ScrapeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run executes the full pipeline. Per-card extraction errors are counted
// and swallowed; navigation and collection failures propagate.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	if params.TargetCount <= 0 {
		params.TargetCount = p.cfg.DefaultTargetCount
	}
	maxScrolls := params.MaxScrolls
	if maxScrolls <= 0 {
		maxScrolls = MaxScrolls(params.TargetCount)
	}
	collectionTarget := CollectionTarget(params.TargetCount, len(params.SeenPlaces) > 0)

	log.Info().
		Str("scrape_id", p.scrapeID).
		Str("query", params.Query).
		Int("target", params.TargetCount).
		Int("collection_target", collectionTarget).
		Int("max_scrolls", maxScrolls).
		Int("seen_places", len(params.SeenPlaces)).
		Bool("resuming", params.Cursor != nil).
		Msg("Starting scrape pipeline")

	p.tracker.SetPhase(p.scrapeID, progress.StatusStarting, 5, "Opening search results...")

	page := p.uc.Page()
	if page == nil {
		return nil, types.ErrSessionPageNil
	}

	if err := p.navigate(ctx, page, params.Query); err != nil {
		return nil, types.NewNavigationError(params.Query, err)
	}

	p.tracker.SetPhase(p.scrapeID, progress.StatusScrolling, scrollBandStart, "Scrolling results...")

	collected, err := p.collect(ctx, page, collectParams{
		query:            params.Query,
		collectionTarget: collectionTarget,
		maxScrolls:       maxScrolls,
		seenPlaces:       params.SeenPlaces,
		cursor:           params.Cursor,
	})
	if err != nil {
		return nil, types.NewCollectError(params.Query, err)
	}

	p.tracker.SetPhase(p.scrapeID, progress.StatusExtracting, extractBandStart, "Extracting business details...")

	records := p.extractCards(ctx, params.Query, collected.cards)

	p.tracker.SetPhase(p.scrapeID, progress.StatusExtracting, postBandStart, "Finalizing results...")

	// Final dedup pass and trim. Extraction already registers each record,
	// so this guards against fallback-identity collisions between cards
	// that carried distinct place IDs.
	final := make([]types.BusinessRecord, 0, len(records))
	for _, rec := range records {
		if len(final) >= params.TargetCount {
			break
		}
		final = append(final, rec)
	}

	stats := p.Stats()
	stats.SkippedDuplicates = collected.skippedSeen

	prevCollected := 0
	if params.Cursor != nil {
		prevCollected = params.Cursor.CollectedCount
	}

	result := &Result{
		Records: final,
		Cursor: CursorOut{
			ScrollPosition: collected.finalPosition,
			CollectedCount: prevCollected + len(collected.cards) + collected.skippedSeen,
			LastPlaceID:    collected.lastPlaceID,
			LastCardIndex:  collected.lastCardIndex,
			TotalScrolls:   collected.scrolls,
			VisibleCards:   collected.visibleCards,
		},
		Stats:       stats,
		DedupStats:  p.dedup.Stats(),
		SkippedSeen: collected.skippedSeen,
		TimeTaken:   time.Since(start),
	}

	metrics.RecordExtraction(len(final), result.DedupStats.DuplicatesRemoved+collected.skippedSeen, collected.scrolls)

	log.Info().
		Str("scrape_id", p.scrapeID).
		Int("results", len(final)).
		Int("cards_found", stats.CardsFound).
		Int("scrolls", collected.scrolls).
		Int("skipped_seen", collected.skippedSeen).
		Dur("duration", result.TimeTaken).
		Msg("Scrape pipeline finished")

	return result, nil
}

// scrollPercent maps scroll progress into the scrolling band.
func scrollPercent(scrolls, maxScrolls int) int {
	if maxScrolls <= 0 {
		return scrollBandStart
	}
	span := scrollBandEnd - scrollBandStart
	pct := scrollBandStart + scrolls*span/maxScrolls
	if pct > scrollBandEnd {
		return scrollBandEnd
	}
	return pct
}

// extractPercent maps extraction progress into the extraction band.
func extractPercent(done, total int) int {
	if total <= 0 {
		return extractBandStart
	}
	span := extractBandEnd - extractBandStart
	pct := extractBandStart + done*span/total
	if pct > extractBandEnd {
		return extractBandEnd
	}
	return pct
}
