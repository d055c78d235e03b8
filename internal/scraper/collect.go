package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/dedup"
	"github.com/vantorix/mapscout/internal/humanize"
	"github.com/vantorix/mapscout/internal/progress"
)

// cardInfo is one visible result-card anchor.
type cardInfo struct {
	Href      string
	AriaLabel string
}

// Collection stop reasons, recorded for logging.
const (
	stopTarget     = "collection_target"
	stopStale      = "stale_scrolls"
	stopMaxScrolls = "max_scrolls"
	stopSeenRun    = "consecutive_seen"
)

type collectParams struct {
	query            string
	collectionTarget int
	maxScrolls       int
	seenPlaces       map[string]struct{}
	cursor           *Resume
}

// collectResult is what the collection phase hands to extraction.
type collectResult struct {
	cards         []collectedCard
	skippedSeen   int
	scrolls       int
	staleScrolls  int
	finalPosition float64
	lastPlaceID   string
	lastCardIndex int
	visibleCards  int
	stopReason    string
}

type collectedCard struct {
	PlaceID  string
	Href     string
	CardName string
	Index    int
}

// collector runs the scroll/enumerate loop. Enumeration and scrolling are
// injected so the stopping criteria can be tested without a browser.
type collector struct {
	target     int
	maxScrolls int
	staleLimit int
	seenPlaces map[string]struct{}

	list     func() ([]cardInfo, error)
	scroll   func(context.Context) error
	onScroll func(found, scrolls int)

	cards       []collectedCard
	known       map[string]struct{}
	countedSeen map[string]struct{}

	skippedSeen     int
	consecutiveSeen int
	staleStreak     int
	staleTotal      int
	scrolls         int
	lastPlaceID     string
	lastCardIndex   int
	visibleCards    int
	stopReason      string
}

func newCollector(target, maxScrolls, staleLimit int, seen map[string]struct{}) *collector {
	return &collector{
		target:      target,
		maxScrolls:  maxScrolls,
		staleLimit:  staleLimit,
		seenPlaces:  seen,
		known:       make(map[string]struct{}),
		countedSeen: make(map[string]struct{}),
	}
}

// run loops enumerate -> check stopping criteria -> scroll until one of
// the four exit conditions fires: collection target reached, stale-scroll
// limit, scroll budget spent, or a run of consecutive already-seen places.
func (c *collector) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		visible, err := c.list()
		if err != nil {
			return fmt.Errorf("card enumeration failed: %w", err)
		}
		c.visibleCards = len(visible)

		newThisScroll := c.ingest(visible)

		if len(c.cards) >= c.target {
			c.stopReason = stopTarget
			return nil
		}
		if c.consecutiveSeen >= earlyExitSeenLimit {
			c.stopReason = stopSeenRun
			return nil
		}

		if newThisScroll == 0 {
			c.staleStreak++
			c.staleTotal++
			if c.staleStreak >= c.staleLimit {
				c.stopReason = stopStale
				return nil
			}
		} else {
			c.staleStreak = 0
		}

		if c.scrolls >= c.maxScrolls {
			c.stopReason = stopMaxScrolls
			return nil
		}

		if err := c.scroll(ctx); err != nil {
			return fmt.Errorf("feed scroll failed: %w", err)
		}
		c.scrolls++

		if c.onScroll != nil {
			c.onScroll(len(c.cards), c.scrolls)
		}
	}
}

// ingest folds one enumeration into the collected set and returns how many
// cards were new this pass. Already-seen places count once toward
// skippedSeen but every encounter extends the consecutive-seen run.
func (c *collector) ingest(visible []cardInfo) int {
	newCards := 0
	for _, card := range visible {
		placeID := dedup.ExtractPlaceID(card.Href)
		if placeID == "" {
			continue
		}
		c.lastPlaceID = placeID

		if _, known := c.known[placeID]; known {
			continue
		}

		if _, seen := c.seenPlaces[placeID]; seen {
			if _, counted := c.countedSeen[placeID]; !counted {
				c.countedSeen[placeID] = struct{}{}
				c.skippedSeen++
			}
			c.consecutiveSeen++
			continue
		}

		c.known[placeID] = struct{}{}
		c.lastCardIndex = len(c.cards)
		c.cards = append(c.cards, collectedCard{
			PlaceID:  placeID,
			Href:     card.Href,
			CardName: card.AriaLabel,
			Index:    len(c.cards),
		})
		c.consecutiveSeen = 0
		newCards++

		if len(c.cards) >= c.target {
			break
		}
	}
	return newCards
}

// collect wires the collector to the live page: resume from the cursor,
// enumerate anchors, scroll the feed with humanized delays, and emit
// progress each scroll.
func (p *Pipeline) collect(ctx context.Context, page *rod.Page, params collectParams) (*collectResult, error) {
	sel := p.sel.Get()
	feed := humanize.NewFeedScroller(page, sel.Feed)

	if params.cursor != nil {
		p.resumeFromCursor(ctx, page, feed, params.cursor)
	}

	col := newCollector(params.collectionTarget, params.maxScrolls, p.cfg.StaleScrollLimit, params.seenPlaces)
	col.list = func() ([]cardInfo, error) {
		return listCards(page, sel.CardLinks)
	}
	col.scroll = func(ctx context.Context) error {
		if err := feed.ScrollStep(ctx); err != nil {
			return err
		}
		if !humanize.SleepBetween(ctx, p.cfg.ScrollDelayMin, p.cfg.ScrollDelayMax) {
			return ctx.Err()
		}
		return nil
	}
	col.onScroll = func(found, scrolls int) {
		p.tracker.SetScrollStats(p.scrapeID, found, scrolls)
		p.tracker.SetPhase(p.scrapeID, progress.StatusScrolling,
			scrollPercent(scrolls, params.maxScrolls),
			fmt.Sprintf("Scrolling... found %d new, skipped %d duplicates", found, col.skippedSeen))
	}

	if err := col.run(ctx); err != nil {
		return nil, err
	}

	pos, err := feed.Position()
	if err != nil {
		log.Debug().Err(err).Msg("Could not read final feed position")
		pos = 0
	}

	p.mu.Lock()
	p.stats.CardsFound = len(col.cards)
	p.stats.ScrollsPerformed = col.scrolls
	p.stats.StaleScrolls = col.staleTotal
	p.mu.Unlock()

	log.Info().
		Str("scrape_id", p.scrapeID).
		Int("cards", len(col.cards)).
		Int("scrolls", col.scrolls).
		Int("skipped_seen", col.skippedSeen).
		Str("stop_reason", col.stopReason).
		Msg("Card collection finished")

	return &collectResult{
		cards:         col.cards,
		skippedSeen:   col.skippedSeen,
		scrolls:       col.scrolls,
		staleScrolls:  col.staleTotal,
		finalPosition: pos,
		lastPlaceID:   col.lastPlaceID,
		lastCardIndex: col.lastCardIndex,
		visibleCards:  col.visibleCards,
		stopReason:    col.stopReason,
	}, nil
}

// resumeFromCursor restores the saved scroll position and verifies the
// anchor recorded in the cursor is still in reach. Scroll positions are
// pixel offsets and drift when the page layout changes, so a failed
// verification falls back to a fresh scroll from the top.
func (p *Pipeline) resumeFromCursor(ctx context.Context, page *rod.Page, feed *humanize.FeedScroller, cursor *Resume) {
	if cursor.ScrollPosition <= 0 {
		return
	}

	if err := feed.ScrollToPosition(ctx, cursor.ScrollPosition); err != nil {
		log.Warn().Err(err).Float64("position", cursor.ScrollPosition).Msg("Cursor resume scroll failed, starting fresh")
		return
	}
	// Lazy-loaded cards need a moment after the jump.
	humanize.SleepWithContext(ctx, 1500*time.Millisecond)

	if cursor.LastPlaceID == "" {
		return
	}

	visible, err := listCards(page, p.sel.Get().CardLinks)
	if err == nil {
		for _, card := range visible {
			if strings.Contains(strings.ToLower(card.Href), cursor.LastPlaceID) {
				log.Info().
					Float64("position", cursor.ScrollPosition).
					Str("anchor", cursor.LastPlaceID).
					Msg("Cursor resume verified")
				return
			}
		}
	}

	log.Warn().
		Str("anchor", cursor.LastPlaceID).
		Msg("Resume anchor not found at saved position, starting fresh")
	if err := feed.ScrollToPosition(ctx, 0); err != nil {
		log.Debug().Err(err).Msg("Scroll back to top failed")
	}
}

// listCards enumerates visible result-card anchors. Chains are tried in
// order; the first selector that matches anything wins.
func listCards(page *rod.Page, chains []string) ([]cardInfo, error) {
	for _, sel := range chains {
		res, err := page.Eval(`(sel) => {
			const out = [];
			for (const a of document.querySelectorAll(sel)) {
				out.push({
					href: a.getAttribute('href') || '',
					aria: a.getAttribute('aria-label') || '',
				});
			}
			return out;
		}`, sel)
		if err != nil {
			return nil, err
		}

		arr := res.Value.Arr()
		if len(arr) == 0 {
			continue
		}
		cards := make([]cardInfo, 0, len(arr))
		for _, item := range arr {
			cards = append(cards, cardInfo{
				Href:      item.Get("href").Str(),
				AriaLabel: item.Get("aria").Str(),
			})
		}
		return cards, nil
	}
	return nil, nil
}
