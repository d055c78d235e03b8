package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/vantorix/mapscout/internal/dedup"
	"github.com/vantorix/mapscout/internal/humanize"
	"github.com/vantorix/mapscout/internal/progress"
	"github.com/vantorix/mapscout/internal/types"
)

const (
	// detailWaitTimeout bounds how long a card page may take to populate
	// its detail panel after the click.
	detailWaitTimeout = 15 * time.Second

	// anchorFindTimeout bounds locating the card anchor on the search page.
	anchorFindTimeout = 10 * time.Second

	// partialIDLength is how much of a long place ID is used for the
	// fallback href match.
	partialIDLength = 20
)

// popstateJS re-fires the router after a direct navigation. The detail
// panel populates through an in-page request that only a click or a
// history event triggers; a plain page load leaves it skeletal.
const popstateJS = `() => {
	window.history.pushState({}, '', window.location.href);
	window.dispatchEvent(new Event('popstate'));
}`

// extractCards visits each collected card's detail panel with bounded
// concurrency and returns the surviving unique records in completion
// order. Per-card failures are counted, logged, and swallowed.
func (p *Pipeline) extractCards(ctx context.Context, query string, cards []collectedCard) []types.BusinessRecord {
	if len(cards) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrentCards))

	var (
		mu      sync.Mutex
		records []types.BusinessRecord
		done    int
		wg      sync.WaitGroup
	)

	for _, card := range cards {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("Extraction canceled while waiting for slot")
			break
		}

		wg.Add(1)
		go func(card collectedCard) {
			defer wg.Done()
			defer sem.Release(1)

			rec, err := p.extractOne(ctx, query, card)

			mu.Lock()
			defer mu.Unlock()
			done++

			if err != nil {
				p.noteExtractionError(card, err)
			} else if p.dedup.ProcessRecord(rec) {
				records = append(records, *rec)
				p.tracker.AddSample(p.scrapeID, *rec)
			}

			p.mu.Lock()
			p.stats.CardsExtracted = done
			extractionErrors := p.stats.ExtractionErrors
			p.mu.Unlock()

			p.tracker.SetExtractStats(p.scrapeID, done, extractionErrors, len(records))
			p.tracker.SetPhase(p.scrapeID, progress.StatusExtracting,
				extractPercent(done, len(cards)),
				fmt.Sprintf("Extracting details... %d/%d", done, len(cards)))
		}(card)
	}

	wg.Wait()
	return records
}

func (p *Pipeline) noteExtractionError(card collectedCard, err error) {
	p.mu.Lock()
	p.stats.ExtractionErrors++
	p.mu.Unlock()

	log.Debug().
		Err(err).
		Str("place_id", card.PlaceID).
		Int("index", card.Index).
		Msg("Card extraction failed")
}

// extractOne opens a fresh page, reaches the card's detail panel, and
// pulls the business record out of it.
func (p *Pipeline) extractOne(ctx context.Context, query string, card collectedCard) (*types.BusinessRecord, error) {
	// Jitter before opening the page so concurrent extractions do not
	// hit the site in lockstep.
	if !humanize.SleepBetween(ctx, p.cfg.CardExtractDelayMin, p.cfg.CardExtractDelayMax) {
		return nil, ctx.Err()
	}

	page, err := p.uc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("detail page creation failed: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Error closing detail page")
		}
	}()

	page = page.Context(ctx)

	nav := page.Timeout(p.cfg.BrowserTimeout)
	if err := nav.Navigate(p.searchURL(query)); err != nil {
		return nil, fmt.Errorf("search navigation failed: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("search load failed: %w", err)
	}

	if err := p.openDetail(ctx, page, card); err != nil {
		return nil, err
	}

	if err := p.waitForDetail(ctx, page); err != nil {
		return nil, err
	}

	return p.extractRecord(page, card)
}

// openDetail brings up the card's detail panel. Clicking the anchor on the
// search page is the primary path; direct navigation plus a synthetic
// popstate event is the fallback.
func (p *Pipeline) openDetail(ctx context.Context, page *rod.Page, card collectedCard) error {
	el := p.findCardAnchor(page, card.PlaceID)
	if el != nil {
		if err := el.ScrollIntoView(); err != nil {
			log.Debug().Err(err).Msg("Anchor scroll-into-view failed")
		}
		mouse := humanize.NewMouse(page)
		err := mouse.ClickElement(ctx, el)
		if err == nil {
			return nil
		}
		log.Debug().Err(err).Str("place_id", card.PlaceID).Msg("Anchor click failed, trying direct navigation")
	}

	return p.navigateDetailDirect(page, card)
}

// findCardAnchor locates the result anchor by place ID, trying the full
// ID first and a prefix when the full match misses.
func (p *Pipeline) findCardAnchor(page *rod.Page, placeID string) *rod.Element {
	el, err := page.Timeout(anchorFindTimeout).Element(fmt.Sprintf(`a[href*="%s"]`, placeID))
	if err == nil {
		return el
	}

	if len(placeID) > partialIDLength {
		partial := placeID[:partialIDLength]
		el, err = page.Timeout(anchorFindTimeout / 2).Element(fmt.Sprintf(`a[href*="%s"]`, partial))
		if err == nil {
			return el
		}
	}
	return nil
}

// navigateDetailDirect loads the place URL and fires a popstate so the
// in-page router fetches the detail data it would on a click.
func (p *Pipeline) navigateDetailDirect(page *rod.Page, card collectedCard) error {
	href := card.Href
	if strings.HasPrefix(href, "/") {
		href = "https://www.google.com" + href
	}

	nav := page.Timeout(p.cfg.BrowserTimeout)
	if err := nav.Navigate(href); err != nil {
		return fmt.Errorf("direct detail navigation failed: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		return fmt.Errorf("detail load failed: %w", err)
	}

	if _, err := page.Eval(popstateJS); err != nil {
		log.Debug().Err(err).Msg("Popstate dispatch failed")
	}
	return nil
}

// waitForDetail polls until the detail heading carries a non-empty name.
func (p *Pipeline) waitForDetail(ctx context.Context, page *rod.Page) error {
	chain := p.sel.Get().Name
	deadline := time.Now().Add(detailWaitTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if v, ok := firstField(page, chain); ok && strings.TrimSpace(v.Text) != "" {
			return nil
		}
		if !humanize.SleepWithContext(ctx, 400*time.Millisecond) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("detail panel did not populate")
}

// extractRecord pulls every field off the populated detail panel.
func (p *Pipeline) extractRecord(page *rod.Page, card collectedCard) (*types.BusinessRecord, error) {
	sel := p.sel.Get()

	rec := &types.BusinessRecord{
		PlaceID: card.PlaceID,
		Href:    card.Href,
	}

	rec.Name = p.extractName(page, card)
	if !isValidName(rec.Name) {
		return nil, fmt.Errorf("no usable name for place %s", card.PlaceID)
	}

	if v, ok := firstField(page, sel.Address); ok {
		rec.Address = cleanLabeled(v, "Address:")
	}
	if v, ok := firstField(page, sel.Phone); ok {
		rec.Phone = cleanLabeled(v, "Phone:")
	}
	if v, ok := firstField(page, sel.Website); ok {
		if v.Href != "" {
			rec.Website = v.Href
		} else {
			rec.Website = strings.TrimSpace(v.Text)
		}
	}
	if v, ok := firstField(page, sel.Category); ok {
		rec.Category = strings.TrimSpace(v.Text)
	}
	if v, ok := firstField(page, sel.Rating); ok {
		rec.Rating = parseRating(preferAria(v))
	}
	if v, ok := firstField(page, sel.Reviews); ok {
		rec.ReviewsCount = parseReviews(preferAria(v))
	}
	if v, ok := firstField(page, sel.Hours); ok {
		rec.Hours = cleanLabeled(v, "Hours:")
	}
	if v, ok := firstField(page, sel.Photo); ok {
		rec.PhotoURL = v.Src
	}

	// Coordinates live in the URL once the detail panel has routed.
	info, err := page.Info()
	if err == nil {
		rec.Latitude, rec.Longitude = parseCoordinates(info.URL)
		if cid := dedup.ExtractCIDFromURL(info.URL); cid != "" {
			rec.CID = cid
		}
	}
	if rec.CID == "" {
		rec.CID = dedup.ExtractCIDFromFeatureID(card.Href)
	}

	rec.IsClaimed = !pageOffersClaim(page)

	return rec, nil
}

// extractName resolves the business name: detail heading first, then the
// page title, then the card's aria-label from collection.
func (p *Pipeline) extractName(page *rod.Page, card collectedCard) string {
	if v, ok := firstField(page, p.sel.Get().Name); ok {
		if name := strings.TrimSpace(v.Text); isValidName(name) {
			return name
		}
	}

	if info, err := page.Info(); err == nil {
		title := strings.TrimSuffix(info.Title, " - Google Maps")
		if title != info.Title && isValidName(title) {
			return strings.TrimSpace(title)
		}
	}

	if isValidName(card.CardName) {
		return strings.TrimSpace(card.CardName)
	}
	return ""
}

// pageOffersClaim reports whether the panel still shows the claim link,
// meaning the listing is unclaimed.
func pageOffersClaim(page *rod.Page) bool {
	res, err := page.Eval(`() => document.body.innerText.includes('Claim this business')`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
