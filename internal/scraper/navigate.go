package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/blockdetect"
	"github.com/vantorix/mapscout/internal/humanize"
	"github.com/vantorix/mapscout/internal/types"
)

// feedWaitTimeout bounds how long we wait for the results feed to render
// after the page loads.
const feedWaitTimeout = 20 * time.Second

// searchURL builds the search page URL for a query.
func (p *Pipeline) searchURL(query string) string {
	return p.cfg.SearchURL + url.QueryEscape(query)
}

// navigate opens the search results for the query: load the page, dismiss
// a consent prompt when one appears, and wait for the results feed.
func (p *Pipeline) navigate(ctx context.Context, page *rod.Page, query string) error {
	target := p.searchURL(query)
	log.Debug().Str("url", target).Msg("Navigating to search results")

	nav := page.Context(ctx).Timeout(p.cfg.BrowserTimeout)
	if err := nav.Navigate(target); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		return fmt.Errorf("page load failed: %w", err)
	}

	p.dismissConsent(page)

	if err := p.checkBlocked(page); err != nil {
		return err
	}

	if err := p.waitForFeed(ctx, page); err != nil {
		return err
	}

	// Let the feed settle before the first enumeration; result cards
	// stream in after the container renders.
	if !humanize.SleepBetween(ctx, p.cfg.SearchSettleMin, p.cfg.SearchSettleMax) {
		return ctx.Err()
	}
	return nil
}

// dismissConsent clicks through a consent interstitial if one is shown.
// Absence of the prompt is the common case and not an error.
func (p *Pipeline) dismissConsent(page *rod.Page) {
	for _, sel := range p.sel.Get().Consent {
		el, err := page.Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Debug().Err(err).Str("selector", sel).Msg("Consent click failed")
			continue
		}
		log.Info().Str("selector", sel).Msg("Dismissed consent prompt")
		if err := page.Timeout(10 * time.Second).WaitLoad(); err != nil {
			log.Debug().Err(err).Msg("Post-consent load wait failed")
		}
		return
	}
}

// checkBlocked inspects the landed page for anti-automation interstitials
// and fails fast when one is present.
func (p *Pipeline) checkBlocked(page *rod.Page) error {
	info, err := page.Info()
	if err != nil {
		log.Debug().Err(err).Msg("Could not read page info for block check")
		return nil
	}

	var body string
	if res, err := page.Eval(`() => document.body ? document.body.innerText : ""`); err == nil {
		body = res.Value.Str()
	}

	block := blockdetect.Detect(info.URL, body)
	if !block.Detected {
		return nil
	}

	log.Warn().
		Str("code", block.Code).
		Str("category", string(block.Category)).
		Int("suggested_delay_ms", block.SuggestedDelay).
		Msg("Search results page blocked")
	return fmt.Errorf("%w: %s (%s)", types.ErrPageBlocked, block.Description, block.Code)
}

// waitForFeed polls until the results feed container or at least one card
// link is present. Returns ErrFeedNotFound on timeout.
func (p *Pipeline) waitForFeed(ctx context.Context, page *rod.Page) error {
	sel := p.sel.Get()
	deadline := time.Now().Add(feedWaitTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if elementExists(page, sel.Feed) {
			return nil
		}
		for _, cardSel := range sel.CardLinks {
			if elementExists(page, cardSel) {
				log.Debug().Msg("Feed container missing but card links present")
				return nil
			}
		}

		if !humanize.SleepWithContext(ctx, 500*time.Millisecond) {
			return ctx.Err()
		}
	}
	return types.ErrFeedNotFound
}

// elementExists reports whether a selector matches anything on the page.
func elementExists(page *rod.Page, selector string) bool {
	if selector == "" {
		return false
	}
	res, err := page.Eval(`(sel) => document.querySelector(sel) !== null`, selector)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
