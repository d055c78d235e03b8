package humanize

import (
	"context"
	"fmt"
	"math"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/rs/zerolog/log"
)

// FeedScrollStep is the nominal distance of one results-feed scroll.
const FeedScrollStep = 500.0

// FeedScrollConfig tunes how a feed scroll is broken into eased increments.
type FeedScrollConfig struct {
	MinSubSteps    int
	MaxSubSteps    int
	MinStepDelayMs int
	MaxStepDelayMs int
}

// DefaultFeedScrollConfig returns sensible defaults for feed scrolling.
func DefaultFeedScrollConfig() FeedScrollConfig {
	return FeedScrollConfig{
		MinSubSteps:    4,
		MaxSubSteps:    8,
		MinStepDelayMs: 30,
		MaxStepDelayMs: 90,
	}
}

// FeedScroller scrolls a scrollable container (the search results panel)
// rather than the window. Falls back to window scrolling and PageDown when
// the container is missing.
type FeedScroller struct {
	page     *rod.Page
	selector string
	config   FeedScrollConfig
}

// NewFeedScroller creates a scroller bound to the container selector.
func NewFeedScroller(page *rod.Page, selector string) *FeedScroller {
	return &FeedScroller{
		page:     page,
		selector: selector,
		config:   DefaultFeedScrollConfig(),
	}
}

// Exists reports whether the feed container is present on the page.
func (s *FeedScroller) Exists() bool {
	res, err := s.page.Eval(`(sel) => document.querySelector(sel) !== null`, s.selector)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// ScrollStep performs one humanized feed scroll of roughly FeedScrollStep
// pixels, broken into eased sub-increments.
func (s *FeedScroller) ScrollStep(ctx context.Context) error {
	return s.ScrollBy(ctx, FeedScrollStep)
}

// ScrollBy scrolls the feed by deltaY pixels with easing.
func (s *FeedScroller) ScrollBy(ctx context.Context, deltaY float64) error {
	if math.Abs(deltaY) < 1 {
		return nil
	}

	numSteps := s.config.MinSubSteps
	if s.config.MaxSubSteps > s.config.MinSubSteps {
		numSteps += int(math.Abs(deltaY)) / 200
		if numSteps > s.config.MaxSubSteps {
			numSteps = s.config.MaxSubSteps
		}
	}

	scrolled := 0.0
	for i := 1; i <= numSteps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t := float64(i) / float64(numSteps)
		target := deltaY * easeOutCubic(t)
		step := target - scrolled
		scrolled = target

		if err := s.scrollFeedBy(step); err != nil {
			return err
		}

		delay := RandomDuration(s.config.MinStepDelayMs, s.config.MaxStepDelayMs)
		if !SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}
	return nil
}

// scrollFeedBy scrolls the container by dy, falling back to the window and
// finally to a PageDown key press.
func (s *FeedScroller) scrollFeedBy(dy float64) error {
	res, err := s.page.Eval(`(sel, dy) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollBy(0, dy);
		return true;
	}`, s.selector, dy)
	if err == nil && res.Value.Bool() {
		return nil
	}

	if _, werr := s.page.Eval(`(dy) => window.scrollBy(0, dy)`, dy); werr == nil {
		log.Debug().Msg("Feed container missing, scrolled window instead")
		return nil
	}

	if kerr := s.page.Keyboard.Press(input.PageDown); kerr != nil {
		return fmt.Errorf("all scroll strategies failed: %w", kerr)
	}
	return nil
}

// Position returns the feed's current scrollTop.
func (s *FeedScroller) Position() (float64, error) {
	res, err := s.page.Eval(`(sel) => {
		const el = document.querySelector(sel);
		return el ? el.scrollTop : -1;
	}`, s.selector)
	if err != nil {
		return 0, err
	}
	pos := res.Value.Num()
	if pos < 0 {
		return 0, ErrElementNotVisible
	}
	return pos, nil
}

// ScrollToPosition jumps the feed to an absolute scrollTop. Used when
// resuming a scrape from a saved cursor.
func (s *FeedScroller) ScrollToPosition(ctx context.Context, top float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	res, err := s.page.Eval(`(sel, top) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollTop = top;
		return true;
	}`, s.selector, top)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return ErrElementNotVisible
	}
	return nil
}

// easeOutCubic provides deceleration easing for natural scroll ending.
func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}
