package browser

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/types"
)

// Identity defaults applied to every user context. These stay consistent
// with the accept-lang and window-size launch flags so the fingerprint
// does not contradict itself.
const (
	ViewportWidth  = 1920
	ViewportHeight = 1080
	Locale         = "en-US"
	Timezone       = "America/New_York"
)

// UserContext is an isolated incognito browser context with a single page.
// Cookies, cache, and storage are private to it.
type UserContext struct {
	UserAgent string

	page      *rod.Page
	incognito *rod.Browser
}

// Page returns the context's page.
func (u *UserContext) Page() *rod.Page {
	return u.page
}

// NewUserContext creates a fresh incognito context with a stealth page,
// a rotated user agent, and a consistent desktop identity.
// The caller owns the context and must Close it.
func (b *Browser) NewUserContext(ctx context.Context) (*UserContext, error) {
	if b == nil {
		return nil, types.ErrBrowserNotAvailable
	}
	b.mu.Lock()
	if b.closed || b.browser == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("new user context: browser closed")
	}
	shared := b.browser
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	incognito, err := shared.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}

	// stealth.Page injects the evasion script before any navigation.
	page, err := stealth.Page(incognito)
	if err != nil {
		disposeIncognito(incognito)
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	ua := pickUserAgent(b.cfg.UserAgents)

	uc := &UserContext{
		UserAgent: ua,
		page:      page,
		incognito: incognito,
	}

	if err := SetUserAgent(page, ua); err != nil {
		log.Warn().Err(err).Msg("Failed to set user agent")
	}
	if err := SetViewport(page, ViewportWidth, ViewportHeight); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport")
	}
	if err := SetTimezone(page, Timezone); err != nil {
		log.Warn().Err(err).Msg("Failed to set timezone")
	}
	if err := SetLocale(page, Locale); err != nil {
		log.Warn().Err(err).Msg("Failed to set locale")
	}
	if err := ApplyStealthToPage(page); err != nil {
		log.Warn().Err(err).Msg("Supplemental stealth patches failed")
	}

	log.Debug().Str("user_agent", ua).Msg("User context created")
	return uc, nil
}

// ResetPage replaces the context's page with a fresh stealth page in the
// same incognito context. Cookies survive; page state does not.
func (u *UserContext) ResetPage() error {
	if u.page != nil {
		if err := u.page.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing page during reset")
		}
	}

	page, err := stealth.Page(u.incognito)
	if err != nil {
		u.page = nil
		return fmt.Errorf("failed to recreate page: %w", err)
	}
	u.page = page

	if err := SetUserAgent(page, u.UserAgent); err != nil {
		log.Warn().Err(err).Msg("Failed to set user agent on reset page")
	}
	if err := SetViewport(page, ViewportWidth, ViewportHeight); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport on reset page")
	}
	return nil
}

// NewPage opens an additional stealth page in the same incognito context.
// Used for visiting listing detail pages in parallel with the results feed.
func (u *UserContext) NewPage() (*rod.Page, error) {
	page, err := stealth.Page(u.incognito)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if err := SetUserAgent(page, u.UserAgent); err != nil {
		log.Warn().Err(err).Msg("Failed to set user agent on new page")
	}
	if err := SetViewport(page, ViewportWidth, ViewportHeight); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport on new page")
	}
	return page, nil
}

// Close tears down the page and disposes the incognito context.
// Safe to call on a partially constructed context.
func (u *UserContext) Close() error {
	if u == nil {
		return nil
	}

	if u.page != nil {
		if err := u.page.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing context page")
		}
		u.page = nil
	}

	if u.incognito != nil {
		disposeIncognito(u.incognito)
		u.incognito = nil
	}
	return nil
}

// disposeIncognito releases the browser context on the Chrome side.
func disposeIncognito(incognito *rod.Browser) {
	if incognito.BrowserContextID == "" {
		return
	}
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: incognito.BrowserContextID,
	}.Call(incognito)
	if err != nil {
		log.Debug().Err(err).Msg("Error disposing incognito context")
	}
}

// pickUserAgent returns a random entry from the rotation pool.
func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}
