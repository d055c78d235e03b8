package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ApplyStealthToPage applies supplemental anti-detection patches on top of
// the injected stealth script. Call after page creation, before navigation.
//
// Returns an error for broken-script failures; non-critical evaluation
// errors (common on about:blank) are logged and swallowed.
func ApplyStealthToPage(page *rod.Page) error {
	_, err := page.Evaluate(rod.Eval(stealthScript))
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "SyntaxError") {
			return fmt.Errorf("stealth script syntax error: %w", err)
		}
		if strings.Contains(errStr, "ReferenceError") {
			return fmt.Errorf("stealth script reference error: %w", err)
		}
		log.Warn().Err(err).Msg("Stealth script had non-fatal errors, continuing")
	}
	return nil
}

// stealthScript patches detection vectors the generic evasion script leaves
// at their headless defaults. Values match the desktop identity set by
// SetViewport/SetLocale: en-US, 8 cores, 8GB.
const stealthScript = `
(() => {
    'use strict';

    if (window.__identityApplied) {
        return;
    }
    window.__identityApplied = true;

    try {
        Object.defineProperty(navigator, 'languages', {
            get: () => ['en-US', 'en'],
            configurable: true
        });

        Object.defineProperty(navigator, 'hardwareConcurrency', {
            get: () => 8,
            configurable: true
        });

        Object.defineProperty(navigator, 'deviceMemory', {
            get: () => 8,
            configurable: true
        });

        if (navigator.connection) {
            Object.defineProperty(navigator, 'connection', {
                get: () => ({
                    effectiveType: '4g',
                    rtt: 50,
                    downlink: 10,
                    saveData: false,
                    onchange: null
                }),
                configurable: true
            });
        }

        if (typeof Notification !== 'undefined') {
            Object.defineProperty(Notification, 'permission', {
                get: () => 'default',
                configurable: true
            });
        }
    } catch (e) {
        console.debug('identity patches failed:', e.message);
    }
})();
`

// SetUserAgent overrides the page user agent. The Accept-Language override
// is kept consistent with the accept-lang launch flag.
func SetUserAgent(page *rod.Page, userAgent string) error {
	return proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}.Call(page)
}

// SetViewport sets the page viewport size.
func SetViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

// SetTimezone overrides the page timezone.
func SetTimezone(page *rod.Page, timezoneID string) error {
	return proto.EmulationSetTimezoneOverride{
		TimezoneID: timezoneID,
	}.Call(page)
}

// SetLocale overrides the page locale.
func SetLocale(page *rod.Page, locale string) error {
	return proto.EmulationSetLocaleOverride{
		Locale: locale,
	}.Call(page)
}
