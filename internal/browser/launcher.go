// Package browser manages the shared headless Chrome process and the
// isolated incognito contexts carved out of it. One browser process serves
// all users; each user gets their own browser context so cookies, cache,
// and local storage never leak between accounts.
package browser

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/config"
)

// Browser wraps the single shared Chrome process.
type Browser struct {
	cfg *config.Config

	mu      sync.Mutex
	browser *rod.Browser
	closed  bool
}

// New launches Chrome and connects to it over CDP.
func New(cfg *config.Config) (*Browser, error) {
	log.Info().
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Launching browser")

	l := createLauncher(cfg)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	log.Debug().Str("url", url).Msg("Browser launched")
	return &Browser{cfg: cfg, browser: b}, nil
}

// createLauncher builds a Rod launcher with flags tuned to look like a
// regular desktop Chrome. The important ones: AutomationControlled off so
// navigator.webdriver stays undefined, SwiftShader so WebGL returns a real
// fingerprint, and a standard 1920x1080 window.
func createLauncher(cfg *config.Config) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; must be disabled explicitly
		// when running under an Xvfb display.
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	// Anti-detection
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// WebGL via SwiftShader so the GPU fingerprint is non-empty
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	// Realistic browser behavior
	l = l.Set("accept-lang", "en-US,en;q=0.9")
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")
	l = l.Set("window-size", "1920,1080")

	// Stability in long-running container deployments
	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu-sandbox")

	// ARM needs software compositing; --disable-gpu would break SwiftShader
	if isARM() {
		l = l.Set("disable-gpu-compositing")
		log.Debug().Msg("ARM detected: using software compositing")
	}

	return l
}

// Healthy reports whether the browser process still responds to CDP calls.
func (b *Browser) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.browser == nil {
		return false
	}

	_, err := b.browser.Version()
	if err != nil {
		log.Debug().Err(err).Msg("Browser health check failed")
		return false
	}
	return true
}

// Close shuts down the browser process. Safe to call multiple times.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	log.Info().Msg("Closing browser")
	if err := b.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
