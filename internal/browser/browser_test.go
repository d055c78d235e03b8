package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/vantorix/mapscout/internal/config"
)

func TestCreateLauncherFlags(t *testing.T) {
	cfg := config.Load()
	cfg.Headless = true

	l := createLauncher(cfg)

	tests := []struct {
		flag string
		want string
	}{
		{"headless", "new"},
		{"disable-blink-features", "AutomationControlled"},
		{"window-size", "1920,1080"},
		{"accept-lang", "en-US,en;q=0.9"},
		{"use-gl", "swiftshader"},
	}

	for _, tt := range tests {
		got := l.Get(flags.Flag(tt.flag))
		if got != tt.want {
			t.Errorf("flag %q = %q, want %q", tt.flag, got, tt.want)
		}
	}

	if l.Has(flags.Flag("enable-automation")) {
		t.Error("enable-automation flag should not be set")
	}
	if !l.Has(flags.Flag("no-sandbox")) {
		t.Error("no-sandbox flag should be set")
	}
}

func TestCreateLauncherCustomPath(t *testing.T) {
	cfg := config.Load()
	cfg.BrowserPath = "/usr/bin/chromium"

	l := createLauncher(cfg)
	if got := l.Get(flags.Bin); got != "/usr/bin/chromium" {
		t.Errorf("bin = %q, want /usr/bin/chromium", got)
	}
}

func TestPickUserAgent(t *testing.T) {
	if got := pickUserAgent(nil); got != "" {
		t.Errorf("empty pool returned %q", got)
	}

	pool := []string{"agent-a"}
	if got := pickUserAgent(pool); got != "agent-a" {
		t.Errorf("single-entry pool returned %q", got)
	}

	pool = []string{"agent-a", "agent-b", "agent-c"}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ua := pickUserAgent(pool)
		seen[ua] = true
		found := false
		for _, p := range pool {
			if p == ua {
				found = true
			}
		}
		if !found {
			t.Fatalf("picked %q not in pool", ua)
		}
	}
	if len(seen) < 2 {
		t.Error("rotation never varied across 100 picks")
	}
}
