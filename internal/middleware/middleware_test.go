package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(okHandler())
	chained.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v, want [a b c]", order)
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recovery(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestLoggingPreservesStatus(t *testing.T) {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	Logging(notFound).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/scrape-async", "/scrape-async"},
		{"/health", "/health"},
		{"/scrape/abc123/progress", "/scrape/{id}/progress"},
		{"/scrape/abc123/results", "/scrape/{id}/results"},
		{"/ws/scrape/abc123", "/ws/scrape/{id}"},
		{"/totally/unknown", "other"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"192.168.1.42:1234", "192.168.1.0/24"},
		{"10.0.0.7", "10.0.0.0/24"},
		{"[2001:db8:abcd:1234::1]:443", "2001:db8:abcd::/48"},
		{"garbage", "[redacted]"},
	}
	for _, tt := range tests {
		if got := maskIP(tt.addr); got != tt.want {
			t.Errorf("maskIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	mw := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("non-allowed origin got header %q", got)
	}
}

func TestCORSRejectsAllWhenUnconfigured(t *testing.T) {
	mw := CORS(CORSConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unconfigured CORS set header %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	mw := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com"}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/scrape-async", nil)
	req.Header.Set("Origin", "https://app.example.com")
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-User-ID" {
		t.Errorf("allow-headers = %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, false)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("4th request allowed, want denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("different IP denied")
	}
}

func TestRateLimitMiddlewareResponds429(t *testing.T) {
	m := NewRateLimitMiddleware(1, false)
	defer m.Close()
	handler := m.Handler()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestGetClientIPProxyTrust(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := getClientIP(req, false); got != "10.0.0.1" {
		t.Errorf("untrusted proxy: got %q, want remote addr", got)
	}
	if got := getClientIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted proxy: got %q, want forwarded IP", got)
	}
}
