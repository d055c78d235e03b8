package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/metrics"
	"github.com/vantorix/mapscout/internal/security"
)

// maskIP masks an IP address for logging. IPv4 keeps a /24, IPv6 a /48.
func maskIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "[redacted]"
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming writes through for the WebSocket upgrade path.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack exposes the underlying connection for WebSocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// staticRoutes are the fixed paths recorded verbatim in metrics.
var staticRoutes = map[string]struct{}{
	"/scrape-async":    {},
	"/scrape":          {},
	"/cursors":         {},
	"/cursor":          {},
	"/cursor/cleanup":  {},
	"/history":         {},
	"/stats":           {},
	"/seen-places":     {},
	"/session-info":    {},
	"/release-session": {},
	"/reset-session":   {},
	"/health":          {},
	"/metrics":         {},
}

// routeLabel collapses per-scrape paths so metric label cardinality stays
// bounded.
func routeLabel(path string) string {
	if _, ok := staticRoutes[path]; ok {
		return path
	}
	switch {
	case strings.HasPrefix(path, "/ws/scrape/"):
		return "/ws/scrape/{id}"
	case strings.HasPrefix(path, "/scrape/") && strings.HasSuffix(path, "/progress"):
		return "/scrape/{id}/progress"
	case strings.HasPrefix(path, "/scrape/") && strings.HasSuffix(path, "/results"):
		return "/scrape/{id}/results"
	}
	return "other"
}

// Logging returns middleware that logs each request and records it in the
// request metrics. Query strings are redacted and client IPs masked.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		metrics.RecordRequest(routeLabel(r.URL.Path), strconv.Itoa(wrapped.statusCode), duration)

		log.Info().
			Str("method", r.Method).
			Str("path", security.RedactURL(r.URL.String())).
			Str("remote_addr", maskIP(r.RemoteAddr)).
			Int("status", wrapped.statusCode).
			Dur("duration", duration).
			Msg("Request completed")
	})
}
