package handlers

import (
	"net/http"

	"github.com/vantorix/mapscout/internal/metrics"
)

// NewRouter builds the service mux. The metrics endpoint is mounted only
// when includeMetrics is set; deployments with a dedicated metrics port
// serve it there instead.
func NewRouter(h *Handler, includeMetrics bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /scrape-async", h.HandleScrapeAsync)
	mux.HandleFunc("POST /scrape", h.HandleScrapeSync)
	mux.HandleFunc("GET /scrape/{id}/progress", h.HandleProgress)
	mux.HandleFunc("GET /scrape/{id}/results", h.HandleResults)
	mux.HandleFunc("GET /ws/scrape/{id}", h.HandleScrapeWS)

	mux.HandleFunc("GET /cursors", h.HandleCursors)
	mux.HandleFunc("GET /cursor", h.HandleCursorGet)
	mux.HandleFunc("DELETE /cursor", h.HandleCursorDelete)
	mux.HandleFunc("POST /cursor/cleanup", h.HandleCursorCleanup)

	mux.HandleFunc("GET /history", h.HandleHistory)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /seen-places", h.HandleSeenPlaces)

	mux.HandleFunc("GET /session-info", h.HandleSessionInfo)
	mux.HandleFunc("POST /release-session", h.HandleReleaseSession)
	mux.HandleFunc("POST /reset-session", h.HandleResetSession)

	mux.HandleFunc("GET /health", h.HandleHealth)

	if includeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	mux.HandleFunc("/", h.HandleNotFound)

	return mux
}
