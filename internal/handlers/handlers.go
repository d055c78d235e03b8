// Package handlers provides the HTTP surface: scrape endpoints, cursor and
// history queries, session management, and the WebSocket progress push.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/orchestrator"
	"github.com/vantorix/mapscout/internal/querynorm"
	"github.com/vantorix/mapscout/internal/security"
	"github.com/vantorix/mapscout/internal/session"
	"github.com/vantorix/mapscout/internal/store"
	"github.com/vantorix/mapscout/internal/types"
	"github.com/vantorix/mapscout/pkg/version"
)

// userIDHeader carries the caller identity. Authentication happens
// upstream; the service trusts this header.
const userIDHeader = "X-User-ID"

// maxBodySize bounds request bodies. Scrape requests are tiny.
const maxBodySize = 1 << 20

// Handler serves all API requests.
type Handler struct {
	cfg      *config.Config
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	history  *store.History
	cursors  *store.CursorManager
}

// New creates a Handler.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, sessions *session.Manager, history *store.History, cursors *store.CursorManager) *Handler {
	return &Handler{
		cfg:      cfg,
		orch:     orch,
		sessions: sessions,
		history:  history,
		cursors:  cursors,
	}
}

// userID extracts and validates the caller identity header.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return "", false
	}
	if msg := security.ValidateUserID(id); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return "", false
	}
	return id, true
}

// decodeScrapeRequest reads and validates a scrape request body.
func (h *Handler) decodeScrapeRequest(w http.ResponseWriter, r *http.Request) (*types.ScrapeRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	var req types.ScrapeRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

// HandleScrapeAsync starts a background scrape and returns immediately.
func (h *Handler) HandleScrapeAsync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeScrapeRequest(w, r)
	if !ok {
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("query", security.RedactQuery(req.SearchQuery)).
		Int("target_count", req.TargetCount).
		Msg("Async scrape requested")

	resp, err := h.orch.StartScrape(r.Context(), userID, req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleScrapeSync runs a scrape inline and returns the full results.
func (h *Handler) HandleScrapeSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeScrapeRequest(w, r)
	if !ok {
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("query", security.RedactQuery(req.SearchQuery)).
		Msg("Synchronous scrape requested")

	resp, err := h.orch.Scrape(r.Context(), userID, req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleProgress returns the live progress snapshot of a scrape.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Progress(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleResults returns the final records of a finished scrape.
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	resp, err := h.orch.Results(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCursors lists the user's active cursors, most recently used first.
func (h *Handler) HandleCursors(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	cursors, err := h.cursors.UserCursors(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cursors": cursors,
		"count":   len(cursors),
	})
}

// HandleCursorGet returns the cursor summary for a query.
func (h *Handler) HandleCursorGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	summary, err := h.cursors.Summary(r.Context(), userID, query)
	if errors.Is(err, types.ErrCursorNotFound) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"has_cursor": false})
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_cursor": true,
		"cursor":     summary,
	})
}

// HandleCursorDelete clears the cursor for a query.
func (h *Handler) HandleCursorDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	err := h.cursors.Clear(r.Context(), userID, query)
	if errors.Is(err, types.ErrCursorNotFound) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": false})
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// HandleCursorCleanup removes all expired cursors.
func (h *Handler) HandleCursorCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cursors.CleanupExpired(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// HandleHistory returns the user's recent scrape sessions.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", types.DefaultHistoryLimit)
	offset := queryInt(r, "offset", 0)

	sessions, err := h.history.UserHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": sessions,
		"count":   len(sessions),
	})
}

// HandleStats returns the user's aggregate dashboard numbers.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.history.Stats(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleSeenPlaces returns how many places the user has already scraped.
// An optional query parameter restricts the count to one search.
func (h *Handler) HandleSeenPlaces(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	queryHash := ""
	if query := r.URL.Query().Get("query"); query != "" {
		_, queryHash = querynorm.NormalizeWithHash(query)
	}

	seen, err := h.history.SeenPlaces(r.Context(), userID, queryHash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"seen_places_count": len(seen),
	})
}

// HandleSessionInfo returns session pool statistics.
func (h *Handler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Stats())
}

// HandleReleaseSession closes the caller's browser session.
func (h *Handler) HandleReleaseSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Destroy(userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  types.StatusOK,
		"message": "Session released",
	})
}

// HandleResetSession replaces the caller's page with a fresh one.
func (h *Handler) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Reset(userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  types.StatusOK,
		"message": "Session reset",
	})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"service":   "mapscout",
		"version":   version.Full(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleNotFound handles unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

// writeDomainError maps service errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUserRequired), errors.Is(err, types.ErrQueryRequired):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrScrapeNotFound),
		errors.Is(err, types.ErrCursorNotFound),
		errors.Is(err, types.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrScrapeInProgress):
		status = http.StatusTooEarly
	case errors.Is(err, types.ErrPoolExhausted),
		errors.Is(err, types.ErrPoolClosed),
		errors.Is(err, types.ErrBrowserNotAvailable):
		status = http.StatusServiceUnavailable
	}
	h.writeError(w, status, err.Error())
}

// writeError writes the JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, types.ErrorResponse{
		Status:  types.StatusError,
		Message: message,
	})
}

// writeJSON buffers the encoded response before writing so encoding
// failures never produce a partial body after headers are sent.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_, _ = w.Write(buf.Bytes())
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
