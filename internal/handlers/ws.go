package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// wsPushInterval is how often a progress snapshot is pushed.
	wsPushInterval = 500 * time.Millisecond

	// wsWriteTimeout bounds each frame write.
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the
	// WebSocket handshake accepts any origin that made it this far.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleScrapeWS streams progress snapshots for one scrape until it
// reaches a terminal state, then closes the connection.
func (h *Handler) HandleScrapeWS(w http.ResponseWriter, r *http.Request) {
	scrapeID := r.PathValue("id")

	// Reject unknown scrapes with a plain 404 before upgrading.
	if _, err := h.orch.Progress(scrapeID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("scrape_id", scrapeID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Discard client frames but notice disconnects.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		snap, err := h.orch.Progress(scrapeID)
		if err != nil {
			// Entry reaped mid-stream; nothing more to push.
			log.Debug().Str("scrape_id", scrapeID).Msg("Progress entry gone, closing WebSocket")
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug().Err(err).Str("scrape_id", scrapeID).Msg("WebSocket write failed")
			return
		}

		if snap.Status.Terminal() {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)))
			return
		}

		select {
		case <-ticker.C:
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
