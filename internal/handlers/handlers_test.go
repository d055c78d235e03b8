package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/orchestrator"
	"github.com/vantorix/mapscout/internal/progress"
	"github.com/vantorix/mapscout/internal/selectors"
	"github.com/vantorix/mapscout/internal/session"
	"github.com/vantorix/mapscout/internal/store"
	"github.com/vantorix/mapscout/internal/types"
)

// newTestServer wires the full HTTP surface against an in-memory store
// and no browser.
func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *progress.Tracker) {
	t.Helper()

	cfg := &config.Config{
		MaxSessions:            5,
		SessionIdleTimeout:     30 * time.Minute,
		SessionMaxAge:          2 * time.Hour,
		SessionCleanupInterval: time.Minute,
		MaxConcurrentCards:     4,
		StaleScrollLimit:       5,
		DefaultTargetCount:     50,
		CursorTTL:              30 * 24 * time.Hour,
	}

	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessions := session.NewManager(cfg, nil)
	t.Cleanup(func() { _ = sessions.Close() })

	tracker := progress.NewTracker(time.Hour, time.Hour)

	sel, err := selectors.NewManager("", false)
	if err != nil {
		t.Fatalf("selectors.NewManager: %v", err)
	}
	t.Cleanup(func() { _ = sel.Close() })

	history := store.NewHistory(s)
	cursors := store.NewCursorManager(s, cfg.CursorTTL)
	orch := orchestrator.New(cfg, sessions, history, cursors, tracker, sel)

	h := New(cfg, orch, sessions, history, cursors)
	srv := httptest.NewServer(NewRouter(h, false))
	t.Cleanup(srv.Close)

	return srv, s, tracker
}

// doRequest issues a request with the identity header and decodes the
// JSON body into out (when non-nil).
func doRequest(t *testing.T, method, url, userID string, body string, out interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body map[string]interface{}
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "", &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "alive" {
		t.Errorf("status field = %v, want alive", body["status"])
	}
	if body["service"] != "mapscout" {
		t.Errorf("service field = %v", body["service"])
	}
}

func TestUserIDHeaderRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body types.ErrorResponse
	resp := doRequest(t, http.MethodPost, srv.URL+"/scrape-async", "", `{"search_query":"coffee"}`, &body)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Status != types.StatusError {
		t.Errorf("body status = %q", body.Status)
	}
}

func TestUserIDHeaderValidated(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/scrape-async", "bad user!", `{"search_query":"coffee"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestScrapeAsyncValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"search_query":""}`},
		{"target too high", `{"search_query":"coffee","target_count":9999}`},
		{"bad json", `{"search_query":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/scrape-async", "user-1", tt.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestScrapeAsyncAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body types.ScrapeStartedResponse
	resp := doRequest(t, http.MethodPost, srv.URL+"/scrape-async", "user-1",
		`{"search_query":"coffee shops seattle","target_count":30}`, &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.ScrapeID == "" {
		t.Error("missing scrape_id")
	}
	if body.Status != types.StatusStarted {
		t.Errorf("status = %q, want started", body.Status)
	}
	if body.CursorStatus != types.CursorStatusNew {
		t.Errorf("cursor_status = %q, want new", body.CursorStatus)
	}
	if body.TargetCount != 30 {
		t.Errorf("target_count = %d, want 30", body.TargetCount)
	}
}

func TestProgressEndpoint(t *testing.T) {
	srv, _, tracker := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/scrape/unknown/progress", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown: status = %d, want 404", resp.StatusCode)
	}

	tracker.Create("known1", 50, 20)
	var snap progress.Snapshot
	resp = doRequest(t, http.MethodGet, srv.URL+"/scrape/known1/progress", "", "", &snap)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("known: status = %d", resp.StatusCode)
	}
	if snap.ScrapeID != "known1" || snap.Status != progress.StatusStarting {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResultsEndpoint(t *testing.T) {
	srv, _, tracker := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/scrape/unknown/results", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown: status = %d, want 404", resp.StatusCode)
	}

	tracker.Create("run1", 50, 20)
	resp = doRequest(t, http.MethodGet, srv.URL+"/scrape/run1/results", "", "", nil)
	if resp.StatusCode != http.StatusTooEarly {
		t.Fatalf("running: status = %d, want 425", resp.StatusCode)
	}

	tracker.Complete("run1", []types.BusinessRecord{{PlaceID: "0x1:0xa", Name: "Cafe One"}})
	var body types.ScrapeResultsResponse
	resp = doRequest(t, http.MethodGet, srv.URL+"/scrape/run1/results", "", "", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completed: status = %d", resp.StatusCode)
	}
	if body.UniqueResults != 1 || len(body.Results) != 1 {
		t.Errorf("results = %d/%d, want 1/1", body.UniqueResults, len(body.Results))
	}
}

func TestCursorEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)

	var body map[string]interface{}
	resp := doRequest(t, http.MethodGet, srv.URL+"/cursor?query=coffee+shops", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["has_cursor"] != false {
		t.Errorf("has_cursor = %v, want false", body["has_cursor"])
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/cursor", "user-1", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query: status = %d, want 400", resp.StatusCode)
	}

	cursors := store.NewCursorManager(s, 30*24*time.Hour)
	created, err := cursors.Create(t.Context(), "user-1", "coffee shops")
	if err != nil {
		t.Fatalf("Create cursor: %v", err)
	}
	if err := cursors.Update(t.Context(), created.ID, store.CursorState{
		LastPlaceID:    "0x12:0x34",
		CollectedCount: 20,
		TotalScrolls:   6,
	}); err != nil {
		t.Fatalf("Update cursor: %v", err)
	}

	body = nil
	resp = doRequest(t, http.MethodGet, srv.URL+"/cursor?query=coffee+shops", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK || body["has_cursor"] != true {
		t.Fatalf("status = %d, has_cursor = %v", resp.StatusCode, body["has_cursor"])
	}

	var list map[string]interface{}
	resp = doRequest(t, http.MethodGet, srv.URL+"/cursors", "user-1", "", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cursors list: status = %d", resp.StatusCode)
	}
	if count, ok := list["count"].(float64); !ok || count != 1 {
		t.Errorf("count = %v, want 1", list["count"])
	}

	body = nil
	resp = doRequest(t, http.MethodDelete, srv.URL+"/cursor?query=coffee+shops", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK || body["deleted"] != true {
		t.Fatalf("delete: status = %d, deleted = %v", resp.StatusCode, body["deleted"])
	}

	body = nil
	resp = doRequest(t, http.MethodDelete, srv.URL+"/cursor?query=coffee+shops", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK || body["deleted"] != false {
		t.Fatalf("second delete: status = %d, deleted = %v", resp.StatusCode, body["deleted"])
	}

	body = nil
	resp = doRequest(t, http.MethodPost, srv.URL+"/cursor/cleanup", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup: status = %d", resp.StatusCode)
	}
	if _, ok := body["removed"]; !ok {
		t.Error("cleanup response missing removed count")
	}
}

func TestHistoryAndStatsEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := t.Context()

	history := store.NewHistory(s)
	sess, err := history.StartSession(ctx, "user-1", "cafes", "cafes", store.SessionMeta{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := history.CompleteSession(ctx, sess.ID, store.SessionResult{
		Results: 10, NewPlaces: 8, Duplicates: 5, Scrolls: 4, TimeTakenSeconds: 30,
	}); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	var hist map[string]interface{}
	resp := doRequest(t, http.MethodGet, srv.URL+"/history?limit=10", "user-1", "", &hist)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status = %d", resp.StatusCode)
	}
	if count, _ := hist["count"].(float64); count != 1 {
		t.Errorf("history count = %v, want 1", hist["count"])
	}

	var stats store.UserStats
	resp = doRequest(t, http.MethodGet, srv.URL+"/stats", "user-1", "", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status = %d", resp.StatusCode)
	}
	if stats.TotalSessions != 1 || stats.DuplicatesSkipped != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TimeSavedSeconds != 15 {
		t.Errorf("time_saved_seconds = %v, want 15", stats.TimeSavedSeconds)
	}
}

func TestSeenPlacesEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)

	history := store.NewHistory(s)
	_, _, err := history.RecordPlaces(t.Context(), "user-1", "somehash", []types.BusinessRecord{
		{PlaceID: "0x1:0xa", Name: "A"},
		{PlaceID: "0x2:0xb", Name: "B"},
		{PlaceID: "0x3:0xc", Name: "C"},
	})
	if err != nil {
		t.Fatalf("RecordPlaces: %v", err)
	}

	var body map[string]interface{}
	resp := doRequest(t, http.MethodGet, srv.URL+"/seen-places", "user-1", "", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if count, _ := body["seen_places_count"].(float64); count != 3 {
		t.Errorf("seen_places_count = %v, want 3", body["seen_places_count"])
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var info session.PoolInfo
	resp := doRequest(t, http.MethodGet, srv.URL+"/session-info", "user-1", "", &info)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session-info: status = %d", resp.StatusCode)
	}
	if info.MaxSessions != 5 || info.ActiveSessions != 0 {
		t.Errorf("pool info = %+v", info)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/release-session", "user-1", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("release without session: status = %d, want 404", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/reset-session", "user-1", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reset without session: status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownPath(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/nope", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestScrapeWebSocket(t *testing.T) {
	srv, _, tracker := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scrape/wstest"

	// Unknown scrape: handshake fails with 404 before the upgrade.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure for unknown scrape")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake status = %v, want 404", resp)
	}

	tracker.Create("wstest", 50, 20)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first progress.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if first.ScrapeID != "wstest" {
		t.Errorf("scrape_id = %q", first.ScrapeID)
	}

	tracker.Complete("wstest", []types.BusinessRecord{{PlaceID: "0x1:0xa", Name: "Final"}})

	// Keep reading until the terminal snapshot arrives; the server closes
	// the connection right after pushing it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never received terminal snapshot")
		}
		var snap progress.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if snap.Status.Terminal() {
			if snap.Status != progress.StatusCompleted {
				t.Errorf("terminal status = %q", snap.Status)
			}
			break
		}
	}
}
