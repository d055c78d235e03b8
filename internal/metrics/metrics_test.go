package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerServesMetrics(t *testing.T) {
	RecordRequest("/api/v1/health", "200", 5*time.Millisecond)
	RecordScrape("completed", 30*time.Second)
	RecordSessionCreated()
	RecordSessionEvicted("expired")
	SetActiveSessions(3)
	RecordExtraction(10, 2, 5)
	SetBuildInfo("test", "go1.24")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"mapscout_requests_total",
		"mapscout_scrapes_total",
		"mapscout_active_sessions",
		"mapscout_sessions_created_total",
		"mapscout_sessions_evicted_total",
		"mapscout_cards_extracted_total",
		"mapscout_duplicates_skipped_total",
		"mapscout_scrolls_performed_total",
		"mapscout_build_info",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	SetActiveSessions(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "mapscout_active_sessions 7") {
		t.Error("gauge did not reflect SetActiveSessions(7)")
	}
}
