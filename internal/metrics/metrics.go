// Package metrics provides Prometheus metrics for monitoring MapScout.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts API requests by route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscout_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"route", "status"},
	)

	// RequestDuration tracks API request duration by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapscout_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"route"},
	)

	// ActiveSessions shows current active browser sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapscout_active_sessions",
			Help: "Number of active browser sessions",
		},
	)

	// SessionsCreated counts total browser sessions created.
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscout_sessions_created_total",
			Help: "Total browser sessions created",
		},
	)

	// SessionsEvicted counts session evictions by reason.
	SessionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscout_sessions_evicted_total",
			Help: "Total browser sessions evicted by reason",
		},
		[]string{"reason"},
	)

	// ScrapesTotal counts completed scrapes by final status.
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscout_scrapes_total",
			Help: "Total scrapes by final status",
		},
		[]string{"status"},
	)

	// ScrapeDuration tracks end-to-end scrape duration.
	ScrapeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mapscout_scrape_duration_seconds",
			Help:    "End-to-end scrape duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
		},
	)

	// CardsExtracted counts business cards successfully extracted.
	CardsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscout_cards_extracted_total",
			Help: "Total business cards extracted",
		},
	)

	// DuplicatesSkipped counts listings skipped as duplicates.
	DuplicatesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscout_duplicates_skipped_total",
			Help: "Total listings skipped as duplicates",
		},
	)

	// ScrollsPerformed counts feed scrolls across all scrapes.
	ScrollsPerformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapscout_scrolls_performed_total",
			Help: "Total results feed scrolls performed",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapscout_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapscout_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapscout_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveSessions,
		SessionsCreated,
		SessionsEvicted,
		ScrapesTotal,
		ScrapeDuration,
		CardsExtracted,
		DuplicatesSkipped,
		ScrollsPerformed,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates runtime metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateRuntimeMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed API request.
func RecordRequest(route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordScrape records a finished scrape with its final status.
func RecordScrape(status string, duration time.Duration) {
	ScrapesTotal.WithLabelValues(status).Inc()
	ScrapeDuration.Observe(duration.Seconds())
}

// RecordSessionCreated increments the session creation counter.
func RecordSessionCreated() {
	SessionsCreated.Inc()
}

// RecordSessionEvicted records a session eviction.
func RecordSessionEvicted(reason string) {
	SessionsEvicted.WithLabelValues(reason).Inc()
}

// SetActiveSessions updates the active session gauge.
func SetActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordExtraction records pipeline counters for one scrape run.
func RecordExtraction(cards, duplicates, scrolls int) {
	CardsExtracted.Add(float64(cards))
	DuplicatesSkipped.Add(float64(duplicates))
	ScrollsPerformed.Add(float64(scrolls))
}
