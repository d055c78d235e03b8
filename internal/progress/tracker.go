// Package progress tracks live scrape progress for polling and WebSocket
// consumers. Entries move through a strict forward-only state machine and
// report a monotonically non-decreasing percentage.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/types"
)

// Status is the lifecycle state of a tracked scrape.
type Status string

// Scrape lifecycle states, in order. Completed and failed are terminal.
const (
	StatusStarting   Status = "starting"
	StatusScrolling  Status = "scrolling"
	StatusExtracting Status = "extracting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank orders states so transitions can be checked for regression.
func (s Status) rank() int {
	switch s {
	case StatusStarting:
		return 0
	case StatusScrolling:
		return 1
	case StatusExtracting:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return -1
}

// Terminal reports whether the state admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Forward moves and same-state updates are allowed, regressions are not.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// previewLimit caps how many sample records an entry retains;
// snapshotPreview is how many of those a snapshot exposes.
const (
	previewLimit    = 10
	snapshotPreview = 5
)

// entry is the mutable progress record for one scrape.
type entry struct {
	scrapeID string
	status   Status
	percent  int
	phase    string

	cardsFound       int
	cardsExtracted   int
	uniqueResults    int
	scrollsDone      int
	maxScrolls       int
	targetCount      int
	extractionErrors int

	startTime  time.Time
	lastUpdate time.Time

	preview []types.BusinessRecord
	sample  *types.BusinessRecord

	finalResults []types.BusinessRecord
	errorMessage string
}

// SnapshotStats is the nested stats block of a progress snapshot.
type SnapshotStats struct {
	CardsFound       int    `json:"cards_found"`
	CardsExtracted   int    `json:"cards_extracted"`
	UniqueResults    int    `json:"unique_results"`
	ScrollsDone      int    `json:"scrolls_done"`
	MaxScrolls       int    `json:"max_scrolls"`
	TargetCount      int    `json:"target_count"`
	ExtractionErrors int    `json:"extraction_errors"`
	TimeElapsed      string `json:"time_elapsed"`
	ETA              string `json:"eta"`
}

// Snapshot is the immutable view of a scrape's progress returned to clients.
type Snapshot struct {
	ScrapeID        string                 `json:"scrape_id"`
	Status          Status                 `json:"status"`
	ProgressPercent int                    `json:"progress_percent"`
	Phase           string                 `json:"phase"`
	Stats           SnapshotStats          `json:"stats"`
	Preview         []types.BusinessRecord `json:"preview"`
	SampleResult    *types.BusinessRecord  `json:"sample_result"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

// Tracker holds progress entries for all active scrapes.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	scrapes map[string]*entry

	ttl             time.Duration
	cleanupInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. Entries idle longer than ttl are removed
// by the reaper, which runs every cleanupInterval once Start is called.
func NewTracker(ttl, cleanupInterval time.Duration) *Tracker {
	return &Tracker{
		scrapes:         make(map[string]*entry),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the background reaper.
func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.reaperLoop()
}

// Stop terminates the reaper and waits for it to exit.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) reaperLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.CleanupStale()
		case <-t.stopCh:
			return
		}
	}
}

// Create registers a new scrape and returns its initial snapshot.
func (t *Tracker) Create(scrapeID string, targetCount, maxScrolls int) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	e := &entry{
		scrapeID:    scrapeID,
		status:      StatusStarting,
		phase:       "Starting scrape...",
		targetCount: targetCount,
		maxScrolls:  maxScrolls,
		startTime:   now,
		lastUpdate:  now,
	}
	t.scrapes[scrapeID] = e

	log.Info().Str("scrape_id", scrapeID).Int("target", targetCount).Msg("Created progress entry")
	return e.snapshot()
}

// SetPhase moves a scrape to the given state, percentage, and phase text.
// Backward state transitions are rejected and the whole call is ignored;
// the percentage never decreases.
func (t *Tracker) SetPhase(scrapeID string, status Status, percent int, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		log.Warn().Str("scrape_id", scrapeID).Msg("Progress entry not found for update")
		return
	}
	if !e.status.CanTransitionTo(status) {
		log.Debug().
			Str("scrape_id", scrapeID).
			Str("from", string(e.status)).
			Str("to", string(status)).
			Msg("Ignoring backward progress transition")
		return
	}

	e.status = status
	e.setPercent(percent)
	e.phase = phase
	e.lastUpdate = time.Now()
}

// SetScrollStats updates the collection-phase counters.
func (t *Tracker) SetScrollStats(scrapeID string, cardsFound, scrollsDone int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		log.Warn().Str("scrape_id", scrapeID).Msg("Progress entry not found for update")
		return
	}
	e.cardsFound = cardsFound
	e.scrollsDone = scrollsDone
	e.lastUpdate = time.Now()
}

// SetExtractStats updates the extraction-phase counters.
func (t *Tracker) SetExtractStats(scrapeID string, cardsExtracted, extractionErrors, uniqueResults int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		log.Warn().Str("scrape_id", scrapeID).Msg("Progress entry not found for update")
		return
	}
	e.cardsExtracted = cardsExtracted
	e.extractionErrors = extractionErrors
	e.uniqueResults = uniqueResults
	e.lastUpdate = time.Now()
}

// AddSample records the most recent extracted result and keeps up to
// previewLimit of them for client preview.
func (t *Tracker) AddSample(scrapeID string, rec types.BusinessRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		log.Warn().Str("scrape_id", scrapeID).Msg("Progress entry not found for sample")
		return
	}
	e.sample = &rec
	if rec.Name != "" && len(e.preview) < previewLimit {
		e.preview = append(e.preview, rec)
	}
	e.lastUpdate = time.Now()
}

// Complete marks a scrape finished and stores its final results.
// Calls on a terminal entry are ignored.
func (t *Tracker) Complete(scrapeID string, results []types.BusinessRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		return
	}
	if e.status.Terminal() {
		log.Debug().Str("scrape_id", scrapeID).Msg("Complete called on terminal scrape, ignoring")
		return
	}

	e.status = StatusCompleted
	e.percent = 100
	e.phase = fmt.Sprintf("✅ Complete! %d results", len(results))
	e.finalResults = results
	e.uniqueResults = len(results)
	e.lastUpdate = time.Now()

	log.Info().Str("scrape_id", scrapeID).Int("results", len(results)).Msg("Scrape completed")
}

// Fail marks a scrape failed. The phase shows a truncated error, the
// full message is kept. The percentage is preserved.
func (t *Tracker) Fail(scrapeID string, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		return
	}
	if e.status.Terminal() {
		log.Debug().Str("scrape_id", scrapeID).Msg("Fail called on terminal scrape, ignoring")
		return
	}

	e.status = StatusFailed
	e.phase = "❌ Error: " + truncate(errMsg, 50)
	e.errorMessage = errMsg
	e.lastUpdate = time.Now()

	log.Error().Str("scrape_id", scrapeID).Str("error", errMsg).Msg("Scrape failed")
}

// Snapshot returns the current progress view of a scrape.
func (t *Tracker) Snapshot(scrapeID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Results returns the final records of a scrape along with its status.
func (t *Tracker) Results(scrapeID string) ([]types.BusinessRecord, Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.scrapes[scrapeID]
	if !ok {
		return nil, "", false
	}
	return e.finalResults, e.status, true
}

// CleanupStale removes entries idle longer than the tracker TTL.
// Returns the number removed.
func (t *Tracker) CleanupStale() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range t.scrapes {
		if now.Sub(e.lastUpdate) > t.ttl {
			delete(t.scrapes, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Cleaned up stale progress entries")
	}
	return removed
}

// setPercent applies the monotonic, capped percentage rule.
func (e *entry) setPercent(p int) {
	if p > 100 {
		p = 100
	}
	if p > e.percent {
		e.percent = p
	}
}

func (e *entry) snapshot() Snapshot {
	elapsed := time.Since(e.startTime)

	preview := e.preview
	if len(preview) > snapshotPreview {
		preview = preview[:snapshotPreview]
	}
	out := make([]types.BusinessRecord, len(preview))
	copy(out, preview)

	var sample *types.BusinessRecord
	if e.sample != nil {
		s := *e.sample
		sample = &s
	}

	return Snapshot{
		ScrapeID:        e.scrapeID,
		Status:          e.status,
		ProgressPercent: e.percent,
		Phase:           e.phase,
		Stats: SnapshotStats{
			CardsFound:       e.cardsFound,
			CardsExtracted:   e.cardsExtracted,
			UniqueResults:    e.uniqueResults,
			ScrollsDone:      e.scrollsDone,
			MaxScrolls:       e.maxScrolls,
			TargetCount:      e.targetCount,
			ExtractionErrors: e.extractionErrors,
			TimeElapsed:      formatSeconds(elapsed),
			ETA:              estimateETA(elapsed, e.percent),
		},
		Preview:      out,
		SampleResult: sample,
		ErrorMessage: e.errorMessage,
	}
}

// formatSeconds renders a duration as "42s" or "3m 12s".
func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// estimateETA projects the remaining time from elapsed time and percent done.
func estimateETA(elapsed time.Duration, percent int) string {
	if percent <= 0 {
		return "Calculating..."
	}
	if percent >= 100 {
		return "Complete!"
	}

	estimatedTotal := time.Duration(float64(elapsed) / (float64(percent) / 100))
	remaining := estimatedTotal - elapsed
	if remaining < 0 {
		return "Almost done..."
	}
	return formatSeconds(remaining)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
