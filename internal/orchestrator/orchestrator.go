// Package orchestrator ties a scrape together: it assembles the seen-place
// set, resume cursor, and progress entry, runs the pipeline on the user's
// pooled session, and persists the outcome. Persistence failures after a
// successful scrape are logged and never surfaced; the extracted records
// remain valid either way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/metrics"
	"github.com/vantorix/mapscout/internal/progress"
	"github.com/vantorix/mapscout/internal/querynorm"
	"github.com/vantorix/mapscout/internal/scraper"
	"github.com/vantorix/mapscout/internal/selectors"
	"github.com/vantorix/mapscout/internal/session"
	"github.com/vantorix/mapscout/internal/store"
	"github.com/vantorix/mapscout/internal/types"
)

// Orchestrator coordinates scrapes across the pool, stores, and tracker.
type Orchestrator struct {
	cfg      *config.Config
	sessions *session.Manager
	history  *store.History
	cursors  *store.CursorManager
	tracker  *progress.Tracker
	sel      *selectors.Manager
}

// New wires an orchestrator from its collaborators.
func New(cfg *config.Config, sessions *session.Manager, history *store.History, cursors *store.CursorManager, tracker *progress.Tracker, sel *selectors.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		cursors:  cursors,
		tracker:  tracker,
		sel:      sel,
	}
}

// scrapePlan is everything assembled before the pipeline runs.
type scrapePlan struct {
	scrapeID     string
	userID       string
	query        string
	queryHash    string
	normalized   string
	targetCount  int
	maxScrolls   int
	seenPlaces   map[string]struct{}
	cursorID     string
	cursorStatus string
	resume       *scraper.Resume
	sessionRowID string
}

// prepare assembles the plan: seen set filtered to this query, resume
// cursor, progress entry, and the session history row.
func (o *Orchestrator) prepare(ctx context.Context, userID string, req *types.ScrapeRequest) (*scrapePlan, error) {
	if userID == "" {
		return nil, types.ErrUserRequired
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	normalized, hash := querynorm.NormalizeWithHash(req.SearchQuery)

	plan := &scrapePlan{
		scrapeID:     uuid.NewString()[:8],
		userID:       userID,
		query:        req.SearchQuery,
		queryHash:    hash,
		normalized:   normalized,
		targetCount:  req.TargetCount,
		maxScrolls:   req.MaxScrolls,
		cursorStatus: types.CursorStatusNew,
	}

	seen, err := o.history.SeenPlaces(ctx, userID, hash)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load seen places, scraping without them")
		seen = map[string]struct{}{}
	}
	plan.seenPlaces = seen

	cursor, err := o.cursors.Get(ctx, userID, req.SearchQuery)
	switch {
	case err == nil:
		plan.cursorID = cursor.ID
		if cursor.CollectedCount > 0 {
			plan.cursorStatus = types.CursorStatusResuming
			plan.resume = &scraper.Resume{
				ScrollPosition: cursor.LastScrollPosition,
				CollectedCount: cursor.CollectedCount,
				LastPlaceID:    cursor.LastPlaceID,
				LastCardIndex:  cursor.LastCardIndex,
			}
		}
	case errors.Is(err, types.ErrCursorNotFound):
		created, cerr := o.cursors.Create(ctx, userID, req.SearchQuery)
		if cerr != nil {
			log.Warn().Err(cerr).Str("user_id", userID).Msg("Failed to create cursor, scrape will not be resumable")
		} else {
			plan.cursorID = created.ID
		}
	default:
		log.Warn().Err(err).Str("user_id", userID).Msg("Cursor lookup failed, starting fresh")
	}

	maxScrolls := plan.maxScrolls
	if maxScrolls <= 0 {
		maxScrolls = scraper.MaxScrolls(plan.targetCount)
	}
	o.tracker.Create(plan.scrapeID, plan.targetCount, maxScrolls)

	row, err := o.history.StartSession(ctx, userID, req.SearchQuery, normalized, store.SessionMeta{
		SheetID:  req.SheetID,
		SheetURL: req.SheetURL,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to create scrape session row")
	} else {
		plan.sessionRowID = row.ID
	}

	return plan, nil
}

// StartScrape begins an asynchronous scrape and returns immediately.
func (o *Orchestrator) StartScrape(ctx context.Context, userID string, req *types.ScrapeRequest) (*types.ScrapeStartedResponse, error) {
	plan, err := o.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	// The scrape outlives the HTTP request that started it.
	go func() {
		result, runErr := o.runScrape(context.Background(), plan)
		if runErr != nil {
			log.Error().Err(runErr).Str("scrape_id", plan.scrapeID).Msg("Background scrape failed")
			return
		}
		_ = result
	}()

	previously := 0
	if plan.resume != nil {
		previously = plan.resume.CollectedCount
	}

	return &types.ScrapeStartedResponse{
		ScrapeID:            plan.scrapeID,
		Status:              types.StatusStarted,
		Query:               plan.query,
		CursorStatus:        plan.cursorStatus,
		PreviouslyCollected: previously,
		SeenPlacesCount:     len(plan.seenPlaces),
		TargetCount:         plan.targetCount,
		Message:             fmt.Sprintf("Scrape started. Poll /scrape/%s/progress for status.", plan.scrapeID),
	}, nil
}

// Scrape runs a scrape synchronously and returns the full results.
func (o *Orchestrator) Scrape(ctx context.Context, userID string, req *types.ScrapeRequest) (*types.ScrapeResultsResponse, error) {
	plan, err := o.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	result, err := o.runScrape(ctx, plan)
	if err != nil {
		return nil, err
	}

	return o.buildResults(plan.scrapeID, plan.query, plan.targetCount, result), nil
}

// runScrape acquires the session, runs the pipeline, and finalizes
// progress, persistence, and metrics. It is the single body shared by the
// sync and async paths.
func (o *Orchestrator) runScrape(ctx context.Context, plan *scrapePlan) (result *scraper.Result, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrape panicked: %v", r)
			log.Error().Str("scrape_id", plan.scrapeID).Interface("panic", r).Msg("Scrape panic recovered")
			o.finishFailed(plan, err, start)
		}
	}()

	sess, err := o.sessions.Acquire(ctx, plan.userID)
	if err != nil {
		o.finishFailed(plan, err, start)
		return nil, err
	}

	sess.BeginScrape()
	defer sess.EndScrape()

	pipeline := scraper.New(o.cfg, sess.Context, o.sel, o.tracker, plan.scrapeID)
	result, err = pipeline.Run(ctx, scraper.Params{
		Query:       plan.query,
		TargetCount: plan.targetCount,
		MaxScrolls:  plan.maxScrolls,
		SeenPlaces:  plan.seenPlaces,
		Cursor:      plan.resume,
	})
	if err != nil {
		o.finishFailed(plan, err, start)
		return nil, err
	}

	o.persistResults(plan, result)
	o.tracker.Complete(plan.scrapeID, result.Records)
	metrics.RecordScrape("completed", time.Since(start))

	return result, nil
}

// finishFailed marks every surface of a failed scrape.
func (o *Orchestrator) finishFailed(plan *scrapePlan, err error, start time.Time) {
	o.tracker.Fail(plan.scrapeID, err.Error())
	metrics.RecordScrape("failed", time.Since(start))

	if plan.sessionRowID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := o.history.FailSession(ctx, plan.sessionRowID, err.Error()); ferr != nil {
			log.Warn().Err(ferr).Str("scrape_id", plan.scrapeID).Msg("Failed to mark session row failed")
		}
	}
}

// persistResults writes places, cursor, and the session row. Every write
// is guarded: a persistence failure is logged and the scrape still
// completes with its extracted records.
func (o *Orchestrator) persistResults(plan *scrapePlan, result *scraper.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	newPlaces := 0
	if n, _, err := o.history.RecordPlaces(ctx, plan.userID, plan.queryHash, result.Records); err != nil {
		log.Error().Err(err).Str("scrape_id", plan.scrapeID).Msg("Failed to record places, results still returned")
	} else {
		newPlaces = n
	}

	if plan.cursorID != "" {
		err := o.cursors.Update(ctx, plan.cursorID, store.CursorState{
			LastPlaceID:    result.Cursor.LastPlaceID,
			LastCardIndex:  result.Cursor.LastCardIndex,
			ScrollPosition: result.Cursor.ScrollPosition,
			CollectedCount: result.Cursor.CollectedCount,
			TotalScrolls:   result.Cursor.TotalScrolls,
			VisibleCards:   result.Cursor.VisibleCards,
		})
		if err != nil {
			log.Error().Err(err).Str("scrape_id", plan.scrapeID).Msg("Failed to update cursor")
		}
	}

	if plan.sessionRowID != "" {
		err := o.history.CompleteSession(ctx, plan.sessionRowID, store.SessionResult{
			Results:          len(result.Records),
			NewPlaces:        newPlaces,
			Duplicates:       result.SkippedSeen,
			Scrolls:          result.Stats.ScrollsPerformed,
			TimeTakenSeconds: result.TimeTaken.Seconds(),
		})
		if err != nil {
			log.Error().Err(err).Str("scrape_id", plan.scrapeID).Msg("Failed to complete session row")
		}
	}
}

// buildResults shapes a pipeline result into the API response.
func (o *Orchestrator) buildResults(scrapeID, query string, targetCount int, result *scraper.Result) *types.ScrapeResultsResponse {
	stats := result.Stats
	dedupStats := result.DedupStats
	return &types.ScrapeResultsResponse{
		Status:         types.StatusOK,
		ScrapeID:       scrapeID,
		Query:          query,
		TotalCollected: stats.CardsFound,
		UniqueResults:  len(result.Records),
		TargetCount:    targetCount,
		TimeTaken:      result.TimeTaken.Seconds(),
		Results:        result.Records,
		Stats:          &stats,
		DedupStats:     &dedupStats,
	}
}

// Progress returns the live snapshot of a scrape.
func (o *Orchestrator) Progress(scrapeID string) (progress.Snapshot, error) {
	snap, ok := o.tracker.Snapshot(scrapeID)
	if !ok {
		return progress.Snapshot{}, types.ErrScrapeNotFound
	}
	return snap, nil
}

// Results returns the final records of a finished scrape.
// ErrScrapeNotFound for unknown IDs, ErrScrapeInProgress until terminal.
func (o *Orchestrator) Results(scrapeID string) (*types.ScrapeResultsResponse, error) {
	records, status, ok := o.tracker.Results(scrapeID)
	if !ok {
		return nil, types.ErrScrapeNotFound
	}
	if !status.Terminal() {
		return nil, types.ErrScrapeInProgress
	}

	snap, _ := o.tracker.Snapshot(scrapeID)
	resp := &types.ScrapeResultsResponse{
		Status:        types.StatusOK,
		ScrapeID:      scrapeID,
		UniqueResults: len(records),
		TargetCount:   snap.Stats.TargetCount,
		Results:       records,
	}
	if status == progress.StatusFailed {
		resp.Status = types.StatusError
	}
	return resp, nil
}
