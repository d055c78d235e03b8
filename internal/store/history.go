package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/clause"

	"github.com/vantorix/mapscout/internal/types"
)

// secondsSavedPerDuplicate estimates how long visiting one detail page
// takes, used to report time saved by the seen-places filter.
const secondsSavedPerDuplicate = 3.0

// History persists scraped places and scrape sessions per user.
type History struct {
	store *Store
}

// NewHistory creates a history layer over the store.
func NewHistory(s *Store) *History {
	return &History{store: s}
}

// SeenPlaces returns the set of place IDs the user has already scraped.
// With a non-empty queryHash only places captured under that query count,
// so duplicate totals reported to the user reflect this search rather than
// their whole history. Passed into the pipeline so known places are skipped
// before their detail pages are visited.
func (h *History) SeenPlaces(ctx context.Context, userID, queryHash string) (map[string]struct{}, error) {
	q := h.store.db.WithContext(ctx).
		Model(&UserPlace{}).
		Where("user_id = ?", userID)
	if queryHash != "" {
		q = q.Where("query_hash = ?", queryHash)
	}

	var placeIDs []string
	if err := q.Pluck("place_id", &placeIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load seen places: %w", err)
	}

	seen := make(map[string]struct{}, len(placeIDs))
	for _, id := range placeIDs {
		seen[id] = struct{}{}
	}
	return seen, nil
}

// RecordPlaces upserts scraped records into the user's history. A new
// (user_id, place_id) pair inserts a row; a repeat bumps last_scraped_at
// and scrape_count. Records without a place ID are skipped: without a
// stable identity there is nothing to deduplicate against next run.
// Returns the number of new and updated places.
func (h *History) RecordPlaces(ctx context.Context, userID, queryHash string, records []types.BusinessRecord) (newCount, updatedCount int, err error) {
	now := time.Now()

	placeIDs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.PlaceID != "" {
			placeIDs = append(placeIDs, rec.PlaceID)
		}
	}
	if len(placeIDs) == 0 {
		return 0, 0, nil
	}

	var existing []string
	err = h.store.db.WithContext(ctx).
		Model(&UserPlace{}).
		Where("user_id = ? AND place_id IN ?", userID, placeIDs).
		Pluck("place_id", &existing).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to check existing places: %w", err)
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	for _, rec := range records {
		if rec.PlaceID == "" {
			continue
		}

		place := UserPlace{
			UserID:         userID,
			PlaceID:        rec.PlaceID,
			CID:            rec.CID,
			QueryHash:      queryHash,
			BusinessName:   rec.Name,
			Address:        rec.Address,
			FirstScrapedAt: now,
			LastScrapedAt:  now,
			ScrapeCount:    1,
		}

		err = h.store.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "place_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"last_scraped_at": now,
					"scrape_count":    clause.Expr{SQL: "scrape_count + 1"},
					"business_name":   rec.Name,
					"address":         rec.Address,
				}),
			}).
			Create(&place).Error
		if err != nil {
			return newCount, updatedCount, fmt.Errorf("failed to upsert place %s: %w", rec.PlaceID, err)
		}

		if _, ok := existingSet[rec.PlaceID]; ok {
			updatedCount++
		} else {
			newCount++
		}
	}

	log.Debug().
		Str("user_id", userID).
		Int("new", newCount).
		Int("updated", updatedCount).
		Msg("Places recorded")

	return newCount, updatedCount, nil
}

// SessionMeta is caller-supplied metadata stored verbatim on the session.
type SessionMeta struct {
	SheetID  string
	SheetURL string
}

// StartSession creates a running scrape session row.
func (h *History) StartSession(ctx context.Context, userID, query, normalizedQuery string, meta SessionMeta) (*ScrapeSession, error) {
	sess := &ScrapeSession{
		UserID:          userID,
		SearchQuery:     query,
		NormalizedQuery: normalizedQuery,
		Status:          SessionStatusRunning,
		StartedAt:       time.Now(),
		SheetID:         meta.SheetID,
		SheetURL:        meta.SheetURL,
	}
	if err := h.store.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("failed to create scrape session: %w", err)
	}
	return sess, nil
}

// SessionResult carries the final counters written on completion.
type SessionResult struct {
	Results          int
	NewPlaces        int
	Duplicates       int
	Scrolls          int
	TimeTakenSeconds float64
}

// CompleteSession finalizes a session with its result counts.
func (h *History) CompleteSession(ctx context.Context, sessionID string, result SessionResult) error {
	now := time.Now()
	res := h.store.db.WithContext(ctx).
		Model(&ScrapeSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":             SessionStatusCompleted,
			"completed_at":       now,
			"results_count":      result.Results,
			"new_places_count":   result.NewPlaces,
			"duplicates_skipped": result.Duplicates,
			"scrolls_performed":  result.Scrolls,
			"time_taken_seconds": result.TimeTakenSeconds,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrScrapeNotFound
	}
	return nil
}

// FailSession marks a session failed with a message.
func (h *History) FailSession(ctx context.Context, sessionID, message string) error {
	now := time.Now()
	res := h.store.db.WithContext(ctx).
		Model(&ScrapeSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":        SessionStatusFailed,
			"completed_at":  now,
			"error_message": message,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark session failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrScrapeNotFound
	}
	return nil
}

// UserHistory returns the user's most recent scrape sessions, newest first.
func (h *History) UserHistory(ctx context.Context, userID string, limit, offset int) ([]ScrapeSession, error) {
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	if limit > types.MaxHistoryLimit {
		limit = types.MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	var sessions []ScrapeSession
	err := h.store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load user history: %w", err)
	}
	return sessions, nil
}

// UserStats aggregates a user's scraping activity.
type UserStats struct {
	TotalPlaces       int64   `json:"total_places"`
	TotalSessions     int64   `json:"total_sessions"`
	CompletedSessions int64   `json:"completed_sessions"`
	TotalResults      int64   `json:"total_results"`
	DuplicatesSkipped int64   `json:"duplicates_skipped"`
	DedupEfficiency   float64 `json:"dedup_efficiency"`
	TimeSavedSeconds  float64 `json:"time_saved_seconds"`
}

// Stats computes aggregate statistics for a user. Dedup efficiency is the
// share of encountered listings that were skipped as already seen.
func (h *History) Stats(ctx context.Context, userID string) (UserStats, error) {
	var stats UserStats
	db := h.store.db.WithContext(ctx)

	if err := db.Model(&UserPlace{}).Where("user_id = ?", userID).Count(&stats.TotalPlaces).Error; err != nil {
		return stats, fmt.Errorf("failed to count places: %w", err)
	}
	if err := db.Model(&ScrapeSession{}).Where("user_id = ?", userID).Count(&stats.TotalSessions).Error; err != nil {
		return stats, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := db.Model(&ScrapeSession{}).
		Where("user_id = ? AND status = ?", userID, SessionStatusCompleted).
		Count(&stats.CompletedSessions).Error; err != nil {
		return stats, fmt.Errorf("failed to count completed sessions: %w", err)
	}

	type sums struct {
		Results    int64
		Duplicates int64
	}
	var s sums
	err := db.Model(&ScrapeSession{}).
		Select("COALESCE(SUM(results_count), 0) AS results, COALESCE(SUM(duplicates_skipped), 0) AS duplicates").
		Where("user_id = ?", userID).
		Scan(&s).Error
	if err != nil {
		return stats, fmt.Errorf("failed to sum session counters: %w", err)
	}
	stats.TotalResults = s.Results
	stats.DuplicatesSkipped = s.Duplicates

	if total := s.Results + s.Duplicates; total > 0 {
		stats.DedupEfficiency = float64(s.Duplicates) / float64(total)
	}
	stats.TimeSavedSeconds = float64(s.Duplicates) * secondsSavedPerDuplicate

	return stats, nil
}

// CleanupOldSessions deletes finished sessions older than the retention
// window. Returns the number of rows removed.
func (h *History) CleanupOldSessions(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := h.store.db.WithContext(ctx).
		Where("started_at < ? AND status <> ?", cutoff, SessionStatusRunning).
		Delete(&ScrapeSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info().
			Int64("deleted", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("Old scrape sessions removed")
	}
	return res.RowsAffected, nil
}
