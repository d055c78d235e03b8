package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/vantorix/mapscout/internal/querynorm"
	"github.com/vantorix/mapscout/internal/types"
)

const (
	// fuzzyCandidateLimit caps how many recent cursors a fuzzy lookup scans.
	fuzzyCandidateLimit = 200

	// maxUserCursors caps the per-user cursor listing.
	maxUserCursors = 20
)

// CursorSummary is the API-facing view of a saved cursor.
type CursorSummary struct {
	QueryHash       string    `json:"query_hash"`
	SearchQuery     string    `json:"search_query"`
	NormalizedQuery string    `json:"normalized_query"`
	LastPlaceID     string    `json:"last_place_id,omitempty"`
	CollectedCount  int       `json:"collected_count"`
	TotalScrolls    int       `json:"total_scrolls"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// CursorState is the resume point a finished scrape writes back.
type CursorState struct {
	LastPlaceID    string
	LastCardIndex  int
	ScrollPosition float64
	CollectedCount int
	TotalScrolls   int
	VisibleCards   int
}

// CursorManager resolves, advances, and expires per-user search cursors.
// A cursor lets a repeat of the same query resume scrolling where the last
// run stopped instead of re-walking the whole feed.
type CursorManager struct {
	store          *Store
	ttl            time.Duration
	fuzzyThreshold float64
}

// NewCursorManager creates a cursor manager with the given TTL.
func NewCursorManager(s *Store, ttl time.Duration) *CursorManager {
	return &CursorManager{
		store:          s,
		ttl:            ttl,
		fuzzyThreshold: querynorm.DefaultFuzzyThreshold,
	}
}

// Get resolves the cursor for a query. Exact match on the normalized query
// hash wins; an expired exact match is deleted and reported as not found.
// Without an exact match, recent cursors are scanned for a fuzzy match on
// the normalized query. Returns types.ErrCursorNotFound when nothing usable
// exists.
func (cm *CursorManager) Get(ctx context.Context, userID, query string) (*ScrapeCursor, error) {
	normalized, hash := querynorm.NormalizeWithHash(query)
	now := time.Now()

	var cursor ScrapeCursor
	err := cm.store.db.WithContext(ctx).
		Where("user_id = ? AND query_hash = ?", userID, hash).
		First(&cursor).Error
	switch {
	case err == nil:
		if cursor.Expired(now) {
			if delErr := cm.store.db.WithContext(ctx).Delete(&cursor).Error; delErr != nil {
				log.Warn().Err(delErr).Str("query_hash", hash).Msg("Failed to delete expired cursor")
			}
			return nil, types.ErrCursorNotFound
		}
		cm.touch(ctx, &cursor, now)
		return &cursor, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to look up cursor: %w", err)
	}

	return cm.fuzzyGet(ctx, userID, normalized, now)
}

// touch records the access time. Best-effort; a failed touch never blocks
// the lookup.
func (cm *CursorManager) touch(ctx context.Context, cursor *ScrapeCursor, now time.Time) {
	cursor.LastAccessedAt = now
	err := cm.store.db.WithContext(ctx).
		Model(&ScrapeCursor{}).
		Where("id = ?", cursor.ID).
		UpdateColumn("last_accessed_at", now).Error
	if err != nil {
		log.Debug().Err(err).Str("cursor_id", cursor.ID).Msg("Failed to touch cursor")
	}
}

// fuzzyGet scans the user's recent unexpired cursors for the best match on
// the normalized query above the similarity threshold.
func (cm *CursorManager) fuzzyGet(ctx context.Context, userID, normalized string, now time.Time) (*ScrapeCursor, error) {
	var candidates []ScrapeCursor
	err := cm.store.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("updated_at DESC").
		Limit(fuzzyCandidateLimit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor candidates: %w", err)
	}

	var best *ScrapeCursor
	bestScore := cm.fuzzyThreshold
	for i := range candidates {
		score := querynorm.Similarity(normalized, candidates[i].NormalizedQuery)
		if score >= bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}

	if best == nil {
		return nil, types.ErrCursorNotFound
	}

	log.Debug().
		Str("user_id", userID).
		Str("matched_query", best.NormalizedQuery).
		Float64("similarity", bestScore).
		Msg("Cursor resolved via fuzzy match")

	cm.touch(ctx, best, now)
	return best, nil
}

// Create saves a fresh cursor for the query.
func (cm *CursorManager) Create(ctx context.Context, userID, query string) (*ScrapeCursor, error) {
	normalized, hash := querynorm.NormalizeWithHash(query)
	now := time.Now()

	cursor := &ScrapeCursor{
		UserID:          userID,
		QueryHash:       hash,
		SearchQuery:     query,
		NormalizedQuery: normalized,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccessedAt:  now,
		ExpiresAt:       now.Add(cm.ttl),
	}
	if err := cm.store.db.WithContext(ctx).Create(cursor).Error; err != nil {
		return nil, fmt.Errorf("failed to create cursor: %w", err)
	}
	return cursor, nil
}

// Update advances a cursor to the latest collection state and extends its
// TTL from now.
func (cm *CursorManager) Update(ctx context.Context, cursorID string, state CursorState) error {
	now := time.Now()
	res := cm.store.db.WithContext(ctx).
		Model(&ScrapeCursor{}).
		Where("id = ?", cursorID).
		Updates(map[string]interface{}{
			"last_place_id":        state.LastPlaceID,
			"last_card_index":      state.LastCardIndex,
			"last_scroll_position": state.ScrollPosition,
			"collected_count":      state.CollectedCount,
			"total_scrolls":        state.TotalScrolls,
			"last_visible_cards":   state.VisibleCards,
			"updated_at":           now,
			"last_accessed_at":     now,
			"expires_at":           now.Add(cm.ttl),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrCursorNotFound
	}
	return nil
}

// Clear deletes the cursor for a query, forcing the next scrape to start
// fresh. Returns types.ErrCursorNotFound when no cursor exists.
func (cm *CursorManager) Clear(ctx context.Context, userID, query string) error {
	_, hash := querynorm.NormalizeWithHash(query)
	res := cm.store.db.WithContext(ctx).
		Where("user_id = ? AND query_hash = ?", userID, hash).
		Delete(&ScrapeCursor{})
	if res.Error != nil {
		return fmt.Errorf("failed to clear cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrCursorNotFound
	}
	return nil
}

// UserCursors lists the user's unexpired cursors, most recently accessed
// first.
func (cm *CursorManager) UserCursors(ctx context.Context, userID string) ([]CursorSummary, error) {
	var cursors []ScrapeCursor
	err := cm.store.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("last_accessed_at DESC").
		Limit(maxUserCursors).
		Find(&cursors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	summaries := make([]CursorSummary, 0, len(cursors))
	for _, c := range cursors {
		summaries = append(summaries, CursorSummary{
			QueryHash:       c.QueryHash,
			SearchQuery:     c.SearchQuery,
			NormalizedQuery: c.NormalizedQuery,
			LastPlaceID:     truncatePlaceID(c.LastPlaceID),
			CollectedCount:  c.CollectedCount,
			TotalScrolls:    c.TotalScrolls,
			UpdatedAt:       c.UpdatedAt,
			ExpiresAt:       c.ExpiresAt,
		})
	}
	return summaries, nil
}

// Summary resolves the cursor for a query and returns its display view.
// Returns types.ErrCursorNotFound when no usable cursor exists.
func (cm *CursorManager) Summary(ctx context.Context, userID, query string) (*CursorSummary, error) {
	cursor, err := cm.Get(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	return &CursorSummary{
		QueryHash:       cursor.QueryHash,
		SearchQuery:     cursor.SearchQuery,
		NormalizedQuery: cursor.NormalizedQuery,
		LastPlaceID:     truncatePlaceID(cursor.LastPlaceID),
		CollectedCount:  cursor.CollectedCount,
		TotalScrolls:    cursor.TotalScrolls,
		UpdatedAt:       cursor.UpdatedAt,
		ExpiresAt:       cursor.ExpiresAt,
	}, nil
}

// CleanupExpired removes cursors past their TTL. Returns rows removed.
func (cm *CursorManager) CleanupExpired(ctx context.Context) (int64, error) {
	res := cm.store.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&ScrapeCursor{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up cursors: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("deleted", res.RowsAffected).Msg("Expired cursors removed")
	}
	return res.RowsAffected, nil
}

// truncatePlaceID shortens long place IDs for display.
func truncatePlaceID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:20] + "..."
}
