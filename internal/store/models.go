// Package store provides the persistence layer: scrape history, per-user
// seen places, and resumable search cursors, backed by GORM over SQLite or
// PostgreSQL.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserPlace records that a user has scraped a place. The (user_id, place_id)
// pair is unique; repeat encounters bump last_scraped_at and scrape_count
// instead of inserting a second row.
type UserPlace struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_place,priority:1;index:idx_place_query,priority:1" json:"user_id"`
	PlaceID        string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_place,priority:2" json:"place_id"`
	CID            string    `gorm:"type:varchar(64)" json:"cid,omitempty"`
	QueryHash      string    `gorm:"type:varchar(32);index:idx_place_query,priority:2" json:"query_hash,omitempty"`
	BusinessName   string    `gorm:"type:varchar(512)" json:"business_name"`
	Address        string    `gorm:"type:varchar(1024)" json:"address,omitempty"`
	FirstScrapedAt time.Time `gorm:"not null" json:"first_scraped_at"`
	LastScrapedAt  time.Time `gorm:"not null;index" json:"last_scraped_at"`
	ScrapeCount    int       `gorm:"not null;default:1" json:"scrape_count"`
}

// BeforeCreate assigns a UUID primary key.
func (p *UserPlace) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Scrape session statuses.
const (
	SessionStatusRunning   = "running"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// ScrapeSession is one scrape run, recorded when the scrape starts and
// finalized when it completes or fails.
type ScrapeSession struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID            string     `gorm:"type:varchar(255);not null;index" json:"user_id"`
	SearchQuery       string     `gorm:"type:varchar(512);not null" json:"search_query"`
	NormalizedQuery   string     `gorm:"type:varchar(512)" json:"normalized_query"`
	Status            string     `gorm:"type:varchar(32);not null;default:running" json:"status"`
	StartedAt         time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ResultsCount      int        `gorm:"not null;default:0" json:"results_count"`
	NewPlacesCount    int        `gorm:"not null;default:0" json:"new_places_count"`
	DuplicatesSkipped int        `gorm:"not null;default:0" json:"duplicates_skipped"`
	ScrollsPerformed  int        `gorm:"not null;default:0" json:"scrolls_performed"`
	TimeTakenSeconds  float64    `gorm:"not null;default:0" json:"time_taken_seconds"`
	ErrorMessage      string     `gorm:"type:varchar(1024)" json:"error_message,omitempty"`

	// Pass-through export metadata supplied by the caller; not interpreted.
	SheetID  string `gorm:"type:varchar(255)" json:"sheet_id,omitempty"`
	SheetURL string `gorm:"type:varchar(1024)" json:"sheet_url,omitempty"`
}

// BeforeCreate assigns a UUID primary key.
func (s *ScrapeSession) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// ScrapeCursor remembers where a user's search left off so a repeat of the
// same (normalized) query resumes scrolling instead of starting over.
// One cursor per (user_id, query_hash).
type ScrapeCursor struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID             string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_query,priority:1;index" json:"user_id"`
	QueryHash          string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_user_query,priority:2" json:"query_hash"`
	SearchQuery        string    `gorm:"type:varchar(512);not null" json:"search_query"`
	NormalizedQuery    string    `gorm:"type:varchar(512);not null" json:"normalized_query"`
	LastPlaceID        string    `gorm:"type:varchar(255)" json:"last_place_id,omitempty"`
	LastCardIndex      int       `gorm:"not null;default:0" json:"last_card_index"`
	LastScrollPosition float64   `gorm:"not null;default:0" json:"last_scroll_position"`
	CollectedCount     int       `gorm:"not null;default:0" json:"collected_count"`
	TotalScrolls       int       `gorm:"not null;default:0" json:"total_scrolls"`
	LastVisibleCards   int       `gorm:"not null;default:0" json:"last_visible_cards"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
	LastAccessedAt     time.Time `gorm:"not null" json:"last_accessed_at"`
	ExpiresAt          time.Time `gorm:"not null;index" json:"expires_at"`
}

// BeforeCreate assigns a UUID primary key.
func (c *ScrapeCursor) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the cursor has passed its TTL.
func (c *ScrapeCursor) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
