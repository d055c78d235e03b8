// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser errors
	ErrBrowserNotAvailable = errors.New("browser is not available")
	ErrBrowserCrashed      = errors.New("browser process crashed")

	// Session pool errors
	ErrPoolExhausted   = errors.New("session pool exhausted: no session slots available")
	ErrPoolClosed      = errors.New("session pool is closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session has been closed")
	ErrSessionPageNil  = errors.New("session page is nil or has been closed")

	// Scrape errors
	ErrScrapeNotFound   = errors.New("scrape not found")
	ErrScrapeInProgress = errors.New("scrape still in progress")
	ErrNoCardsFound     = errors.New("no result cards found on the page")
	ErrFeedNotFound     = errors.New("results feed did not appear")
	ErrPageBlocked      = errors.New("search results page is blocked")

	// Cursor errors
	ErrCursorNotFound = errors.New("cursor not found")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrQueryRequired  = errors.New("search_query is required")
	ErrUserRequired   = errors.New("user id is required")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// PoolError provides detailed information about session pool failures.
// It implements the error interface and supports error unwrapping.
type PoolError struct {
	Operation string // The operation that failed
	UserID    string // The user whose session was involved
	Message   string // Human-readable error message
	Err       error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolExhaustedError creates an error for a full session pool.
func NewPoolExhaustedError(userID string, maxSessions int) *PoolError {
	return &PoolError{
		Operation: "acquire",
		UserID:    userID,
		Message:   fmt.Sprintf("Maximum concurrent sessions (%d) reached. Please try again in a few minutes.", maxSessions),
		Err:       ErrPoolExhausted,
	}
}

// NewSessionCreateError creates an error for session creation failures.
func NewSessionCreateError(userID string, err error) *PoolError {
	return &PoolError{
		Operation: "create",
		UserID:    userID,
		Message:   "Failed to create browser session: " + err.Error(),
		Err:       err,
	}
}

// ScrapeError provides detailed information about scrape pipeline failures.
type ScrapeError struct {
	Phase   string // Pipeline phase: "navigate", "collect", "extract"
	Query   string // The search query being scraped
	Message string // Human-readable error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewNavigationError creates an error for search navigation failures.
func NewNavigationError(query string, err error) *ScrapeError {
	return &ScrapeError{
		Phase:   "navigate",
		Query:   query,
		Message: "Failed to open search results: " + err.Error(),
		Err:     err,
	}
}

// NewCollectError creates an error for card collection failures.
func NewCollectError(query string, err error) *ScrapeError {
	return &ScrapeError{
		Phase:   "collect",
		Query:   query,
		Message: "Failed to collect result cards: " + err.Error(),
		Err:     err,
	}
}
