// Package session manages per-user browser sessions. Each user owns at most
// one session, backed by an isolated incognito context. Sessions are reused
// across scrapes so Google sees a stable identity, and evicted when idle or
// too old.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vantorix/mapscout/internal/browser"
	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/metrics"
	"github.com/vantorix/mapscout/internal/types"
)

// Session is one user's browser session.
type Session struct {
	UserID    string
	Context   *browser.UserContext
	CreatedAt time.Time

	lastActivity atomic.Int64 // Unix nano, lock-free touch on every use
	scrapeCount  atomic.Int64

	// mu serializes scraping on this session. A user's second concurrent
	// scrape waits for the first rather than sharing the page.
	mu sync.Mutex
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last-activity time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity())
}

// Age returns the session's total lifetime.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// ScrapeCount returns the number of scrapes run on this session.
func (s *Session) ScrapeCount() int64 {
	return s.scrapeCount.Load()
}

// BeginScrape takes the session's scrape lock and bumps counters.
// Callers must pair it with EndScrape.
func (s *Session) BeginScrape() {
	s.mu.Lock()
	s.Touch()
	s.scrapeCount.Add(1)
}

// EndScrape releases the scrape lock.
func (s *Session) EndScrape() {
	s.Touch()
	s.mu.Unlock()
}

// Manager is the per-user session pool. It enforces the concurrent session
// cap, reuses live sessions, and sweeps out expired ones in the background.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg     *config.Config
	browser *browser.Browser

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts the eviction sweeper.
func NewManager(cfg *config.Config, b *browser.Browser) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		browser:  b,
		stopCh:   make(chan struct{}),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sweepLoop()
	}()

	log.Info().
		Int("max_sessions", cfg.MaxSessions).
		Dur("idle_timeout", cfg.SessionIdleTimeout).
		Dur("max_age", cfg.SessionMaxAge).
		Dur("sweep_interval", cfg.SessionCleanupInterval).
		Msg("Session manager initialized")

	return m
}

// Acquire returns the user's existing session, or creates one. When the
// pool is full it first evicts expired sessions to free a slot; only if
// none can be freed does it reject with a pool-exhausted error.
func (m *Manager) Acquire(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, types.ErrUserRequired
	}
	if m.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	m.mu.Lock()
	if sess, ok := m.sessions[userID]; ok {
		sess.Touch()
		m.mu.Unlock()
		log.Debug().Str("user_id", userID).Msg("Reusing existing session")
		return sess, nil
	}

	var evicted []*Session
	if len(m.sessions) >= m.cfg.MaxSessions {
		evicted = m.collectExpiredLocked(time.Now())
		if len(m.sessions) >= m.cfg.MaxSessions {
			m.mu.Unlock()
			m.closeSessions(evicted, "expired")
			log.Warn().
				Str("user_id", userID).
				Int("max_sessions", m.cfg.MaxSessions).
				Msg("Session pool exhausted")
			return nil, types.NewPoolExhaustedError(userID, m.cfg.MaxSessions)
		}
	}
	m.mu.Unlock()

	// Close evicted sessions outside the lock before the slow create.
	m.closeSessions(evicted, "expired")

	uc, err := m.browser.NewUserContext(ctx)
	if err != nil {
		return nil, types.NewSessionCreateError(userID, err)
	}

	now := time.Now()
	sess := &Session{
		UserID:    userID,
		Context:   uc,
		CreatedAt: now,
	}
	sess.lastActivity.Store(now.UnixNano())

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		_ = uc.Close()
		return nil, types.ErrPoolClosed
	}
	// Another request for the same user may have won the race.
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		_ = uc.Close()
		existing.Touch()
		return existing, nil
	}
	// Re-check the cap: slots can fill while we were creating.
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = uc.Close()
		return nil, types.NewPoolExhaustedError(userID, m.cfg.MaxSessions)
	}
	m.sessions[userID] = sess
	total := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordSessionCreated()
	metrics.SetActiveSessions(total)

	log.Info().
		Str("user_id", userID).
		Int("total_sessions", total).
		Msg("Session created")

	return sess, nil
}

// Get returns the user's session without creating one.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return sess, nil
}

// Destroy closes and removes the user's session.
func (m *Manager) Destroy(userID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return types.ErrSessionNotFound
	}

	if err := sess.Context.Close(); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Error closing session context")
	}
	metrics.RecordSessionEvicted("released")
	metrics.SetActiveSessions(total)

	log.Info().
		Str("user_id", userID).
		Dur("lifetime", sess.Age()).
		Int64("scrape_count", sess.ScrapeCount()).
		Msg("Session destroyed")
	return nil
}

// Reset replaces the user's page with a fresh one, keeping the session
// and its cookies.
func (m *Manager) Reset(userID string) error {
	sess, err := m.Get(userID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.Context.ResetPage(); err != nil {
		return err
	}
	sess.Touch()
	log.Info().Str("user_id", userID).Msg("Session page reset")
	return nil
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Info is a point-in-time description of one session.
type Info struct {
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IdleMinutes  float64   `json:"idle_minutes"`
	AgeMinutes   float64   `json:"age_minutes"`
	ScrapeCount  int64     `json:"scrape_count"`
}

// PoolInfo describes the whole pool.
type PoolInfo struct {
	ActiveSessions     int             `json:"active_sessions"`
	MaxSessions        int             `json:"max_sessions"`
	AvailableSlots     int             `json:"available_slots"`
	IdleTimeoutMinutes float64         `json:"idle_timeout_minutes"`
	Sessions           map[string]Info `json:"sessions"`
}

// Stats returns a snapshot of the pool. User IDs are truncated in the
// per-session map so the response can be logged safely.
func (m *Manager) Stats() PoolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := PoolInfo{
		ActiveSessions:     len(m.sessions),
		MaxSessions:        m.cfg.MaxSessions,
		AvailableSlots:     m.cfg.MaxSessions - len(m.sessions),
		IdleTimeoutMinutes: m.cfg.SessionIdleTimeout.Minutes(),
		Sessions:           make(map[string]Info, len(m.sessions)),
	}
	for userID, sess := range m.sessions {
		info.Sessions[truncateID(userID)] = Info{
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity(),
			IdleMinutes:  sess.IdleFor().Minutes(),
			AgeMinutes:   sess.Age().Minutes(),
			ScrapeCount:  sess.ScrapeCount(),
		}
	}
	return info
}

// sweepLoop periodically evicts expired sessions.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep removes expired sessions: collect under lock, close outside it.
func (m *Manager) sweep() {
	m.mu.Lock()
	expired := m.collectExpiredLocked(time.Now())
	remaining := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	m.closeSessions(expired, "expired")
	metrics.SetActiveSessions(remaining)

	log.Debug().
		Int("evicted", len(expired)).
		Int("remaining", remaining).
		Msg("Session sweep completed")
}

// collectExpiredLocked removes idle or over-age sessions from the map and
// returns them for closing. Caller holds m.mu.
func (m *Manager) collectExpiredLocked(now time.Time) []*Session {
	var expired []*Session
	for userID, sess := range m.sessions {
		idle := now.Sub(sess.LastActivity())
		age := now.Sub(sess.CreatedAt)
		if idle > m.cfg.SessionIdleTimeout || age > m.cfg.SessionMaxAge {
			expired = append(expired, sess)
			delete(m.sessions, userID)
			log.Info().
				Str("user_id", sess.UserID).
				Dur("idle", idle).
				Dur("age", age).
				Msg("Session expired")
		}
	}
	return expired
}

// closeSessions closes contexts in parallel with a concurrency cap.
func (m *Manager) closeSessions(sessions []*Session, reason string) {
	if len(sessions) == 0 {
		return
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)

	for _, sess := range sessions {
		s := sess
		eg.Go(func() error {
			if err := s.Context.Close(); err != nil {
				log.Debug().Err(err).Str("user_id", s.UserID).Msg("Error closing session context")
			}
			metrics.RecordSessionEvicted(reason)
			return nil
		})
	}
	_ = eg.Wait()
}

// Close shuts down the manager and all sessions.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.closeSessions(sessions, "shutdown")
	metrics.SetActiveSessions(0)

	log.Info().Int("closed", len(sessions)).Msg("Session manager closed")
	return nil
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
