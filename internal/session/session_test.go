package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.MaxSessions = 3
	cfg.SessionIdleTimeout = 30 * time.Minute
	cfg.SessionMaxAge = 120 * time.Minute
	cfg.SessionCleanupInterval = time.Minute
	return cfg
}

// insertSession puts a bare session into the pool without a browser.
func insertSession(m *Manager, userID string, createdAt, lastActivity time.Time) *Session {
	sess := &Session{
		UserID:    userID,
		CreatedAt: createdAt,
	}
	sess.lastActivity.Store(lastActivity.UnixNano())
	m.mu.Lock()
	m.sessions[userID] = sess
	m.mu.Unlock()
	return sess
}

func TestAcquireRequiresUser(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	_, err := m.Acquire(context.Background(), "")
	if !errors.Is(err, types.ErrUserRequired) {
		t.Errorf("Acquire(\"\") error = %v, want ErrUserRequired", err)
	}
}

func TestAcquireReusesExistingSession(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	now := time.Now()
	sess := insertSession(m, "user-1", now, now)

	got, err := m.Acquire(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if got != sess {
		t.Error("Acquire did not return the existing session")
	}
}

func TestAcquirePoolExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	m := NewManager(cfg, nil)
	defer m.Close()

	now := time.Now()
	insertSession(m, "user-1", now, now)
	insertSession(m, "user-2", now, now)

	_, err := m.Acquire(context.Background(), "user-3")
	if !errors.Is(err, types.ErrPoolExhausted) {
		t.Fatalf("Acquire error = %v, want ErrPoolExhausted", err)
	}

	var poolErr *types.PoolError
	if !errors.As(err, &poolErr) {
		t.Fatal("error is not a *types.PoolError")
	}
	if poolErr.UserID != "user-3" {
		t.Errorf("PoolError.UserID = %q, want user-3", poolErr.UserID)
	}
}

func TestCollectExpired(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	now := time.Now()

	tests := []struct {
		name         string
		createdAt    time.Time
		lastActivity time.Time
		wantEvicted  bool
	}{
		{"fresh", now.Add(-5 * time.Minute), now.Add(-1 * time.Minute), false},
		{"idle_expired", now.Add(-60 * time.Minute), now.Add(-31 * time.Minute), true},
		{"age_expired", now.Add(-121 * time.Minute), now.Add(-1 * time.Minute), true},
		{"near_boundary", now.Add(-119 * time.Minute), now.Add(-29 * time.Minute), false},
	}

	for _, tt := range tests {
		insertSession(m, tt.name, tt.createdAt, tt.lastActivity)
	}

	m.mu.Lock()
	evicted := m.collectExpiredLocked(now)
	m.mu.Unlock()

	evictedSet := make(map[string]bool)
	for _, sess := range evicted {
		evictedSet[sess.UserID] = true
	}

	for _, tt := range tests {
		if evictedSet[tt.name] != tt.wantEvicted {
			t.Errorf("%s: evicted = %v, want %v", tt.name, evictedSet[tt.name], tt.wantEvicted)
		}
	}
}

func TestAcquireEvictsExpiredBeforeRejecting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	m := NewManager(cfg, nil)
	defer m.Close()

	now := time.Now()
	insertSession(m, "stale", now.Add(-40*time.Minute), now.Add(-31*time.Minute))

	m.mu.Lock()
	evicted := m.collectExpiredLocked(now)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if len(evicted) != 1 {
		t.Fatalf("evicted %d sessions, want 1", len(evicted))
	}
	if remaining != 0 {
		t.Errorf("%d sessions remaining, want 0", remaining)
	}
}

func TestDestroy(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	now := time.Now()
	insertSession(m, "user-1", now, now)

	if err := m.Destroy("user-1"); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d after destroy, want 0", m.Count())
	}

	if err := m.Destroy("user-1"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("second Destroy error = %v, want ErrSessionNotFound", err)
	}
}

func TestGetMissing(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.Close()

	if _, err := m.Get("nobody"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Get error = %v, want ErrSessionNotFound", err)
	}
}

func TestStats(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 5
	m := NewManager(cfg, nil)
	defer m.Close()

	now := time.Now()
	sess := insertSession(m, "a-very-long-user-identifier", now.Add(-10*time.Minute), now.Add(-2*time.Minute))
	sess.scrapeCount.Store(3)

	info := m.Stats()
	if info.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", info.ActiveSessions)
	}
	if info.AvailableSlots != 4 {
		t.Errorf("AvailableSlots = %d, want 4", info.AvailableSlots)
	}
	if info.IdleTimeoutMinutes != 30 {
		t.Errorf("IdleTimeoutMinutes = %v, want 30", info.IdleTimeoutMinutes)
	}

	entry, ok := info.Sessions["a-very-l..."]
	if !ok {
		t.Fatalf("truncated session key missing, got keys %v", info.Sessions)
	}
	if entry.ScrapeCount != 3 {
		t.Errorf("ScrapeCount = %d, want 3", entry.ScrapeCount)
	}
	if entry.IdleMinutes < 1.9 || entry.IdleMinutes > 2.5 {
		t.Errorf("IdleMinutes = %v, want ~2", entry.IdleMinutes)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	m := NewManager(testConfig(), nil)
	m.Close()

	_, err := m.Acquire(context.Background(), "user-1")
	if !errors.Is(err, types.ErrPoolClosed) {
		t.Errorf("Acquire after close error = %v, want ErrPoolClosed", err)
	}
}

func TestSessionTouch(t *testing.T) {
	sess := &Session{UserID: "u", CreatedAt: time.Now()}
	sess.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	if sess.IdleFor() < 59*time.Minute {
		t.Fatal("expected session to start idle")
	}
	sess.Touch()
	if sess.IdleFor() > time.Minute {
		t.Error("Touch did not refresh last activity")
	}
}
