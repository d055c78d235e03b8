package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/config"
)

// maintenanceTimeout bounds one cleanup run.
const maintenanceTimeout = 5 * time.Minute

// Maintenance runs scheduled database cleanup: expired cursors and scrape
// sessions past the retention window.
type Maintenance struct {
	cron      *cron.Cron
	history   *History
	cursors   *CursorManager
	retention time.Duration
	schedule  string
}

// NewMaintenance creates the maintenance scheduler from config.
func NewMaintenance(cfg *config.Config, history *History, cursors *CursorManager) *Maintenance {
	return &Maintenance{
		cron:      cron.New(),
		history:   history,
		cursors:   cursors,
		retention: cfg.SessionRetention,
		schedule:  cfg.CleanupSchedule,
	}
}

// Start registers the cleanup job and starts the scheduler.
func (m *Maintenance) Start() error {
	_, err := m.cron.AddFunc(m.schedule, m.run)
	if err != nil {
		return err
	}
	m.cron.Start()
	log.Info().Str("schedule", m.schedule).Msg("Database maintenance scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// RunNow triggers one cleanup pass outside the schedule.
func (m *Maintenance) RunNow() {
	m.run()
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	start := time.Now()

	cursorsDeleted, err := m.cursors.CleanupExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cursor cleanup failed")
	}

	sessionsDeleted, err := m.history.CleanupOldSessions(ctx, m.retention)
	if err != nil {
		log.Error().Err(err).Msg("Session cleanup failed")
	}

	log.Info().
		Int64("cursors_deleted", cursorsDeleted).
		Int64("sessions_deleted", sessionsDeleted).
		Dur("duration", time.Since(start)).
		Msg("Database maintenance completed")
}
