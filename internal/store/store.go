package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vantorix/mapscout/internal/config"
)

// Store wraps the database handle shared by the history and cursor layers.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs migrations.
// A postgres:// DATABASE_URL selects PostgreSQL; anything else is treated
// as a SQLite file path.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&UserPlace{}, &ScrapeSession{}, &ScrapeCursor{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().
		Bool("postgres", cfg.IsPostgres()).
		Msg("Database opened and migrated")

	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory SQLite store. Used by tests.
func OpenInMemory() (*Store, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	if err := db.AutoMigrate(&UserPlace{}, &ScrapeSession{}, &ScrapeCursor{}); err != nil {
		return nil, fmt.Errorf("failed to migrate in-memory database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
