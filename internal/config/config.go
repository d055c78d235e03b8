// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxMaxSessions        = 500
	maxConcurrentCards    = 16
	maxStaleScrollLimit   = 50
	maxTargetCountDefault = 500
	maxRateLimitRPM       = 10000 // Maximum requests per minute per IP
	maxBrowserTimeout     = 10 * time.Minute
)

// defaultUserAgents is the rotation pool used when USER_AGENTS is not set.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless       bool
	BrowserPath    string
	BrowserTimeout time.Duration
	UserAgents     []string

	// Session pool settings
	MaxSessions            int
	SessionIdleTimeout     time.Duration
	SessionMaxAge          time.Duration
	SessionCleanupInterval time.Duration

	// Scraper settings
	SearchURL           string
	MaxConcurrentCards  int
	StaleScrollLimit    int
	DefaultTargetCount  int
	ScrollDelayMin      time.Duration
	ScrollDelayMax      time.Duration
	CardExtractDelayMin time.Duration
	CardExtractDelayMax time.Duration
	SearchSettleMin     time.Duration
	SearchSettleMax     time.Duration

	// Cursor settings
	CursorTTL time.Duration

	// Progress settings
	ProgressTTL             time.Duration
	ProgressCleanupInterval time.Duration

	// Storage settings
	DatabaseURL      string
	SessionRetention time.Duration
	CleanupSchedule  string // cron spec for nightly maintenance

	// Logging
	LogLevel string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int      // Requests per minute per IP
	TrustProxy         bool     // Trust X-Forwarded-For headers (only enable behind a reverse proxy)
	CORSAllowedOrigins []string // Allowed CORS origins (empty = allow all with warning)

	// Selectors settings
	SelectorsPath      string // Path to external selectors.yaml override file
	SelectorsHotReload bool   // Enable file watching for hot-reload of selectors
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental exposure)
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8000),

		// Browser
		Headless:       getEnvBool("HEADLESS", true),
		BrowserPath:    getEnvString("BROWSER_PATH", ""),
		BrowserTimeout: getEnvDuration("BROWSER_TIMEOUT", 60*time.Second),
		UserAgents:     getEnvStringSlice("USER_AGENTS", defaultUserAgents),

		// Session pool
		MaxSessions:            getEnvInt("MAX_SESSIONS", 20),
		SessionIdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionMaxAge:          getEnvDuration("SESSION_MAX_AGE", 120*time.Minute),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Minute),

		// Scraper
		SearchURL:           getEnvString("SEARCH_URL", "https://www.google.com/maps/search/"),
		MaxConcurrentCards:  getEnvInt("MAX_CONCURRENT_CARDS", 4),
		StaleScrollLimit:    getEnvInt("STALE_SCROLL_LIMIT", 5),
		DefaultTargetCount:  getEnvInt("DEFAULT_TARGET_COUNT", 50),
		ScrollDelayMin:      getEnvDuration("SCROLL_DELAY_MIN", 1*time.Second),
		ScrollDelayMax:      getEnvDuration("SCROLL_DELAY_MAX", 3*time.Second),
		CardExtractDelayMin: getEnvDuration("CARD_EXTRACT_DELAY_MIN", 500*time.Millisecond),
		CardExtractDelayMax: getEnvDuration("CARD_EXTRACT_DELAY_MAX", 1500*time.Millisecond),
		SearchSettleMin:     getEnvDuration("SEARCH_SETTLE_MIN", 2*time.Second),
		SearchSettleMax:     getEnvDuration("SEARCH_SETTLE_MAX", 4*time.Second),

		// Cursors
		CursorTTL: getEnvDuration("CURSOR_TTL", 30*24*time.Hour),

		// Progress
		ProgressTTL:             getEnvDuration("PROGRESS_TTL", 1*time.Hour),
		ProgressCleanupInterval: getEnvDuration("PROGRESS_CLEANUP_INTERVAL", 10*time.Minute),

		// Storage
		DatabaseURL:      getEnvString("DATABASE_URL", "mapscout.db"),
		SessionRetention: getEnvDuration("SESSION_RETENTION", 90*24*time.Hour),
		CleanupSchedule:  getEnvString("CLEANUP_SCHEDULE", "0 3 * * *"),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Metrics - disabled by default
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9090),

		// Security
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		// Selectors
		SelectorsPath:      getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("SELECTORS_HOT_RELOAD", false),
	}
}

// IsPostgres reports whether DatabaseURL points at a PostgreSQL server
// rather than a SQLite file.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8000")
		c.Port = 8000
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") && !strings.HasPrefix(c.BrowserPath, "C:") && !strings.HasPrefix(c.BrowserPath, "c:") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	// Browser timeout validation (minimum 5 seconds)
	if c.BrowserTimeout < 5*time.Second {
		log.Warn().Dur("timeout", c.BrowserTimeout).Msg("Browser timeout too short, using 60s")
		c.BrowserTimeout = 60 * time.Second
	} else if c.BrowserTimeout > maxBrowserTimeout {
		log.Warn().
			Dur("timeout", c.BrowserTimeout).
			Dur("max", maxBrowserTimeout).
			Msg("Browser timeout too long, capping to maximum")
		c.BrowserTimeout = maxBrowserTimeout
	}

	if len(c.UserAgents) == 0 {
		log.Warn().Msg("USER_AGENTS is empty, using built-in rotation pool")
		c.UserAgents = defaultUserAgents
	}

	// Session pool validation with upper bound
	if c.MaxSessions < 1 {
		log.Warn().Int("max", c.MaxSessions).Msg("Invalid max sessions, using 20")
		c.MaxSessions = 20
	} else if c.MaxSessions > maxMaxSessions {
		log.Warn().
			Int("sessions", c.MaxSessions).
			Int("max", maxMaxSessions).
			Msg("Max sessions too high, capping to maximum")
		c.MaxSessions = maxMaxSessions
	}

	// Idle timeout validation (minimum 1 minute, maximum 24 hours)
	const minIdleTimeout = 1 * time.Minute
	const maxIdleTimeout = 24 * time.Hour
	if c.SessionIdleTimeout < minIdleTimeout {
		log.Warn().
			Dur("timeout", c.SessionIdleTimeout).
			Dur("min", minIdleTimeout).
			Msg("Session idle timeout too short, using minimum")
		c.SessionIdleTimeout = minIdleTimeout
	} else if c.SessionIdleTimeout > maxIdleTimeout {
		log.Warn().
			Dur("timeout", c.SessionIdleTimeout).
			Dur("max", maxIdleTimeout).
			Msg("Session idle timeout too long, using maximum")
		c.SessionIdleTimeout = maxIdleTimeout
	}

	// Max age must cover at least one idle period
	if c.SessionMaxAge < c.SessionIdleTimeout {
		log.Warn().
			Dur("max_age", c.SessionMaxAge).
			Dur("idle_timeout", c.SessionIdleTimeout).
			Msg("Session max age below idle timeout, raising to idle timeout")
		c.SessionMaxAge = c.SessionIdleTimeout
	}

	// Cleanup interval validation (minimum 10 seconds, maximum 1 hour)
	const minCleanupInterval = 10 * time.Second
	const maxCleanupInterval = 1 * time.Hour
	if c.SessionCleanupInterval < minCleanupInterval {
		log.Warn().
			Dur("interval", c.SessionCleanupInterval).
			Dur("min", minCleanupInterval).
			Msg("Session cleanup interval too short, using minimum")
		c.SessionCleanupInterval = minCleanupInterval
	} else if c.SessionCleanupInterval > maxCleanupInterval {
		log.Warn().
			Dur("interval", c.SessionCleanupInterval).
			Dur("max", maxCleanupInterval).
			Msg("Session cleanup interval too long, using maximum")
		c.SessionCleanupInterval = maxCleanupInterval
	}
	if c.SessionCleanupInterval >= c.SessionIdleTimeout {
		log.Warn().
			Dur("cleanup_interval", c.SessionCleanupInterval).
			Dur("idle_timeout", c.SessionIdleTimeout).
			Msg("SESSION_CLEANUP_INTERVAL should be less than SESSION_IDLE_TIMEOUT for timely cleanup")
	}

	// Search URL must be an absolute URL
	if !strings.Contains(c.SearchURL, "://") {
		log.Warn().Str("url", c.SearchURL).Msg("Invalid SEARCH_URL, using default")
		c.SearchURL = "https://www.google.com/maps/search/"
	}

	// Concurrent extraction validation
	if c.MaxConcurrentCards < 1 {
		log.Warn().Int("cards", c.MaxConcurrentCards).Msg("Invalid concurrent cards, using 4")
		c.MaxConcurrentCards = 4
	} else if c.MaxConcurrentCards > maxConcurrentCards {
		log.Warn().
			Int("cards", c.MaxConcurrentCards).
			Int("max", maxConcurrentCards).
			Msg("Concurrent cards too high, capping to maximum")
		c.MaxConcurrentCards = maxConcurrentCards
	}

	// Stale scroll limit validation
	if c.StaleScrollLimit < 1 {
		log.Warn().Int("limit", c.StaleScrollLimit).Msg("Invalid stale scroll limit, using 5")
		c.StaleScrollLimit = 5
	} else if c.StaleScrollLimit > maxStaleScrollLimit {
		log.Warn().
			Int("limit", c.StaleScrollLimit).
			Int("max", maxStaleScrollLimit).
			Msg("Stale scroll limit too high, capping to maximum")
		c.StaleScrollLimit = maxStaleScrollLimit
	}

	// Default target count validation
	if c.DefaultTargetCount < 1 {
		log.Warn().Int("count", c.DefaultTargetCount).Msg("Invalid default target count, using 50")
		c.DefaultTargetCount = 50
	} else if c.DefaultTargetCount > maxTargetCountDefault {
		log.Warn().
			Int("count", c.DefaultTargetCount).
			Int("max", maxTargetCountDefault).
			Msg("Default target count too high, capping to maximum")
		c.DefaultTargetCount = maxTargetCountDefault
	}

	// Delay ranges: min must not exceed max
	c.validateDelayRange("SCROLL_DELAY", &c.ScrollDelayMin, &c.ScrollDelayMax)
	c.validateDelayRange("CARD_EXTRACT_DELAY", &c.CardExtractDelayMin, &c.CardExtractDelayMax)
	c.validateDelayRange("SEARCH_SETTLE", &c.SearchSettleMin, &c.SearchSettleMax)

	// Cursor TTL validation (minimum 1 hour, maximum 1 year)
	const minCursorTTL = 1 * time.Hour
	const maxCursorTTL = 365 * 24 * time.Hour
	if c.CursorTTL < minCursorTTL {
		log.Warn().
			Dur("ttl", c.CursorTTL).
			Dur("min", minCursorTTL).
			Msg("Cursor TTL too short, using minimum")
		c.CursorTTL = minCursorTTL
	} else if c.CursorTTL > maxCursorTTL {
		log.Warn().
			Dur("ttl", c.CursorTTL).
			Dur("max", maxCursorTTL).
			Msg("Cursor TTL too long, using maximum")
		c.CursorTTL = maxCursorTTL
	}

	// Progress TTL validation (minimum 1 minute)
	if c.ProgressTTL < time.Minute {
		log.Warn().Dur("ttl", c.ProgressTTL).Msg("Progress TTL too short, using 1h")
		c.ProgressTTL = time.Hour
	}
	if c.ProgressCleanupInterval < 10*time.Second {
		log.Warn().
			Dur("interval", c.ProgressCleanupInterval).
			Msg("Progress cleanup interval too short, using 10m")
		c.ProgressCleanupInterval = 10 * time.Minute
	}

	// Retention validation (minimum 1 day)
	if c.SessionRetention < 24*time.Hour {
		log.Warn().
			Dur("retention", c.SessionRetention).
			Msg("Session retention too short, using 90 days")
		c.SessionRetention = 90 * 24 * time.Hour
	}

	// Rate limit validation with upper bound
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// CORS security warning
	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - allowing all origins (potential CSRF risk)")
	}

	// Metrics port must not collide with the API port
	if c.PrometheusEnabled && c.PrometheusPort == c.Port {
		log.Error().
			Int("port", c.PrometheusPort).
			Msg("PROMETHEUS_PORT conflicts with PORT, adjusting")
		c.PrometheusPort = c.Port + 1
		if c.PrometheusPort > 65535 {
			log.Warn().Msg("Could not find available metrics port, disabling")
			c.PrometheusEnabled = false
		}
	}

	// Selectors path validation
	if c.SelectorsPath != "" {
		if strings.Contains(c.SelectorsPath, "..") {
			log.Error().
				Str("path", c.SelectorsPath).
				Msg("SelectorsPath contains path traversal sequence (..), ignoring")
			c.SelectorsPath = ""
		} else if !strings.HasPrefix(c.SelectorsPath, "/") && !strings.HasPrefix(c.SelectorsPath, "C:") && !strings.HasPrefix(c.SelectorsPath, "c:") {
			log.Warn().
				Str("path", c.SelectorsPath).
				Msg("SelectorsPath should be an absolute path")
		}
		if c.SelectorsHotReload && c.SelectorsPath != "" {
			if _, err := os.Stat(c.SelectorsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.SelectorsPath).
					Msg("SelectorsPath does not exist - hot-reload will watch for file creation")
			}
		}
	}

	// Warn if hot-reload is enabled but no path is set
	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}
}

// validateDelayRange ensures a human-delay window is positive and ordered.
func (c *Config) validateDelayRange(name string, min, max *time.Duration) {
	if *min <= 0 {
		log.Warn().Str("range", name).Dur("min", *min).Msg("Delay minimum must be positive, using 100ms")
		*min = 100 * time.Millisecond
	}
	if *max < *min {
		log.Warn().
			Str("range", name).
			Dur("min", *min).
			Dur("max", *max).
			Msg("Delay maximum below minimum, raising to minimum")
		*max = *min
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			if intValue < -2147483648 || intValue > 2147483647 {
				log.Warn().
					Str("key", key).
					Str("value", value).
					Int("default", defaultValue).
					Msg("Integer value out of range in environment variable, using default")
				return defaultValue
			}
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
