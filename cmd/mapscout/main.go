// Package main provides the entry point for the mapscout service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vantorix/mapscout/internal/browser"
	"github.com/vantorix/mapscout/internal/config"
	"github.com/vantorix/mapscout/internal/handlers"
	"github.com/vantorix/mapscout/internal/metrics"
	"github.com/vantorix/mapscout/internal/middleware"
	"github.com/vantorix/mapscout/internal/orchestrator"
	"github.com/vantorix/mapscout/internal/progress"
	"github.com/vantorix/mapscout/internal/selectors"
	"github.com/vantorix/mapscout/internal/session"
	"github.com/vantorix/mapscout/internal/store"
	"github.com/vantorix/mapscout/pkg/version"
)

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible.
	setupLogging(cfg.LogLevel)

	cfg.Validate()

	printBanner()

	// Browser
	log.Info().Msg("Launching browser...")
	b, err := browser.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to launch browser")
	}

	// Selectors (embedded defaults, optional external file with hot reload)
	sel, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load selectors")
	}

	// Persistence
	st, err := store.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	history := store.NewHistory(st)
	cursors := store.NewCursorManager(st, cfg.CursorTTL)

	maintenance := store.NewMaintenance(cfg, history, cursors)
	if err := maintenance.Start(); err != nil {
		log.Error().Err(err).Msg("Maintenance scheduler failed to start")
	}

	// In-memory scrape state
	tracker := progress.NewTracker(cfg.ProgressTTL, cfg.ProgressCleanupInterval)
	tracker.Start()

	sessionMgr := session.NewManager(cfg, b)

	orch := orchestrator.New(cfg, sessionMgr, history, cursors, tracker, sel)
	handler := handlers.New(cfg, orch, sessionMgr, history, cursors)

	// Serve /metrics on the main mux only when no dedicated metrics port is
	// configured.
	includeMetrics := cfg.PrometheusEnabled && cfg.PrometheusPort == 0
	router := handlers.NewRouter(handler, includeMetrics)

	// Middleware chain, outermost first.
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
		chain = append(chain, rateLimiter.Handler())
	}

	chain = append(chain,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
	)

	finalHandler := middleware.Chain(chain...)(router)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Synchronous scrapes and WebSocket progress streams stay open far
		// longer than any sane write timeout, so leave it unset.
		IdleTimeout: 120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		if cfg.PrometheusPort != 0 {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metrics.Handler())

			metricsServer = &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
				Handler:      metricsMux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			go func() {
				log.Info().
					Int("port", cfg.PrometheusPort).
					Msg("Prometheus metrics server started")
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("Metrics server failed")
				}
			}()
		}
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_sessions", cfg.MaxSessions).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("mapscout is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}
	maintenance.Stop()
	tracker.Stop()

	if err := sessionMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Session manager close error")
	}
	if err := sel.Close(); err != nil {
		log.Error().Err(err).Msg("Selector manager close error")
	}
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("Browser close error")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog: console output on a terminal, JSON
// otherwise, level from config.
func setupLogging(level string) {
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
                                             _
 _ __ ___   __ _ _ __  ___  ___ ___  _   _ | |_
| '_ ' _ \ / _' | '_ \/ __|/ __/ _ \| | | || __|
| | | | | | (_| | |_) \__ \ (_| (_) | |_| || |_
|_| |_| |_|\__,_| .__/|___/\___\___/ \__,_| \__|
                |_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting mapscout")
}
