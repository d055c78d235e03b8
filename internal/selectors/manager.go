package selectors

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ReloadStats contains statistics about selector reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"last_reload_time,omitempty"`
	ReloadCount    int64     `json:"reload_count"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"last_error,omitempty"`
}

// Manager provides hot-reload capable selector management. It keeps the
// embedded defaults and optionally watches an external override file.
// Reads are lock-free via atomic.Value.
type Manager struct {
	embedded     *Selectors   // compiled-in defaults (immutable)
	current      atomic.Value // *Selectors
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // protects reload operations and stats
	stats        ReloadStats
	closed       bool
}

// NewManager creates a selectors manager. With an empty externalPath only
// the embedded chains are used. With hotReload, file changes trigger
// reloads; a broken file keeps the previous chains in place.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}

	m.current.Store(m.embedded)

	if externalPath != "" {
		if err := m.loadExternal(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to load external selectors, using embedded defaults")
		} else {
			log.Info().Str("path", externalPath).Msg("Loaded external selectors file")
		}

		if hotReload {
			if err := m.startWatcher(); err != nil {
				log.Warn().
					Err(err).
					Str("path", externalPath).
					Msg("Failed to start file watcher, hot-reload disabled")
			} else {
				log.Info().Str("path", externalPath).Msg("Hot-reload enabled for selectors file")
			}
		}
	}

	return m, nil
}

// Get returns the current Selectors. Lock-free, safe for concurrent use.
func (m *Manager) Get() *Selectors {
	return m.current.Load().(*Selectors)
}

// Reload manually reloads selectors from the external file. On failure the
// previous selectors remain in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.externalPath == "" {
		return fmt.Errorf("no external selectors path configured")
	}
	return m.loadExternalLocked()
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

// loadExternalLocked loads and swaps in the external file. Caller holds m.mu.
func (m *Manager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to read selectors file: %w", err)
	}

	sel, err := parseAndValidate(data)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("failed to parse selectors file: %w", err)
	}

	merged := m.mergeWithEmbedded(sel)
	m.current.Store(merged)

	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().
		Int64("reload_count", m.stats.ReloadCount).
		Msg("Selectors hot-reloaded successfully")

	return nil
}

func parseAndValidate(data []byte) (*Selectors, error) {
	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that an override file carries at least one usable chain.
func (s *Selectors) Validate() error {
	if s.Feed == "" && len(s.CardLinks) == 0 && len(s.Name) == 0 {
		return fmt.Errorf("selectors must define at least one of feed, card_links, or name")
	}
	return nil
}

// mergeWithEmbedded merges an override with the embedded defaults.
// Override chains take precedence per field; embedded fills the gaps.
func (m *Manager) mergeWithEmbedded(external *Selectors) *Selectors {
	merged := *m.embedded

	if external.Feed != "" {
		merged.Feed = external.Feed
	}
	if len(external.CardLinks) > 0 {
		merged.CardLinks = external.CardLinks
	}
	if len(external.Consent) > 0 {
		merged.Consent = external.Consent
	}
	if len(external.Name) > 0 {
		merged.Name = external.Name
	}
	if len(external.Address) > 0 {
		merged.Address = external.Address
	}
	if len(external.Phone) > 0 {
		merged.Phone = external.Phone
	}
	if len(external.Website) > 0 {
		merged.Website = external.Website
	}
	if len(external.Category) > 0 {
		merged.Category = external.Category
	}
	if len(external.Rating) > 0 {
		merged.Rating = external.Rating
	}
	if len(external.Reviews) > 0 {
		merged.Reviews = external.Reviews
	}
	if len(external.Hours) > 0 {
		merged.Hours = external.Hours
	}
	if len(external.Photo) > 0 {
		merged.Photo = external.Photo
	}

	return &merged
}

// startWatcher starts the fsnotify watcher for hot-reload.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()

	return nil
}

// watchFile reloads on write/create events, debounced so editors that write
// in bursts trigger a single reload.
func (m *Manager) watchFile() {
	defer m.wg.Done()

	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Selectors file changed")

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						log.Warn().
							Err(err).
							Str("path", m.externalPath).
							Msg("Hot-reload failed, keeping previous selectors")
					}
					debouncing = false
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// GetManager returns a Manager backed only by the embedded selectors.
func GetManager() *Manager {
	m := &Manager{
		embedded: Get(),
		stopCh:   make(chan struct{}),
	}
	m.current.Store(m.embedded)
	return m
}
