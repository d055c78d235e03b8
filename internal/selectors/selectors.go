// Package selectors provides the CSS selector chains used to pull business
// fields off Google Maps pages. Chains are ordered by stability: attribute
// selectors first, generated class names as fallbacks. An external YAML file
// can override the embedded defaults, with optional hot-reload.
package selectors

import (
	"embed"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors holds the selector chains for every extracted field.
type Selectors struct {
	Feed      string   `yaml:"feed"`
	CardLinks []string `yaml:"card_links"`
	Consent   []string `yaml:"consent"`
	Name      []string `yaml:"name"`
	Address   []string `yaml:"address"`
	Phone     []string `yaml:"phone"`
	Website   []string `yaml:"website"`
	Category  []string `yaml:"category"`
	Rating    []string `yaml:"rating"`
	Reviews   []string `yaml:"reviews"`
	Hours     []string `yaml:"hours"`
	Photo     []string `yaml:"photo"`
}

var (
	instance *Selectors
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Selectors instance.
func Get() *Selectors {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded selectors, using defaults")
			instance = defaultSelectors()
		}
	})
	return instance
}

// load reads selectors from the embedded YAML file.
func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	log.Debug().
		Int("name_selectors", len(s.Name)).
		Int("address_selectors", len(s.Address)).
		Str("feed", s.Feed).
		Msg("Selectors loaded")

	return &s, nil
}

// defaultSelectors returns hardcoded fallback chains, kept in sync with
// the embedded YAML.
func defaultSelectors() *Selectors {
	return &Selectors{
		Feed:      `div[role="feed"]`,
		CardLinks: []string{`a[href*="/maps/place/"]`},
		Consent: []string{
			`button[aria-label*="Accept all"]`,
			`button[aria-label*="Reject all"]`,
			`form[action*="consent"] button`,
		},
		Name: []string{
			`div[role="main"] h1`,
			`h1[aria-label]`,
			`*[data-item-id*="title"]`,
			`h1.DUwDvf.lfPIob`,
			`h1.DUwDvf`,
		},
		Address: []string{
			`button[data-item-id="address"]`,
			`*[data-item-id*="address"]`,
		},
		Phone: []string{
			`button[data-item-id*="phone"]`,
			`*[data-item-id*="phone:tel"]`,
		},
		Website: []string{
			`a[data-item-id="authority"]`,
			`a[aria-label*="Website"]`,
		},
		Category: []string{
			`button[jsaction*="category"]`,
			`span.DkEaL`,
		},
		Rating: []string{
			`div.F7nice span[aria-hidden="true"]`,
			`span.ceNzKf[aria-label]`,
		},
		Reviews: []string{
			`div.F7nice span[aria-label*="review"]`,
			`button[aria-label*="review"]`,
		},
		Hours: []string{
			`div[aria-label*="hour"]`,
			`*[data-item-id="oh"]`,
		},
		Photo: []string{
			`button[jsaction*="hero"] img`,
			`div[role="main"] img[decoding="async"]`,
		},
	}
}
