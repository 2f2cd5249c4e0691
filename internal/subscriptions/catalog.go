package subscriptions

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Platform ids used for connections and OAuth.
const (
	PlatformSpotify      = "spotify"
	PlatformYouTubeMusic = "youtube_music"
)

// Tier is a subscription level.
type Tier struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Price         float64  `yaml:"price"`
	BillingCycle  string   `yaml:"billing_cycle"`
	PlatformLimit int      `yaml:"platform_limit"`
	Features      []string `yaml:"features"`
	Popular       bool     `yaml:"popular"`
}

// Platform describes an external music service a user may connect.
type Platform struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Color        string   `yaml:"color"`
	Features     []string `yaml:"features"`
	Available    bool     `yaml:"available"`
	RequiresAuth bool     `yaml:"requires_auth"`
}

// Catalog is the static list of tiers and platforms.
type Catalog struct {
	Tiers     []Tier     `yaml:"tiers"`
	Platforms []Platform `yaml:"platforms"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogErr  error
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(catalogYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// ParseCatalog decodes a catalog document. The first tier is the free tier.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse subscription catalog: %w", err)
	}
	if len(catalog.Tiers) == 0 {
		return nil, fmt.Errorf("subscription catalog has no tiers")
	}
	for _, tier := range catalog.Tiers {
		if tier.ID == "" || tier.PlatformLimit <= 0 {
			return nil, fmt.Errorf("subscription tier %q is incomplete", tier.ID)
		}
	}
	return &catalog, nil
}

// FreeTier returns the default tier.
func (c *Catalog) FreeTier() Tier {
	return c.Tiers[0]
}

// TierByID returns the tier with id.
func (c *Catalog) TierByID(id string) (Tier, bool) {
	for _, tier := range c.Tiers {
		if tier.ID == id {
			return tier, true
		}
	}
	return Tier{}, false
}

// PlatformByID returns the platform with id.
func (c *Catalog) PlatformByID(id string) (Platform, bool) {
	for _, platform := range c.Platforms {
		if platform.ID == id {
			return platform, true
		}
	}
	return Platform{}, false
}

// AvailablePlatforms returns platforms that can be connected today.
func (c *Catalog) AvailablePlatforms() []Platform {
	result := make([]Platform, 0, len(c.Platforms))
	for _, platform := range c.Platforms {
		if platform.Available {
			result = append(result, platform)
		}
	}
	return result
}
