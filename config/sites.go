package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// SiteConfig describes one aggregation target: which providers to fetch,
// and how the scheduler picks the job date for it.
type SiteConfig struct {
	SiteId          string            `json:"site_id"`
	DateStrategy    string            `json:"date_strategy"` // today, yesterday, custom
	CustomDate      string            `json:"custom_date,omitempty"`
	Enabled         bool              `json:"enabled"`
	IntervalMinutes int               `json:"interval_minutes,omitempty"`
	Providers       map[string]string `json:"providers"`
	Description     string            `json:"description,omitempty"`
}

const (
	DateStrategyToday     = "today"
	DateStrategyYesterday = "yesterday"
	DateStrategyCustom    = "custom"
)

const DefaultScheduleInterval = 60 * time.Minute

func defaultSitesConfig() []SiteConfig {
	return []SiteConfig{
		{
			SiteId:       "news",
			DateStrategy: DateStrategyToday,
			Enabled:      true,
			Providers: map[string]string{
				"site_a": "http://a.com",
				"site_b": "http://b.com",
			},
			Description: "fetch today's data every hour",
		},
	}
}

// GetSitesConfig loads the site topology from SITES_CONFIG_FILE, falling
// back to the built-in default when the file is missing or unreadable.
func GetSitesConfig() []SiteConfig {
	path := strings.TrimSpace(os.Getenv("SITES_CONFIG_FILE"))
	if path == "" {
		return defaultSitesConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to read site config %s: %v; using defaults", path, err)
		return defaultSitesConfig()
	}

	var configs []SiteConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		log.Printf("failed to parse site config %s: %v; using defaults", path, err)
		return defaultSitesConfig()
	}
	return configs
}

// GetProviderURLs returns the provider map for an enabled site.
// The second return is false for unknown or disabled sites.
func GetProviderURLs(siteId string) (map[string]string, bool) {
	for _, cfg := range GetSitesConfig() {
		if !cfg.Enabled {
			continue
		}
		if cfg.SiteId == siteId {
			return cfg.Providers, true
		}
	}
	return nil, false
}

// ScheduleInterval returns the per-site trigger cadence.
func (c SiteConfig) ScheduleInterval() time.Duration {
	if c.IntervalMinutes > 0 {
		return time.Duration(c.IntervalMinutes) * time.Minute
	}
	return DefaultScheduleInterval
}
