// Package settings loads worker configuration from the environment. Every
// variable carries the HARVESTER_ prefix and has a workable default, so a
// bare worker starts with nothing but a proxy API key.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings is the worker's process-level configuration, distinct from the
// per-task configuration submitted with each task.
type Settings struct {
	// ProxyAPIKey authenticates against the proxy provider. Empty disables
	// the proxy pool entirely.
	ProxyAPIKey string
	// ProxyAPIURL is the provider's API base URL.
	ProxyAPIURL string
	// CountryPreference restricts the fetched inventory to one country.
	CountryPreference string
	// HealthCheckInterval is the period of the pool's background probe loop.
	HealthCheckInterval time.Duration

	// ResultsDir is where task result files are written.
	ResultsDir string
	// ResultsIndexPath is the SQLite result index. Empty disables indexing.
	ResultsIndexPath string
	// ResultRetention is how long result files are kept before pruning.
	ResultRetention time.Duration

	// MetricsAddr is the monitoring server's listen address.
	MetricsAddr string
	// LogLevel is the zerolog level name.
	LogLevel string
}

// Load reads settings from the environment.
func Load() (*Settings, error) {
	s := &Settings{
		ProxyAPIKey:       os.Getenv("HARVESTER_PROXY_API_KEY"),
		ProxyAPIURL:       envString("HARVESTER_PROXY_API_URL", "https://proxy.webshare.io/api/v2"),
		CountryPreference: os.Getenv("HARVESTER_COUNTRY_PREFERENCE"),
		ResultsDir:        envString("HARVESTER_RESULTS_DIR", "results"),
		MetricsAddr:       envString("HARVESTER_METRICS_ADDR", ":9090"),
		LogLevel:          envString("HARVESTER_LOG_LEVEL", "info"),
	}

	var err error
	if s.HealthCheckInterval, err = envDuration("HARVESTER_HEALTH_CHECK_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if s.ResultRetention, err = envDuration("HARVESTER_RESULT_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}

	s.ResultsIndexPath = envString("HARVESTER_RESULTS_INDEX", filepath.Join(s.ResultsDir, "index.db"))
	if s.ResultsIndexPath == "off" {
		s.ResultsIndexPath = ""
	}
	return s, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %q", key, v)
	}
	return d, nil
}
