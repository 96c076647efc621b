// Package proxy maintains the pool of upstream proxy endpoints, keeps their
// health state current, and serves load-balanced endpoints to task attempts.
package proxy

import (
	"fmt"
	"net/url"
	"time"
)

// Endpoint is a single proxy endpoint together with its observed state.
// All mutable fields are owned by the Pool and must only be touched while
// holding its lock.
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`

	Healthy      bool          `json:"healthy"`
	FailureCount int           `json:"failure_count"`
	LastChecked  time.Time     `json:"last_checked"`
	ResponseTime time.Duration `json:"response_time"`
	LastUsed     time.Time     `json:"last_used"`
}

// ID identifies an endpoint across refreshes.
func (e *Endpoint) ID() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ServerURL returns the proxy address without credentials, the form the
// browser launch options take.
func (e *Endpoint) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// URL returns the full proxy URL including credentials, for HTTP transports.
func (e *Endpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Stats is the pool's monitoring surface.
type Stats struct {
	TotalProxies    int       `json:"total_proxies"`
	HealthyProxies  int       `json:"healthy_proxies"`
	TotalRequests   int64     `json:"total_requests"`
	FailedRequests  int64     `json:"failed_requests"`
	ProxySwitches   int64     `json:"proxy_switches"`
	LastRefresh     time.Time `json:"last_refresh"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// GetOptions narrows endpoint selection.
type GetOptions struct {
	// Country filters to endpoints in the given ISO country code. When no
	// healthy endpoint matches, Get returns nil rather than falling back to
	// the unfiltered set.
	Country string
	// Sticky returns the previously served endpoint again while it remains
	// healthy, for multi-request session affinity.
	Sticky bool
}
