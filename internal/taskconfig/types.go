// Package taskconfig defines the typed scraping task configuration and the
// strict validation that turns an untrusted submission into one.
package taskconfig

// FieldType enumerates the supported field extraction types.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeAttribute FieldType = "attribute"
	FieldTypeLink      FieldType = "link"
	FieldTypeImage     FieldType = "image"
)

// WaitType enumerates the supported wait condition types.
type WaitType string

const (
	WaitElement WaitType = "element"
	WaitTimeout WaitType = "timeout"
	WaitNetwork WaitType = "network"
)

// FieldSpec configures extraction of a single named field.
type FieldSpec struct {
	Name         string    `json:"name" yaml:"name"`
	Type         FieldType `json:"type" yaml:"type"`
	Selector     string    `json:"selector" yaml:"selector"`
	Attribute    string    `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Multiple     bool      `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	Required     bool      `json:"required" yaml:"required"`
	DefaultValue string    `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

// WaitCondition configures a wait applied after navigation.
type WaitCondition struct {
	Type     WaitType `json:"type" yaml:"type"`
	Selector string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	// Timeout is in milliseconds. For WaitTimeout it is the sleep duration,
	// for the other types the wait bound.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PaginationSpec configures next-button pagination.
type PaginationSpec struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	NextSelector   string `json:"next_selector,omitempty" yaml:"next_selector,omitempty"`
	MaxPages       int    `json:"max_pages" yaml:"max_pages"`
	WaitAfterClick int    `json:"wait_after_click" yaml:"wait_after_click"`
	StopCondition  string `json:"stop_condition,omitempty" yaml:"stop_condition,omitempty"`
}

// RateLimitSpec configures the delay applied between page requests.
type RateLimitSpec struct {
	RequestsPerMinute    int  `json:"requests_per_minute" yaml:"requests_per_minute"`
	DelayBetweenRequests int  `json:"delay_between_requests" yaml:"delay_between_requests"`
	RandomDelay          bool `json:"random_delay" yaml:"random_delay"`
	MaxRandomDelay       int  `json:"max_random_delay" yaml:"max_random_delay"`
}

// ProxySpec configures proxy usage for a task.
type ProxySpec struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Country       string `json:"country,omitempty" yaml:"country,omitempty"`
	StickySession bool   `json:"sticky_session" yaml:"sticky_session"`
	// MaxFailures is accepted for compatibility but not consulted: the pool
	// evicts a serving proxy on the first observed failure.
	MaxFailures int `json:"max_failures" yaml:"max_failures"`
}

// BrowserSpec configures the browser session.
type BrowserSpec struct {
	Headless          bool   `json:"headless" yaml:"headless"`
	UserAgent         string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	ViewportWidth     int    `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int    `json:"viewport_height" yaml:"viewport_height"`
	JavaScriptEnabled bool   `json:"javascript_enabled" yaml:"javascript_enabled"`
	LoadImages        bool   `json:"load_images" yaml:"load_images"`
	Timeout           int    `json:"timeout" yaml:"timeout"`
}

// TaskConfig is a fully validated scraping task definition. It is immutable
// once produced by Parse and is consumed by the orchestrator for the task's
// whole lifetime, retries included.
type TaskConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Fields         []FieldSpec       `json:"fields" yaml:"fields"`
	Pagination     PaginationSpec    `json:"pagination" yaml:"pagination"`
	RateLimit      RateLimitSpec     `json:"rate_limit" yaml:"rate_limit"`
	Proxy          ProxySpec         `json:"proxy" yaml:"proxy"`
	Browser        BrowserSpec       `json:"browser" yaml:"browser"`
	WaitConditions []WaitCondition   `json:"wait_conditions,omitempty" yaml:"wait_conditions,omitempty"`
	CustomHeaders  map[string]string `json:"custom_headers,omitempty" yaml:"custom_headers,omitempty"`
	Cookies        map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	LoginRequired  bool              `json:"login_required" yaml:"login_required"`
	MaxRetries     int               `json:"max_retries" yaml:"max_retries"`
	RetryDelay     int               `json:"retry_delay" yaml:"retry_delay"`
}

// defaultConfig returns a TaskConfig pre-populated with schema defaults.
// Submitted values decode over it.
func defaultConfig() TaskConfig {
	return TaskConfig{
		Pagination: PaginationSpec{
			Enabled:        false,
			MaxPages:       10,
			WaitAfterClick: 2000,
		},
		RateLimit: RateLimitSpec{
			RequestsPerMinute:    30,
			DelayBetweenRequests: 1000,
			RandomDelay:          true,
			MaxRandomDelay:       2000,
		},
		Proxy: ProxySpec{
			MaxFailures: 3,
		},
		Browser: BrowserSpec{
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			JavaScriptEnabled: true,
			LoadImages:        false,
			Timeout:           30000,
		},
		MaxRetries: 3,
		RetryDelay: 5000,
	}
}
