package taskconfig

import (
	"fmt"
	"net/url"
	"strings"
)

// Violation describes a single failed constraint.
type Violation struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationError aggregates every constraint violated by a submission, not
// just the first one found.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "task configuration validation failed"
	}
	var sb strings.Builder
	sb.WriteString("task configuration validation failed:")
	for _, v := range e.Violations {
		sb.WriteString("\n  ")
		sb.WriteString(v.Field)
		sb.WriteString(": ")
		sb.WriteString(v.Message)
	}
	return sb.String()
}

type validator struct {
	violations []Violation
}

func (v *validator) addf(field, value, format string, args ...interface{}) {
	v.violations = append(v.violations, Violation{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) checkRange(field string, value, min, max int) {
	if value < min || value > max {
		v.addf(field, fmt.Sprintf("%d", value), "must be between %d and %d", min, max)
	}
}

// validate range-checks a decoded config, resolves type-dependent attribute
// defaults, and returns a *ValidationError when anything is out of policy.
func validate(cfg *TaskConfig) error {
	v := &validator{}

	v.validateURL(cfg.URL)
	v.validateFields(cfg)
	v.validatePagination(&cfg.Pagination)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateProxy(&cfg.Proxy)
	v.validateBrowser(&cfg.Browser)
	v.validateWaitConditions(cfg.WaitConditions)
	v.validateHeaders(cfg.CustomHeaders)
	v.checkRange("max_retries", cfg.MaxRetries, 0, 10)
	v.checkRange("retry_delay", cfg.RetryDelay, 1000, 30000)

	if len(v.violations) > 0 {
		return &ValidationError{Violations: v.violations}
	}
	return nil
}

func (v *validator) validateURL(raw string) {
	if raw == "" {
		v.addf("url", "", "target URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addf("url", raw, "invalid URL: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addf("url", raw, "URL scheme must be http or https")
	}
	if u.Host == "" {
		v.addf("url", raw, "URL must be absolute and include a hostname")
	}
}

func (v *validator) validateFields(cfg *TaskConfig) {
	if len(cfg.Fields) == 0 {
		v.addf("fields", "", "at least one field must be configured")
		return
	}
	if len(cfg.Fields) > 50 {
		v.addf("fields", fmt.Sprintf("%d", len(cfg.Fields)), "at most 50 fields are allowed")
	}

	seen := make(map[string]bool, len(cfg.Fields))
	for i := range cfg.Fields {
		f := &cfg.Fields[i]
		prefix := fmt.Sprintf("fields[%d]", i)

		if f.Name == "" {
			v.addf(prefix+".name", "", "field name is required")
		} else if len(f.Name) > 100 {
			v.addf(prefix+".name", f.Name, "field name exceeds 100 characters")
		}
		if seen[f.Name] {
			v.addf(prefix+".name", f.Name, "duplicate field name")
		}
		seen[f.Name] = true

		if strings.TrimSpace(f.Selector) == "" {
			v.addf(prefix+".selector", "", "CSS selector is required")
		}

		switch f.Type {
		case FieldTypeText:
		case FieldTypeAttribute:
			if f.Attribute == "" {
				v.addf(prefix+".attribute", "", "attribute name is required for type %q", f.Type)
			}
		case FieldTypeLink:
			if f.Attribute == "" {
				f.Attribute = "href"
			}
		case FieldTypeImage:
			if f.Attribute == "" {
				f.Attribute = "src"
			}
		default:
			v.addf(prefix+".type", string(f.Type), "unsupported field type")
		}
	}
}

func (v *validator) validatePagination(p *PaginationSpec) {
	if p.Enabled && strings.TrimSpace(p.NextSelector) == "" {
		v.addf("pagination.next_selector", "", "next_selector is required when pagination is enabled")
	}
	v.checkRange("pagination.max_pages", p.MaxPages, 1, 100)
	v.checkRange("pagination.wait_after_click", p.WaitAfterClick, 500, 10000)
}

func (v *validator) validateRateLimit(r *RateLimitSpec) {
	v.checkRange("rate_limit.requests_per_minute", r.RequestsPerMinute, 1, 120)
	v.checkRange("rate_limit.delay_between_requests", r.DelayBetweenRequests, 100, 10000)
	v.checkRange("rate_limit.max_random_delay", r.MaxRandomDelay, 0, 5000)
}

func (v *validator) validateProxy(p *ProxySpec) {
	v.checkRange("proxy.max_failures", p.MaxFailures, 1, 10)
	if p.Country != "" && len(p.Country) != 2 {
		v.addf("proxy.country", p.Country, "country must be a two-letter ISO code")
	}
}

func (v *validator) validateBrowser(b *BrowserSpec) {
	v.checkRange("browser.viewport_width", b.ViewportWidth, 800, 3840)
	v.checkRange("browser.viewport_height", b.ViewportHeight, 600, 2160)
	v.checkRange("browser.timeout", b.Timeout, 5000, 120000)
}

func (v *validator) validateWaitConditions(conds []WaitCondition) {
	if len(conds) > 10 {
		v.addf("wait_conditions", fmt.Sprintf("%d", len(conds)), "at most 10 wait conditions are allowed")
	}
	for i, c := range conds {
		prefix := fmt.Sprintf("wait_conditions[%d]", i)
		switch c.Type {
		case WaitElement:
			if strings.TrimSpace(c.Selector) == "" {
				v.addf(prefix+".selector", "", "selector is required for element waits")
			}
		case WaitTimeout, WaitNetwork:
		default:
			v.addf(prefix+".type", string(c.Type), "unsupported wait condition type")
		}
		v.checkRange(prefix+".timeout", c.Timeout, 1000, 60000)
	}
}

func (v *validator) validateHeaders(headers map[string]string) {
	if len(headers) > 20 {
		v.addf("custom_headers", fmt.Sprintf("%d", len(headers)), "at most 20 custom headers are allowed")
	}
	for key, value := range headers {
		if len(key) > 100 || len(value) > 500 {
			v.addf("custom_headers."+key, "", "header key/value too long")
		}
	}
}
