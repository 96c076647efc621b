package taskconfig

import (
	"errors"
	"strings"
	"testing"
)

func validSubmission() string {
	return `{
		"url": "https://example.com/products",
		"fields": [
			{"name": "title", "type": "text", "selector": "h1"},
			{"name": "link", "type": "link", "selector": "a.detail"}
		]
	}`
}

func TestParse_ValidSubmission(t *testing.T) {
	cfg, err := Parse([]byte(validSubmission()))
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}

	if cfg.URL != "https://example.com/products" {
		t.Errorf("unexpected URL: %s", cfg.URL)
	}
	if len(cfg.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(cfg.Fields))
	}

	// Schema defaults must be applied to omitted sections.
	if cfg.Browser.ViewportWidth != 1920 || cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("browser viewport defaults not applied: %dx%d",
			cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if cfg.MaxRetries != 3 || cfg.RetryDelay != 5000 {
		t.Errorf("retry defaults not applied: %d/%d", cfg.MaxRetries, cfg.RetryDelay)
	}
	if !cfg.Fields[0].Required {
		t.Errorf("fields must default to required")
	}
}

func TestParse_AttributeDefaulting(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		wantAttr string
	}{
		{
			name:     "link defaults to href",
			field:    `{"name": "f", "type": "link", "selector": "a"}`,
			wantAttr: "href",
		},
		{
			name:     "image defaults to src",
			field:    `{"name": "f", "type": "image", "selector": "img"}`,
			wantAttr: "src",
		},
		{
			name:     "explicit attribute preserved",
			field:    `{"name": "f", "type": "link", "selector": "a", "attribute": "data-url"}`,
			wantAttr: "data-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"url": "https://example.com", "fields": [` + tt.field + `]}`
			cfg, err := Parse([]byte(raw))
			if err != nil {
				t.Fatalf("Parse() returned error: %v", err)
			}
			if cfg.Fields[0].Attribute != tt.wantAttr {
				t.Errorf("attribute = %q, want %q", cfg.Fields[0].Attribute, tt.wantAttr)
			}
		})
	}
}

func TestParse_AttributeTypeRequiresAttribute(t *testing.T) {
	raw := `{"url": "https://example.com", "fields": [
		{"name": "f", "type": "attribute", "selector": "div"}
	]}`

	_, err := Parse([]byte(raw))
	assertViolation(t, err, "fields[0].attribute")
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	raw := `{"url": "https://example.com", "fields": [
		{"name": "f", "type": "text", "selector": "h1"}
	], "feilds_typo": []}`

	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestParse_CollectsAllViolations(t *testing.T) {
	raw := `{
		"url": "ftp://example.com",
		"fields": [
			{"name": "a", "type": "text", "selector": "h1"},
			{"name": "a", "type": "text", "selector": "h2"}
		],
		"max_retries": 99,
		"browser": {"viewport_width": 10, "headless": true, "viewport_height": 1080,
			"javascript_enabled": true, "timeout": 30000}
	}`

	_, err := Parse([]byte(raw))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Violations) < 4 {
		t.Errorf("expected all violations collected, got %d: %v", len(verr.Violations), verr)
	}

	for _, field := range []string{"url", "fields[1].name", "max_retries", "browser.viewport_width"} {
		if !hasViolation(verr, field) {
			t.Errorf("missing violation for %s in %v", field, verr)
		}
	}
}

func TestParse_PaginationRequiresNextSelector(t *testing.T) {
	raw := `{"url": "https://example.com", "fields": [
		{"name": "f", "type": "text", "selector": "h1"}
	], "pagination": {"enabled": true}}`

	_, err := Parse([]byte(raw))
	assertViolation(t, err, "pagination.next_selector")
}

func TestParse_NumericBounds(t *testing.T) {
	tests := []struct {
		name      string
		overrides string
		wantField string
	}{
		{"viewport too small", `"browser": {"headless": true, "viewport_width": 100, "viewport_height": 1080, "javascript_enabled": true, "timeout": 30000}`, "browser.viewport_width"},
		{"timeout too large", `"browser": {"headless": true, "viewport_width": 1920, "viewport_height": 1080, "javascript_enabled": true, "timeout": 999999}`, "browser.timeout"},
		{"retry delay too small", `"retry_delay": 10`, "retry_delay"},
		{"too many pages", `"pagination": {"enabled": true, "next_selector": ".n", "max_pages": 500, "wait_after_click": 2000}`, "pagination.max_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"url": "https://example.com", "fields": [
				{"name": "f", "type": "text", "selector": "h1"}
			], ` + tt.overrides + `}`
			_, err := Parse([]byte(raw))
			assertViolation(t, err, tt.wantField)
		})
	}
}

func TestParse_TooManyWaitConditions(t *testing.T) {
	conds := make([]string, 11)
	for i := range conds {
		conds[i] = `{"type": "timeout", "timeout": 1000}`
	}
	raw := `{"url": "https://example.com", "fields": [
		{"name": "f", "type": "text", "selector": "h1"}
	], "wait_conditions": [` + strings.Join(conds, ",") + `]}`

	_, err := Parse([]byte(raw))
	assertViolation(t, err, "wait_conditions")
}

func TestParseMap_RoundTrips(t *testing.T) {
	m := map[string]interface{}{
		"url": "https://example.com",
		"fields": []interface{}{
			map[string]interface{}{"name": "f", "type": "text", "selector": "h1"},
		},
	}
	cfg, err := ParseMap(m)
	if err != nil {
		t.Fatalf("ParseMap() returned error: %v", err)
	}
	if cfg.Fields[0].Name != "f" {
		t.Errorf("unexpected field name: %s", cfg.Fields[0].Name)
	}
}

func assertViolation(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !hasViolation(verr, field) {
		t.Errorf("expected violation for %s, got %v", field, verr)
	}
}

func hasViolation(verr *ValidationError, field string) bool {
	for _, v := range verr.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}
