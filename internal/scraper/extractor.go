package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/taskconfig"
)

// Extractor pulls configured fields out of rendered page HTML. Extraction is
// tolerant: a field that matches nothing yields its default value and, when
// required, a warning. It never fails the page.
type Extractor struct {
	log zerolog.Logger
}

func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log.With().Str("component", "extractor").Logger()}
}

// Extract evaluates every field spec against the HTML and returns one record
// plus any warnings for required fields that matched nothing. pageURL is the
// base for resolving relative links and image sources.
func (ex *Extractor) Extract(html string, fields []taskconfig.FieldSpec, pageURL string) (map[string]interface{}, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	record := make(map[string]interface{}, len(fields))
	var warnings []string

	for _, field := range fields {
		value, found := ex.extractField(doc, field, base)
		if !found {
			if field.Required {
				warnings = append(warnings, fmt.Sprintf("required field %q matched nothing for selector %q", field.Name, field.Selector))
				ex.log.Warn().Str("field", field.Name).Str("selector", field.Selector).Msg("required field missing")
			}
			value = defaultFieldValue(field)
		}
		record[field.Name] = value
	}
	return record, warnings, nil
}

// extractField returns the field's value and whether anything matched.
func (ex *Extractor) extractField(doc *goquery.Document, field taskconfig.FieldSpec, base *url.URL) (interface{}, bool) {
	sel := doc.Find(field.Selector)
	if sel.Length() == 0 {
		return nil, false
	}

	if field.Multiple {
		values := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := ex.selectionValue(s, field, base); v != "" {
				values = append(values, v)
			}
		})
		if len(values) == 0 {
			return nil, false
		}
		return values, true
	}

	v := ex.selectionValue(sel.First(), field, base)
	if v == "" {
		return nil, false
	}
	return v, true
}

// selectionValue reads one matched element according to the field type.
func (ex *Extractor) selectionValue(s *goquery.Selection, field taskconfig.FieldSpec, base *url.URL) string {
	switch field.Type {
	case taskconfig.FieldTypeText:
		return strings.TrimSpace(s.Text())
	case taskconfig.FieldTypeAttribute:
		v, _ := s.Attr(field.Attribute)
		return strings.TrimSpace(v)
	case taskconfig.FieldTypeLink, taskconfig.FieldTypeImage:
		v, ok := s.Attr(field.Attribute)
		if !ok {
			return ""
		}
		return absolutize(strings.TrimSpace(v), base)
	default:
		return ""
	}
}

// absolutize resolves href/src values against the page URL so results carry
// usable absolute URLs.
func absolutize(ref string, base *url.URL) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// defaultFieldValue is the record value for a field that matched nothing.
func defaultFieldValue(field taskconfig.FieldSpec) interface{} {
	if field.DefaultValue != "" {
		if field.Multiple {
			return []string{field.DefaultValue}
		}
		return field.DefaultValue
	}
	if field.Multiple {
		return []string{}
	}
	return nil
}
