package taskconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON applies per-field defaults before decoding. A field spec
// that omits "required" is required; link/image attributes default later
// during validation.
func (f *FieldSpec) UnmarshalJSON(data []byte) error {
	type alias FieldSpec
	a := alias{Required: true}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return err
	}
	*f = FieldSpec(a)
	return nil
}

// UnmarshalJSON applies the default wait bound of 5000ms.
func (w *WaitCondition) UnmarshalJSON(data []byte) error {
	type alias WaitCondition
	a := alias{Timeout: 5000}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return err
	}
	*w = WaitCondition(a)
	return nil
}

// Parse decodes and validates an untrusted task submission. The decode is
// strict: unknown keys are rejected rather than silently dropped, so a
// misspelled option never propagates into the browser layer. On success the
// returned config is fully defaulted and range-checked; on failure the error
// is a *ValidationError listing every violated constraint.
func Parse(raw []byte) (*TaskConfig, error) {
	cfg := defaultConfig()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ValidationError{Violations: []Violation{{
			Field:   "$",
			Message: fmt.Sprintf("malformed task configuration: %v", err),
		}}}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseMap validates a submission that has already been decoded into a
// generic map, the shape the task queue hands over.
func ParseMap(m map[string]interface{}) (*TaskConfig, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, &ValidationError{Violations: []Violation{{
			Field:   "$",
			Message: fmt.Sprintf("unencodable task configuration: %v", err),
		}}}
	}
	return Parse(raw)
}
