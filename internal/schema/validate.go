package schema

import (
	"fmt"

	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// Validate checks params against schema and returns a Validation-kind
// orcherr.Error on the first violation found: a missing required field, a
// value outside a declared enum, or a numeric/length/array bound. Fields
// absent from params with no violation are left unset rather than filled
// from Default — defaulting is the caller's concern (spec.md's design
// notes describe validation as "a pure function producing either a typed
// record or a structured error", not a normalizer).
//
// Grounded on original_source/ai/graph/tools.py's validate_tool_parameters
// (required-field check, then pass-through of declared properties),
// generalized to the bounds/enum checks spec.md's scenario 6
// (`sd_generate({prompt: ""})` fails validation) requires beyond a bare
// required-field check.
func Validate(toolName string, params map[string]interface{}, s ParameterSchema) error {
	for _, f := range s.Fields {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return orcherr.New(orcherr.Validation, "schema_required_field_missing",
					fmt.Sprintf("%s: required parameter %q missing", toolName, f.Name))
			}
			continue
		}
		if err := validateField(toolName, f, v); err != nil {
			return err
		}
	}
	return nil
}

func validateField(toolName string, f Field, v interface{}) error {
	if s, ok := v.(string); ok && f.Required && s == "" {
		return orcherr.New(orcherr.Validation, "schema_required_field_empty",
			fmt.Sprintf("%s: required parameter %q must not be empty", toolName, f.Name))
	}

	if len(f.Enum) > 0 && !enumContains(f.Enum, v) {
		return orcherr.New(orcherr.Validation, "schema_enum_violation",
			fmt.Sprintf("%s: parameter %q value %v not in allowed set %v", toolName, f.Name, v, f.Enum))
	}

	if num, ok := numericValue(v); ok {
		if f.Minimum != nil && num < *f.Minimum {
			return orcherr.New(orcherr.Validation, "schema_below_minimum",
				fmt.Sprintf("%s: parameter %q value %v below minimum %v", toolName, f.Name, v, *f.Minimum))
		}
		if f.Maximum != nil && num > *f.Maximum {
			return orcherr.New(orcherr.Validation, "schema_above_maximum",
				fmt.Sprintf("%s: parameter %q value %v above maximum %v", toolName, f.Name, v, *f.Maximum))
		}
	}

	if s, ok := v.(string); ok && f.MaxLength != nil && len(s) > *f.MaxLength {
		return orcherr.New(orcherr.Validation, "schema_max_length_exceeded",
			fmt.Sprintf("%s: parameter %q exceeds max length %d", toolName, f.Name, *f.MaxLength))
	}

	if items, ok := v.([]interface{}); ok {
		if f.MinItems != nil && len(items) < *f.MinItems {
			return orcherr.New(orcherr.Validation, "schema_min_items_violation",
				fmt.Sprintf("%s: parameter %q has %d items, fewer than minimum %d", toolName, f.Name, len(items), *f.MinItems))
		}
		if f.MaxItems != nil && len(items) > *f.MaxItems {
			return orcherr.New(orcherr.Validation, "schema_max_items_violation",
				fmt.Sprintf("%s: parameter %q has %d items, more than maximum %d", toolName, f.Name, len(items), *f.MaxItems))
		}
	}

	return nil
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
