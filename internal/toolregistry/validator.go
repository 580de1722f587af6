package toolregistry

import (
	"fmt"
	"reflect"
	"regexp"
)

// ValidationError collects every schema violation found for one call, so a
// caller can report them all at once (spec §4.10 step 7 replans once on the
// full violation set, not violation-by-violation).
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return e.Violations[0]
	}
	return fmt.Sprintf("%d violations: %v", len(e.Violations), e.Violations)
}

// Validate checks args against schema per spec §4.4:
//   - required fields present
//   - each value matches its declared type
//   - enum membership
//   - string pattern
//   - numeric bounds
//   - array element homogeneity (all elements satisfy Items)
//   - unknown object keys rejected unless AdditionalProperties is set
//
// Returns nil on success, or a *ValidationError with every violation found.
func Validate(args map[string]any, schema *Schema) error {
	root := schema
	if root == nil {
		root = &Schema{Type: "object", AdditionalProperties: true}
	}
	if root.Type == "" {
		root.Type = "object"
	}
	if root.Type != "object" {
		return &ValidationError{Violations: []string{fmt.Sprintf("schema root must be object, got %q", root.Type)}}
	}
	violations := validateValue(args, root, "")
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func validateValue(value any, schema *Schema, path string) []string {
	label := path
	if label == "" {
		label = "parameter"
	}
	var violations []string

	if schema.Type != "" && !typeMatches(value, schema.Type) {
		return []string{fmt.Sprintf("%s should be %s", label, schema.Type)}
	}

	if len(schema.Enum) > 0 && !inEnum(value, schema.Enum) {
		violations = append(violations, fmt.Sprintf("%s must be one of %v", label, schema.Enum))
	}

	switch schema.Type {
	case "integer", "number":
		if f, ok := toFloat64(value); ok {
			if schema.Minimum != nil && f < *schema.Minimum {
				violations = append(violations, fmt.Sprintf("%s must be >= %v", label, *schema.Minimum))
			}
			if schema.Maximum != nil && f > *schema.Maximum {
				violations = append(violations, fmt.Sprintf("%s must be <= %v", label, *schema.Maximum))
			}
		}
	case "string":
		if schema.Pattern != "" {
			if s, ok := value.(string); ok {
				re, err := regexp.Compile(schema.Pattern)
				if err != nil {
					violations = append(violations, fmt.Sprintf("%s: invalid pattern %q", label, schema.Pattern))
				} else if !re.MatchString(s) {
					violations = append(violations, fmt.Sprintf("%s does not match pattern %q", label, schema.Pattern))
				}
			}
		}
	case "object":
		obj, _ := value.(map[string]any)
		for _, req := range schema.Required {
			if _, ok := obj[req]; !ok {
				childPath := req
				if path != "" {
					childPath = path + "." + req
				}
				violations = append(violations, fmt.Sprintf("missing required %s", childPath))
			}
		}
		for key, sub := range obj {
			propSchema, known := schema.Properties[key]
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if !known {
				if !schema.AdditionalProperties {
					violations = append(violations, fmt.Sprintf("unexpected property %s", childPath))
				}
				continue
			}
			violations = append(violations, validateValue(sub, propSchema, childPath)...)
		}
	case "array":
		arr, _ := value.([]any)
		if schema.Items != nil {
			for i, item := range arr {
				childPath := fmt.Sprintf("%s[%d]", path, i)
				violations = append(violations, validateValue(item, schema.Items, childPath)...)
			}
		}
	}

	return violations
}

func typeMatches(value any, typeName string) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		_, isFloat := value.(float64)
		if isFloat {
			f := value.(float64)
			return f == float64(int64(f))
		}
		_, isInt := value.(int)
		return isInt
	case "number":
		_, isFloat := value.(float64)
		_, isInt := value.(int)
		return isFloat || isInt
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func inEnum(value any, enum []any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, value) {
			return true
		}
		if fa, ok := toFloat64(e); ok {
			if fb, ok := toFloat64(value); ok && fa == fb {
				return true
			}
		}
	}
	return false
}
