package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"testpool/internal/schema"
)

// validateFields checks a proposed field map against the schema and returns
// the normalized map: unknown keys silently dropped, values coerced to the
// declared type where a safe coercion exists. Explicit nulls survive merge
// handling upstream but count as absent for the required check.
func validateFields(sch *schema.EntitySchema, fields map[string]any) (map[string]any, *ValidationError) {
	var issues []FieldIssue

	out := make(map[string]any, len(fields))
	for name, val := range fields {
		f, ok := sch.FieldByName(name)
		if !ok {
			continue // unknown keys are dropped, not stored
		}
		if val == nil {
			continue
		}
		norm, err := coerceValue(f, val)
		if err != nil {
			issues = append(issues, FieldIssue{
				Code:    CodeTypeMismatch,
				Field:   name,
				Message: fmt.Sprintf("field %q %v", name, err),
			})
			continue
		}
		out[name] = norm
	}

	for _, f := range sch.Fields {
		if !f.Required {
			continue
		}
		if _, ok := out[f.Name]; !ok {
			issues = append(issues, FieldIssue{
				Code:    CodeRequired,
				Field:   f.Name,
				Message: fmt.Sprintf("field %q is required", f.Name),
			})
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{
			Message: "Entity does not match schema for type: " + sch.EntityName,
			Issues:  issues,
		}
	}
	return out, nil
}

// coerceValue normalizes v to the declared field type. Best-effort: string
// forms of numbers and booleans are accepted, everything else must already
// carry the right JSON shape.
func coerceValue(f schema.Field, v any) (any, error) {
	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be string")
		}
		return s, nil
	case schema.TypeNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, errors.New("must be number")
			}
			return n, nil
		default:
			return nil, errors.New("must be number")
		}
	case schema.TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
			return nil, errors.New("must be boolean")
		default:
			return nil, errors.New("must be boolean")
		}
	case schema.TypeDate:
		s, ok := v.(string)
		if !ok {
			if t, isTime := v.(time.Time); isTime {
				return t.UTC().Format(time.RFC3339), nil
			}
			return nil, errors.New("must be a date string")
		}
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return s, nil
		}
		if _, err := time.Parse("2006-01-02", s); err == nil {
			return s, nil
		}
		return nil, errors.New("must be YYYY-MM-DD or RFC3339")
	case schema.TypeArray:
		switch t := v.(type) {
		case []any:
			return t, nil
		case []string:
			out := make([]any, len(t))
			for i, s := range t {
				out[i] = s
			}
			return out, nil
		default:
			return nil, errors.New("must be array")
		}
	case schema.TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("must be object")
		}
		return m, nil
	default:
		return v, nil
	}
}

// mergeFields lays patch over current. An explicit null in patch removes the
// key, which is how a caller strips an optional field; removing a required
// field this way fails the subsequent validation.
func mergeFields(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
