package engine

import "fmt"

// FieldIssue pinpoints one field violation inside a ValidationError.
type FieldIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Issue codes.
const (
	CodeRequired        = "required"
	CodeTypeMismatch    = "type_mismatch"
	CodeNotFilterable   = "not_filterable"
	CodeFeatureDisabled = "feature_disabled"
)

// ValidationError rejects malformed input: missing required fields, type
// mismatches, filtering on non-filterable fields, fetchNext on a type
// without the feature enabled. Maps to 400.
type ValidationError struct {
	Message string
	Issues  []FieldIssue
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError covers unknown schemas, unknown ids and an empty Available
// pool on fetchNext. Maps to 404.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func notFoundf(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateEntityError reports a unique-constraint violation with the
// offending field and value. Maps to 409.
type DuplicateEntityError struct {
	EntityType string
	Field      string
	Value      any
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("duplicate %s: field %s already has value %v", e.EntityType, e.Field, e.Value)
}
