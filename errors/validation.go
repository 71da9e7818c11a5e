package errors

import (
	"fmt"
	"strings"
)

// Field-scoped validation codes returned to API clients.
const (
	CodeBlank                = "blank"
	CodeTooLong              = "too_long"
	CodeInvalid              = "invalid"
	CodeInvalidIntervalUnit  = "invalid_interval_unit"
	CodeInvalidIntervalValue = "invalid_interval_value"
	CodeInvalidDate          = "invalid_date"
	CodeInvalidTimezone      = "invalid_timezone"
	CodeInvalidAction        = "invalid_action"
	CodeEntityTypeInvalid    = "entity_type_invalid"
	CodeNotANumber           = "not_a_number"
	CodeTaken                = "taken"
)

// FieldError is a single rejected field and the reason code.
type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

// ValidationError collects every field error found while validating one
// input. It is returned before anything is persisted.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, code string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Code: code}}}
}

// Add records a field error.
func (v *ValidationError) Add(field, code string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Code: code})
}

// Has reports whether a field was rejected with the given code.
func (v *ValidationError) Has(field, code string) bool {
	for _, f := range v.Fields {
		if f.Field == field && f.Code == code {
			return true
		}
	}
	return false
}

// OrNil returns nil when no field errors were collected.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Code))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// AsValidationError extracts a ValidationError from anywhere in the chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	if err != nil && As(err, &v) {
		return v, true
	}
	return nil, false
}

// HasFieldCode reports whether err carries the given field error.
func HasFieldCode(err error, field, code string) bool {
	v, ok := AsValidationError(err)
	return ok && v.Has(field, code)
}
