package engine

import (
	"time"

	"labflow/internal/domain"
)

type (
	ValidationError = domain.ValidationError
	TransitionError = domain.TransitionError
)

const dateLayout = "2006-01-02"

func invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

func required(field, value string) error {
	if value == "" {
		return invalid(field, "required")
	}
	return nil
}

func validDate(field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, *v); err != nil {
		return invalid(field, "must be a date formatted YYYY-MM-DD")
	}
	return nil
}

func oneOf(field, v string, allowed []string) error {
	if !domain.OneOf(v, allowed) {
		return invalid(field, "unsupported value "+v)
	}
	return nil
}
