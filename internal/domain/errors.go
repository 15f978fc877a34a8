package domain

import "fmt"

// ValidationError reports malformed input or a violated business rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError reports a status change missing from a state machine.
type TransitionError struct {
	Kind string
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Kind, e.From, e.To)
}
