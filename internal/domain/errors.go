package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrValidation rejects input before it enters the pipeline.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration marks a malformed rule or component configuration.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnknownRuleType marks a rule whose type has no evaluator.
	ErrUnknownRuleType = errors.New("unknown rule type")

	// ErrStore wraps every persistence failure. Never swallowed.
	ErrStore = errors.New("store error")

	// ErrInvalidTransition rejects an alert review transition.
	ErrInvalidTransition = errors.New("invalid alert transition")
)
