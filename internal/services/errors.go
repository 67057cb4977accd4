// Package services defines the business logic for auto-response rules, leads,
// and the dashboard summary. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Validation errors wrap ErrInvalidRule / ErrInvalidLead
// with a field-specific message, so callers should match with errors.Is.
package services

import "errors"

// Rule-related errors.
var (
	// ErrRuleNotFound indicates that the requested rule does not exist or is
	// not owned by the current seller.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidRule is returned when a create or update request carries a
	// missing or malformed field.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDuplicateRule is returned when a rule id is already taken.
	ErrDuplicateRule = errors.New("rule already exists")
)

// Lead-related errors.
var (
	// ErrLeadNotFound indicates that the requested lead does not exist or is
	// not owned by the current seller.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrInvalidLead is returned when lead input fails validation.
	ErrInvalidLead = errors.New("invalid lead")

	// ErrEmptyInquiry is returned when an inquiry has no text.
	ErrEmptyInquiry = errors.New("inquiry text is empty")
)
