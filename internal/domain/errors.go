// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed or out-of-range input.
var ErrValidation = errors.New("validation failed")

// ErrAgentNotActive indicates the agent is frozen or revoked and the
// proposal was rejected before any evaluation took place.
var ErrAgentNotActive = errors.New("agent not active")

// ErrAppealNotEligible indicates an appeal was attempted on an incident
// that cannot be appealed (expired window, critical severity, already used,
// or not an appealable incident type).
var ErrAppealNotEligible = errors.New("appeal not eligible")

// ErrStoreUnavailable indicates a persistence failure. A caller receiving
// this must treat the proposal as not evaluated, never as approved.
var ErrStoreUnavailable = errors.New("store unavailable")
