// Package shared contains common domain types, errors, events, and the record
// store contract that are used across all domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLocked                 = errors.New("resource is locked")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "assessment", "grading", "promotion"
	Op      string // Operation that failed, e.g., "Execute", "Record"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ConfigError lists every problem found in a tenant-supplied configuration.
// It matches ErrInvalidConfig via errors.Is.
type ConfigError struct {
	Domain   string
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid configuration: %s", e.Domain, strings.Join(e.Problems, "; "))
}

// Is implements errors.Is() matching.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError returns nil when there are no problems.
func NewConfigError(domain string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Domain: domain, Problems: problems}
}

// Assessment domain errors
var (
	ErrAssessmentConfigChanged = NewDomainError("assessment", "Record", ErrInvalidState, "assessment configuration changed during an open term")
	ErrScorePublished          = NewDomainError("assessment", "Record", ErrAlreadyProcessed, "subject score is already published")
)

// Promotion domain errors
var (
	ErrCampaignNotFound        = NewDomainError("promotion", "Execute", ErrNotFound, "promotion campaign not found")
	ErrCampaignAlreadyExecuted = NewDomainError("promotion", "Execute", ErrAlreadyProcessed, "promotion campaign already executed")
	ErrCampaignCancelled       = NewDomainError("promotion", "Execute", ErrInvalidState, "promotion campaign is cancelled")
	ErrNoRecordsToExecute      = NewDomainError("promotion", "Execute", ErrInvalidState, "no approved promotion records to execute")
	ErrExecutionInProgress     = NewDomainError("promotion", "Execute", ErrLocked, "promotion campaign is already being executed")
	ErrExecutionNotFound       = NewDomainError("promotion", "GetExecution", ErrNotFound, "promotion execution not found")
	ErrStudentNotFound         = NewDomainError("promotion", "ExecuteRecord", ErrNotFound, "student not found")
	ErrUnknownDecision         = NewDomainError("promotion", "ExecuteRecord", ErrInvalidInput, "unknown promotion decision")
	ErrInvalidCampaignStatus   = NewDomainError("promotion", "Transition", ErrStateTransition, "invalid campaign status transition")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsPrecondition checks if the error is a state/precondition failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrLocked)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
