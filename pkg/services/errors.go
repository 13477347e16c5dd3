package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a caller or webhook fails authentication
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when an authenticated caller lacks the required role
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrMessageNotFound is returned when no chat message references the alert
	ErrMessageNotFound = fmt.Errorf("%w: chat message for alert", ErrNotFound)

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrQuotaExceeded is returned when the organization's plan denies the action
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrCredentialExpired is returned when a credential is stale and cannot be refreshed
	ErrCredentialExpired = errors.New("credential expired")

	// ErrCredentialRefreshFailed is returned when the vendor token endpoint rejects a refresh
	ErrCredentialRefreshFailed = errors.New("credential refresh failed")

	// ErrAgentRunFailed is returned when the reasoning engine errors or times out
	ErrAgentRunFailed = errors.New("agent run failed")

	// ErrExternalDeliveryFailed is returned when an answer cannot be posted back
	ErrExternalDeliveryFailed = errors.New("external delivery failed")

	// ErrBuildInProgress is returned when an index build is already pending
	ErrBuildInProgress = errors.New("index build already in progress")

	// ErrSourceFinished is returned when the builder reports on a source that already completed or failed
	ErrSourceFinished = errors.New("index source already finished")

	// ErrBuildSuperseded is returned when the builder reports on a build that a newer build replaced
	ErrBuildSuperseded = errors.New("index build superseded")

	// ErrExternalTeardownFailed is returned when the vector index cannot be deleted
	ErrExternalTeardownFailed = errors.New("external index teardown failed")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IntegrationNotFoundError reports a vendor integration the organization
// has not connected.
type IntegrationNotFoundError struct {
	Vendor string
}

func (e *IntegrationNotFoundError) Error() string {
	return fmt.Sprintf("%s integration not found", e.Vendor)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *IntegrationNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
