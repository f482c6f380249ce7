/*
errors.go - Centralized error types for the insurance domain

ERROR CATEGORIES:
  1. Not found - referenced car or policy does not exist
  2. Validation - bad claim or policy input
  3. Conflict - unique constraint violations (VIN)

USAGE:
  Stores return these (optionally wrapped); handlers translate them to
  HTTP status codes with IsNotFound / IsClientError / errors.Is.
*/
package insurance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCarNotFound is returned when a referenced car doesn't exist.
	ErrCarNotFound = errors.New("car not found")

	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvalidAmount is returned for negative claim amounts.
	ErrInvalidAmount = errors.New("amount must be >= 0")

	// ErrInvalidClaim is returned when a claim is missing required fields.
	ErrInvalidClaim = errors.New("invalid claim")

	// ErrInvalidPeriod is returned when a policy ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrDuplicateVIN is returned when a car with the same VIN already exists.
	ErrDuplicateVIN = errors.New("car with this VIN already exists")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCarNotFound) ||
		errors.Is(err, ErrPolicyNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidClaim) ||
		errors.Is(err, ErrInvalidPeriod)
}
