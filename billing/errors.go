/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes; nothing in this package
  knows about transports.

ERROR CATEGORIES:
  1. Validation errors - malformed property/month/input
  2. Duplicate calculation - bill run already closed
  3. Not found - unknown property/bill run/payment
  4. Invariant errors - negative amounts, impossible date ranges
  5. Persistence errors - repository failures, surfaced as-is

USAGE:
  Callers match with errors.Is:

    if errors.Is(err, billing.ErrDuplicateCalculation) {
        // month already finalized
    }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for missing or malformed inputs.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCalculation is returned when a bill run for the
	// (property, month) is already closed.
	ErrDuplicateCalculation = errors.New("calculation already finalized")

	// ErrInvariant is returned when a calculation would produce an
	// impossible result (negative amount, inverted date range).
	ErrInvariant = errors.New("calculation invariant violated")

	// ErrPersistence wraps repository failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with
	// the same idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string // "property", "bill_run", "payment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateCalculationError reports an attempt to recalculate a closed
// bill run.
type DuplicateCalculationError struct {
	PropertyID PropertyID
	Month      Month
	BillRunID  string
}

func (e *DuplicateCalculationError) Error() string {
	return fmt.Sprintf("bill run for property %s month %s is closed (run: %s)",
		e.PropertyID, e.Month, e.BillRunID)
}

func (e *DuplicateCalculationError) Unwrap() error { return ErrDuplicateCalculation }

// InvariantError reports an impossible calculation state.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated: %s", e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a state the client can observe and correct.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateCalculation) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
