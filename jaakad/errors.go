/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place. The pure calculators (aggregate, remaining,
  status) have no failure path; every failure originates in the service
  layer's validation and persistence steps.

ERROR CATEGORIES:
  1. Validation errors  - malformed or over-quantity input (caller-correctable)
  2. Not-found errors   - unknown entry/retailer id
  3. Terminal errors    - mutation attempted on a closed/forwarded entry
  4. Concurrency errors - serialization violation detected at write time
  5. Storage errors     - backing-store failure (retried by the caller)

USAGE:
  if errors.Is(err, jaakad.ErrTerminalState) { ... }
  var over *jaakad.OverReturnError
  if errors.As(err, &over) { ... }
*/
package jaakad

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the class of all caller-correctable input errors.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entry doesn't exist.
	ErrNotFound = errors.New("jaakad not found")

	// ErrRetailerNotFound is returned when the retailer directory has no
	// record for the requested counterparty.
	ErrRetailerNotFound = errors.New("retailer not found")

	// ErrTerminalState is returned when a mutation targets an entry that is
	// already closed or forwarded.
	ErrTerminalState = errors.New("jaakad is in a terminal state")

	// ErrConcurrentModification is returned when optimistic locking detects
	// that another writer got there first. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStorage wraps backing-store failures. Not swallowed; the caller
	// retries at the transport level.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed field in a transition request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverReturnError reports an attempt to reconcile more quantity than is
// currently outstanding for an identity.
type OverReturnError struct {
	Identity          Identity
	Label             string
	RequestedWeight   decimal.Decimal
	RequestedPieces   int
	OutstandingWeight decimal.Decimal
	OutstandingPieces int
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("over-return for %s (%s): requested %v wt / %d pcs, outstanding %v wt / %d pcs",
		e.Label, e.Identity, e.RequestedWeight, e.RequestedPieces, e.OutstandingWeight, e.OutstandingPieces)
}

func (e *OverReturnError) Unwrap() error { return ErrValidation }

// TerminalStateError reports which terminal state blocked a mutation.
type TerminalStateError struct {
	EntryID string
	Status  Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("jaakad %s is %s and cannot be modified", e.EntryID, e.Status)
}

func (e *TerminalStateError) Unwrap() error { return ErrTerminalState }

// StorageError wraps a backing-store failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRetailerNotFound)
}

// IsConflict returns true for terminal-state and serialization violations,
// which surface as HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTerminalState) || errors.Is(err, ErrConcurrentModification)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorage)
}
