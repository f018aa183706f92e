/*
errors.go - Centralized error types for the partner engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations translate database failures into these errors;
  the HTTP layer maps them onto status codes.

ERROR CATEGORIES:
  1. Attachment errors - Referral closure violations
  2. Ledger errors - Balance and withdrawal violations
  3. Input errors - Rejected before any write

USAGE:
  if errors.Is(err, partner.ErrInsufficientBalance) {
      // report available balance to the caller
  }
*/
package partner

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidReferrer is returned when attaching a referral to a referrer
	// that does not exist.
	ErrInvalidReferrer = errors.New("invalid referrer")

	// ErrAlreadyAttached is returned when a user already has relationship
	// rows. Re-parenting is not supported.
	ErrAlreadyAttached = errors.New("user already attached to a referrer")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for zero or negative monetary input.
	// Rejected before any write.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateCommission signals that a commission row already exists for
	// (partner, transaction, level). It is swallowed as a no-op by the
	// commission engine - idempotency, not a failure - and only surfaces from
	// store internals.
	ErrDuplicateCommission = errors.New("duplicate commission")

	// ErrPartnerNotFound is returned when a referenced partner doesn't exist.
	ErrPartnerNotFound = errors.New("partner not found")

	// ErrWithdrawalNotFound is returned when a referenced withdrawal doesn't exist.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a withdrawal shortage with the balance
// computed at validation time, for user feedback.
type InsufficientBalanceError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall is how much the request exceeds the available balance.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than a persistence failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidReferrer) ||
		errors.Is(err, ErrAlreadyAttached) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPartnerNotFound) ||
		errors.Is(err, ErrWithdrawalNotFound)
}
