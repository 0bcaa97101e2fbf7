/*
errors.go - Closed error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Every failure of Engine.Apply maps to one
  Kind; transports (REST) translate the Kind, never the message.

ERROR CATEGORIES:
  1. Validation errors - detected before any account lookup
  2. Authorization errors - the gate said no
  3. Resolution errors - an account does not exist
  4. Balance errors - insufficient funds
  5. Persistence errors - conflicting writers (the only retryable class)

USAGE:
  rec, err := engine.Apply(ctx, req)
  switch ledger.KindOf(err) {
  case ledger.KindInsufficientFunds:
      var ife *ledger.InsufficientFundsError
      errors.As(err, &ife)
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/errors.go: Kind -> HTTP status
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when the amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidTransactionType is returned for type codes that carry no mutation policy.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrInvalidTransfer is returned when source and destination are the same account.
	ErrInvalidTransfer = errors.New("source and destination accounts must differ")

	// ErrForbidden is returned when the acting profile may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrAccountNotFound is returned when the primary account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDestinationAccountNotFound is returned when a transfer's destination does not exist.
	ErrDestinationAccountNotFound = errors.New("destination account not found")

	// ErrInsufficientFunds is returned when a debit would take the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPersistenceConflict is returned when the unit of work kept conflicting
	// with concurrent writers after all retry attempts.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrConcurrentModification is returned by stores when an account version
	// changed between read and write. The engine retries on it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransactionNotFound is returned by record lookups.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %d: available %s, requested %s",
		e.AccountID, FormatAmount(e.Available), FormatAmount(e.Requested))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall is the amount missing for the debit to pass.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// AccountNotFoundError names the account that could not be resolved.
type AccountNotFoundError struct {
	AccountID   AccountID
	Destination bool
}

func (e *AccountNotFoundError) Error() string {
	if e.Destination {
		return fmt.Sprintf("destination account %d not found", e.AccountID)
	}
	return fmt.Sprintf("account %d not found", e.AccountID)
}

func (e *AccountNotFoundError) Unwrap() error {
	if e.Destination {
		return ErrDestinationAccountNotFound
	}
	return ErrAccountNotFound
}

// ConflictError is returned once retries are exhausted.
type ConflictError struct {
	Attempts int
	Last     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("persistence conflict after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ConflictError) Unwrap() []error {
	return []error{ErrPersistenceConflict, e.Last}
}

// =============================================================================
// KIND - Closed classification used by transports
// =============================================================================

type Kind string

const (
	KindInvalidAmount              Kind = "invalid_amount"
	KindInvalidTransactionType     Kind = "invalid_transaction_type"
	KindInvalidTransfer            Kind = "invalid_transfer"
	KindForbidden                  Kind = "forbidden"
	KindAccountNotFound            Kind = "account_not_found"
	KindDestinationAccountNotFound Kind = "destination_account_not_found"
	KindTransactionNotFound        Kind = "transaction_not_found"
	KindInsufficientFunds          Kind = "insufficient_funds"
	KindPersistenceConflict        Kind = "persistence_conflict"
	KindInternal                   Kind = "internal"
)

// kindOrder is checked in order; ErrPersistenceConflict comes first because a
// ConflictError also unwraps to the store's ErrConcurrentModification.
var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrPersistenceConflict, KindPersistenceConflict},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidTransactionType, KindInvalidTransactionType},
	{ErrInvalidTransfer, KindInvalidTransfer},
	{ErrForbidden, KindForbidden},
	{ErrDestinationAccountNotFound, KindDestinationAccountNotFound},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrTransactionNotFound, KindTransactionNotFound},
	{ErrInsufficientFunds, KindInsufficientFunds},
}

// KindOf classifies err. nil maps to "", unknown errors to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrDestinationAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
