/*
Package ledger provides the money-movement core of the banking back office.

PURPOSE:
  Turns a transaction request (deposit, withdrawal or transfer) into one or
  two balance mutations plus exactly one immutable TransactionRecord, and
  commits all of it as a single unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a client-owned balance with an optimistic-concurrency version
  - TransactionRecord: immutable explanation of a balance change
  - TypeCode: integer transaction-type code as stored in the reference table
  - Request: the validated input to Engine.Apply

INVARIANTS:
  1. Account.Balance >= 0 after every committed unit of work
  2. Records are never updated; the ledger core has no update path
  3. A transfer produces ONE record, attributed to the source account

SEE ALSO:
  - classify.go: TypeCode -> MutationPolicy
  - engine.go:   Apply (the atomic read-check-mutate-append loop)
  - store.go:    AccountRepository contract
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID int64
type ClientID int64
type RecordID int64

// TypeCode is the transaction-type code from the reference table.
// Only Classify interprets it.
type TypeCode int

const (
	TypeDeposit    TypeCode = 1
	TypeWithdrawal TypeCode = 2
	TypeTransfer   TypeCode = 3
)

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a balance owned by a client.
// Version is bumped by the store on every committed balance write and is
// compared on SaveAll to detect lost updates.
type Account struct {
	ID        AccountID
	ClientID  ClientID
	Balance   decimal.Decimal
	CreatedAt time.Time
	Version   int64
}

// =============================================================================
// TRANSACTION RECORD - Immutable once created
// =============================================================================

type TransactionRecord struct {
	ID         RecordID
	AccountID  AccountID
	TypeCode   TypeCode
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is the input to Engine.Apply. Profile is resolved by the caller
// from the authenticated principal; the engine never looks it up.
// DestinationAccountID is only meaningful for transfers.
type Request struct {
	Profile              Profile
	TypeCode             TypeCode
	Amount               decimal.Decimal
	AccountID            AccountID
	DestinationAccountID AccountID
}

// FormatAmount renders money with at least two fraction digits and never
// rounds: 500 -> "500.00", 0.004 -> "0.004".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(max(2, -d.Exponent()))
}
