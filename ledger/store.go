/*
store.go - Persistence contracts consumed by the engine and the query side

PURPOSE:
  Defines the seam between ledger logic and the durable store. The engine
  only needs AccountRepository; the REST layer also needs the read side and
  account opening, bundled as Store.

UNIT OF WORK:
  SaveAll() is the ONLY write path for balances. It must:
  - compare every account's Version with the stored one (lost-update guard)
  - write all balances and insert the record in one atomic unit
  - return ErrConcurrentModification if any version is stale, writing nothing

APPEND-ONLY RECORDS:
  Records are inserted by SaveAll and never updated or deleted here.

IMPLEMENTATIONS:
  - ledger/store/memory.go:    In-memory, for tests/dev
  - store/sqlite/sqlite.go:    SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - engine.go: Retries on ErrConcurrentModification
*/
package ledger

import "context"

// =============================================================================
// ACCOUNT REPOSITORY - What the engine needs
// =============================================================================

type AccountRepository interface {
	// Get loads an account. Returns ErrAccountNotFound if absent.
	Get(ctx context.Context, id AccountID) (Account, error)

	// SaveAll persists the mutated accounts and appends the record atomically.
	// Accounts carry the Version they were read at. Returns the record with
	// its store-assigned ID.
	SaveAll(ctx context.Context, accounts []Account, record TransactionRecord) (TransactionRecord, error)
}

// =============================================================================
// RECORD STORE - Read side for records
// =============================================================================

type RecordStore interface {
	// GetRecord returns ErrTransactionNotFound if absent.
	GetRecord(ctx context.Context, id RecordID) (TransactionRecord, error)

	// ListRecords returns all records ordered by ID.
	ListRecords(ctx context.Context) ([]TransactionRecord, error)

	// ListRecordsByAccount returns the records attributed to one account,
	// ordered by ID. An unknown account yields an empty slice.
	ListRecordsByAccount(ctx context.Context, id AccountID) ([]TransactionRecord, error)
}

// =============================================================================
// STORE - Everything the service wires together
// =============================================================================

type Store interface {
	AccountRepository
	RecordStore

	// CreateAccount opens an account with zero balance.
	CreateAccount(ctx context.Context, clientID ClientID) (Account, error)

	// ListAccounts returns accounts ordered by ID, optionally for one client.
	ListAccounts(ctx context.Context, clientID *ClientID) ([]Account, error)
}
