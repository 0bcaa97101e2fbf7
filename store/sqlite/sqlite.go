/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable accounts and transaction records. The same SQL shape is used by
  store/postgres; only placeholders and error codes differ.

KEY TABLES:
  accounts:            balance (decimal text) + version (lost-update guard)
  transaction_records: append-only, FK to accounts

UNIT OF WORK (SaveAll):
  BEGIN
    UPDATE accounts SET balance=?, version=version+1
     WHERE id=? AND version=?          -- once per touched account
    (0 rows affected => ErrConcurrentModification, ROLLBACK)
    INSERT INTO transaction_records ...
  COMMIT

  The version compare-and-swap is what serializes concurrent debits on the
  same account: the second writer's UPDATE matches no row.

CONNECTIONS:
  The pool is limited to one connection. SQLite allows a single writer and
  ":memory:" databases are per-connection.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.DefaultPolicyTable())

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/banking-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_client
		ON accounts(client_id);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS transaction_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		type_code INTEGER NOT NULL,
		amount TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_account
		ON transaction_records(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT REPOSITORY (ledger.AccountRepository interface)
// =============================================================================

// Get loads one account.
func (s *Store) Get(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, balance, version, created_at FROM accounts WHERE id = ?", id)

	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acc, err
}

// SaveAll writes the balances and the record in one database transaction.
func (s *Store) SaveAll(ctx context.Context, accounts []ledger.Account, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, a := range accounts {
		res, err := sqlTx.ExecContext(ctx,
			"UPDATE accounts SET balance = ?, version = version + 1 WHERE id = ? AND version = ?",
			a.Balance.String(), a.ID, a.Version,
		)
		if err != nil {
			return ledger.TransactionRecord{}, mapError(err, "failed to update account")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ledger.TransactionRecord{}, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return ledger.TransactionRecord{}, ledger.ErrConcurrentModification
		}
	}

	res, err := sqlTx.ExecContext(ctx,
		"INSERT INTO transaction_records (account_id, type_code, amount, occurred_at) VALUES (?, ?, ?, ?)",
		record.AccountID, int(record.TypeCode), record.Amount.String(),
		record.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return ledger.TransactionRecord{}, mapError(err, "failed to insert transaction record")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("failed to read record id: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.TransactionRecord{}, mapError(err, "failed to commit")
	}

	record.ID = ledger.RecordID(id)
	return record, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount inserts an account with zero balance.
func (s *Store) CreateAccount(ctx context.Context, clientID ledger.ClientID) (ledger.Account, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (client_id, balance, version, created_at) VALUES (?, '0', 1, ?)",
		clientID, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to read account id: %w", err)
	}

	return ledger.Account{
		ID:        ledger.AccountID(id),
		ClientID:  clientID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		Version:   1,
	}, nil
}

// ListAccounts returns accounts, optionally for a single client.
func (s *Store) ListAccounts(ctx context.Context, clientID *ledger.ClientID) ([]ledger.Account, error) {
	query := "SELECT id, client_id, balance, version, created_at FROM accounts"
	var args []any
	if clientID != nil {
		query += " WHERE client_id = ?"
		args = append(args, *clientID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// =============================================================================
// RECORD STORE (ledger.RecordStore interface)
// =============================================================================

func (s *Store) GetRecord(ctx context.Context, id ledger.RecordID) (ledger.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, account_id, type_code, amount, occurred_at FROM transaction_records WHERE id = ?", id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TransactionRecord{}, ledger.ErrTransactionNotFound
	}
	return rec, err
}

func (s *Store) ListRecords(ctx context.Context) ([]ledger.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, account_id, type_code, amount, occurred_at FROM transaction_records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction records: %w", err)
	}
	return collectRecords(rows)
}

// ListRecordsByAccount is served by idx_records_account.
func (s *Store) ListRecordsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, account_id, type_code, amount, occurred_at FROM transaction_records WHERE account_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of account %d: %w", id, err)
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]ledger.TransactionRecord, error) {
	defer rows.Close()

	records := []ledger.TransactionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		acc       ledger.Account
		balance   string
		createdAt string
	)
	if err := row.Scan(&acc.ID, &acc.ClientID, &balance, &acc.Version, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acc, err
		}
		return acc, fmt.Errorf("failed to scan account: %w", err)
	}

	b, err := decimal.NewFromString(balance)
	if err != nil {
		return acc, fmt.Errorf("failed to parse balance of account %d: %w", acc.ID, err)
	}
	acc.Balance = b
	acc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return acc, nil
}

func scanRecord(row scanner) (ledger.TransactionRecord, error) {
	var (
		rec        ledger.TransactionRecord
		typeCode   int
		amount     string
		occurredAt string
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &typeCode, &amount, &occurredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan transaction record: %w", err)
	}

	a, err := decimal.NewFromString(amount)
	if err != nil {
		return rec, fmt.Errorf("failed to parse amount of record %d: %w", rec.ID, err)
	}
	rec.TypeCode = ledger.TypeCode(typeCode)
	rec.Amount = a
	rec.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
	return rec, nil
}

// mapError turns SQLite contention into ErrConcurrentModification and
// foreign-key failures on the record into ErrAccountNotFound.
func mapError(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w", msg, ledger.ErrConcurrentModification)
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("%s: %w", msg, ledger.ErrAccountNotFound)
			}
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

var _ ledger.Store = (*Store)(nil)
