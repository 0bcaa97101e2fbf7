package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Books is the read side plus account opening. Record visibility follows the
// gate's ActionView rules; listing is refused outright for profiles without
// any view rule.
type Books struct {
	store Store
	gate  Gate
}

func NewBooks(store Store, gate Gate) *Books {
	return &Books{store: store, gate: gate}
}

// ListTransactions returns the records the profile may see, ordered by ID.
func (b *Books) ListTransactions(ctx context.Context, profile Profile) ([]TransactionRecord, error) {
	if !b.gate.HasAction(profile, ActionView) {
		return nil, fmt.Errorf("%w: profile %q may not list transactions", ErrForbidden, profile)
	}
	records, err := b.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return b.visible(profile, records), nil
}

// ListAccountTransactions returns one account's records, filtered like
// ListTransactions. An unknown account is AccountNotFound; an account with
// no visible records yields an empty slice.
func (b *Books) ListAccountTransactions(ctx context.Context, profile Profile, id AccountID) ([]TransactionRecord, error) {
	if !b.gate.HasAction(profile, ActionView) {
		return nil, fmt.Errorf("%w: profile %q may not list transactions", ErrForbidden, profile)
	}
	if _, err := b.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	records, err := b.store.ListRecordsByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions of account %d: %w", id, err)
	}
	return b.visible(profile, records), nil
}

func (b *Books) visible(profile Profile, records []TransactionRecord) []TransactionRecord {
	out := make([]TransactionRecord, 0, len(records))
	for _, r := range records {
		if b.gate.Allows(profile, ActionView, r.TypeCode) {
			out = append(out, r)
		}
	}
	return out
}

// GetTransaction looks a record up. Existence is checked first so a missing
// record is reported as such regardless of profile.
func (b *Books) GetTransaction(ctx context.Context, profile Profile, id RecordID) (TransactionRecord, error) {
	rec, err := b.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return TransactionRecord{}, fmt.Errorf("transaction %d: %w", id, ErrTransactionNotFound)
		}
		return TransactionRecord{}, fmt.Errorf("failed to get transaction %d: %w", id, err)
	}
	if !b.gate.Allows(profile, ActionView, rec.TypeCode) {
		return TransactionRecord{}, fmt.Errorf("%w: profile %q may not view transaction %d", ErrForbidden, profile, id)
	}
	return rec, nil
}

// OpenAccount creates a zero-balance account for clientID.
func (b *Books) OpenAccount(ctx context.Context, profile Profile, clientID ClientID) (Account, error) {
	if !b.gate.HasAction(profile, ActionOpenAccount) {
		return Account{}, fmt.Errorf("%w: profile %q may not open accounts", ErrForbidden, profile)
	}
	acc, err := b.store.CreateAccount(ctx, clientID)
	if err != nil {
		return Account{}, fmt.Errorf("failed to open account: %w", err)
	}
	return acc, nil
}

func (b *Books) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	acc, err := b.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, &AccountNotFoundError{AccountID: id}
		}
		return Account{}, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return acc, nil
}

func (b *Books) ListAccounts(ctx context.Context, clientID *ClientID) ([]Account, error) {
	accounts, err := b.store.ListAccounts(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
