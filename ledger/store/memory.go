// Package store provides ledger.Store implementations that need no database.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/banking-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps accounts and records behind one mutex. SaveAll validates every
// version before writing anything, so a conflict leaves no partial state.
type Memory struct {
	mu         sync.RWMutex
	accounts   map[ledger.AccountID]ledger.Account
	records    []ledger.TransactionRecord
	nextAcct   ledger.AccountID
	nextRecord ledger.RecordID
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateAccount(_ context.Context, clientID ledger.ClientID) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAcct++
	acc := ledger.Account{
		ID:        m.nextAcct,
		ClientID:  clientID,
		Balance:   decimal.Zero,
		CreatedAt: m.now(),
		Version:   1,
	}
	m.accounts[acc.ID] = acc
	return acc, nil
}

func (m *Memory) Get(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acc, nil
}

// SaveAll is the unit of work: check all versions, then apply all writes.
func (m *Memory) SaveAll(_ context.Context, accounts []ledger.Account, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check phase (atomic check)
	for _, a := range accounts {
		stored, ok := m.accounts[a.ID]
		if !ok {
			return ledger.TransactionRecord{}, ledger.ErrAccountNotFound
		}
		if stored.Version != a.Version {
			return ledger.TransactionRecord{}, ledger.ErrConcurrentModification
		}
	}
	if _, ok := m.accounts[record.AccountID]; !ok {
		return ledger.TransactionRecord{}, ledger.ErrAccountNotFound
	}

	// Write phase (atomic write)
	for _, a := range accounts {
		a.Version++
		m.accounts[a.ID] = a
	}
	m.nextRecord++
	record.ID = m.nextRecord
	m.records = append(m.records, record)
	return record, nil
}

func (m *Memory) GetRecord(_ context.Context, id ledger.RecordID) (ledger.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// IDs are dense and start at 1.
	if id < 1 || int(id) > len(m.records) {
		return ledger.TransactionRecord{}, ledger.ErrTransactionNotFound
	}
	return m.records[id-1], nil
}

func (m *Memory) ListRecords(_ context.Context) ([]ledger.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.TransactionRecord, len(m.records))
	copy(result, m.records)
	return result, nil
}

func (m *Memory) ListRecordsByAccount(_ context.Context, id ledger.AccountID) ([]ledger.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []ledger.TransactionRecord{}
	for _, r := range m.records {
		if r.AccountID == id {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ListAccounts(_ context.Context, clientID *ledger.ClientID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if clientID != nil && a.ClientID != *clientID {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ ledger.Store = (*Memory)(nil)
