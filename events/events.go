// Package events carries notifications emitted after a ledger commit.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/banking-ledger/ledger"
)

// TopicTransactionCompleted is the default topic for TransactionCompleted.
const TopicTransactionCompleted = "transaction_completed"

// TransactionCompleted announces one committed record. Consumers dedupe on
// EventID.
type TransactionCompleted struct {
	EventID              uuid.UUID        `json:"event_id"`
	RecordID             ledger.RecordID  `json:"record_id"`
	AccountID            ledger.AccountID `json:"account_id"`
	DestinationAccountID ledger.AccountID `json:"destination_account_id,omitempty"`
	TypeCode             ledger.TypeCode  `json:"type_code"`
	Amount               decimal.Decimal  `json:"amount"`
	OccurredAt           time.Time        `json:"occurred_at"`
}

// NewTransactionCompleted builds the event for a committed record. The
// destination is only carried for transfers.
func NewTransactionCompleted(rec ledger.TransactionRecord, destination ledger.AccountID) TransactionCompleted {
	ev := TransactionCompleted{
		EventID:    uuid.New(),
		RecordID:   rec.ID,
		AccountID:  rec.AccountID,
		TypeCode:   rec.TypeCode,
		Amount:     rec.Amount,
		OccurredAt: rec.OccurredAt,
	}
	if ledger.Classify(rec.TypeCode).TouchesDestination() {
		ev.DestinationAccountID = destination
	}
	return ev
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event TransactionCompleted) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, TransactionCompleted) error { return nil }
func (Nop) Close() error                                       { return nil }
