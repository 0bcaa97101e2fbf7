package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/banking-ledger/events"
	"github.com/warp/banking-ledger/ledger"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *captureWriter) Close() error { return nil }

func TestPublish_KeysByAccount(t *testing.T) {
	w := &captureWriter{}
	p := &Publisher{writer: w}

	ev := events.NewTransactionCompleted(ledger.TransactionRecord{
		ID:         4,
		AccountID:  12,
		TypeCode:   ledger.TypeTransfer,
		Amount:     decimal.RequireFromString("75.00"),
		OccurredAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}, 13)

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "12", string(w.msgs[0].Key))
	assert.Equal(t, ev.EventID.String(), string(w.msgs[0].Headers[0].Value))

	var decoded events.TransactionCompleted
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, ledger.AccountID(13), decoded.DestinationAccountID)
	assert.True(t, decoded.Amount.Equal(decimal.RequireFromString("75")))
}

func TestPublish_WrapsWriterError(t *testing.T) {
	down := errors.New("broker down")
	p := &Publisher{writer: &captureWriter{err: down}}

	err := p.Publish(context.Background(), events.TransactionCompleted{})
	assert.ErrorIs(t, err, down)
}

func TestNewTransactionCompleted_DropsDestinationForDeposits(t *testing.T) {
	ev := events.NewTransactionCompleted(ledger.TransactionRecord{AccountID: 1, TypeCode: ledger.TypeDeposit}, 9)
	assert.Zero(t, ev.DestinationAccountID)
}
