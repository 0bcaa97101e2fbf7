/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external contract. Field names are camelCase to
  stay compatible with the existing back-office front end.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are accepted as JSON numbers or strings and rendered as strings
  with at least two fraction digits, never rounded ("150.00", "0.004").
  See ledger.FormatAmount.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/banking-ledger/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest is the body of POST /api/transactions. Any
// profile field a client sends is ignored; the profile comes from the token.
type CreateTransactionRequest struct {
	TransactionTypeCode  int             `json:"transactionTypeCode"`
	Amount               decimal.Decimal `json:"amount"`
	AccountID            int64           `json:"accountId"`
	SourceAccountID      int64           `json:"sourceAccountId,omitempty"`
	DestinationAccountID int64           `json:"destinationAccountId,omitempty"`
}

// toLedgerRequest resolves the primary account: for transfers a non-zero
// sourceAccountId wins over accountId.
func (req CreateTransactionRequest) toLedgerRequest(profile ledger.Profile) ledger.Request {
	code := ledger.TypeCode(req.TransactionTypeCode)
	primary := req.AccountID
	if ledger.Classify(code) == ledger.PolicyTransfer && req.SourceAccountID != 0 {
		primary = req.SourceAccountID
	}
	return ledger.Request{
		Profile:              profile,
		TypeCode:             code,
		Amount:               req.Amount,
		AccountID:            ledger.AccountID(primary),
		DestinationAccountID: ledger.AccountID(req.DestinationAccountID),
	}
}

type TransactionDTO struct {
	ID                  int64  `json:"id"`
	AccountID           int64  `json:"accountId"`
	TransactionTypeCode int    `json:"transactionTypeCode"`
	Type                string `json:"type"`
	Amount              string `json:"amount"`
	OccurredAt          string `json:"occurredAt"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type OpenAccountRequest struct {
	ClientID int64 `json:"clientId"`
}

type AccountDTO struct {
	ID        int64  `json:"id"`
	ClientID  int64  `json:"clientId"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"createdAt"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(rec ledger.TransactionRecord) TransactionDTO {
	return TransactionDTO{
		ID:                  int64(rec.ID),
		AccountID:           int64(rec.AccountID),
		TransactionTypeCode: int(rec.TypeCode),
		Type:                ledger.Classify(rec.TypeCode).String(),
		Amount:              ledger.FormatAmount(rec.Amount),
		OccurredAt:          rec.OccurredAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(recs []ledger.TransactionRecord) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(recs))
	for _, r := range recs {
		dtos = append(dtos, toTransactionDTO(r))
	}
	return dtos
}

func toAccountDTO(acc ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        int64(acc.ID),
		ClientID:  int64(acc.ClientID),
		Balance:   ledger.FormatAmount(acc.Balance),
		CreatedAt: acc.CreatedAt.Format(time.RFC3339),
	}
}

func toAccountDTOs(accs []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, 0, len(accs))
	for _, a := range accs {
		dtos = append(dtos, toAccountDTO(a))
	}
	return dtos
}
