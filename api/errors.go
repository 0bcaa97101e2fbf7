package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/banking-ledger/ledger"
)

// kindStatus maps the ledger taxonomy to HTTP. Anything missing is a 500.
var kindStatus = map[ledger.Kind]int{
	ledger.KindInvalidAmount:              http.StatusBadRequest,
	ledger.KindInvalidTransactionType:     http.StatusBadRequest,
	ledger.KindInvalidTransfer:            http.StatusBadRequest,
	ledger.KindInsufficientFunds:          http.StatusBadRequest,
	ledger.KindForbidden:                  http.StatusForbidden,
	ledger.KindAccountNotFound:            http.StatusNotFound,
	ledger.KindDestinationAccountNotFound: http.StatusNotFound,
	ledger.KindTransactionNotFound:        http.StatusNotFound,
	ledger.KindPersistenceConflict:        http.StatusInternalServerError,
}

var kindMessage = map[ledger.Kind]string{
	ledger.KindInvalidAmount:              "Amount must be greater than zero",
	ledger.KindInvalidTransactionType:     "Unknown transaction type",
	ledger.KindInvalidTransfer:            "Source and destination accounts must differ",
	ledger.KindInsufficientFunds:          "Insufficient funds",
	ledger.KindForbidden:                  "Not allowed for this profile",
	ledger.KindAccountNotFound:            "Account not found",
	ledger.KindDestinationAccountNotFound: "Destination account not found",
	ledger.KindTransactionNotFound:        "Transaction not found",
	ledger.KindPersistenceConflict:        "The transaction could not be committed, try again",
	ledger.KindInternal:                   "Internal error",
}

func statusFor(kind ledger.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError renders any error coming out of the ledger package.
// Internal errors are logged and their details withheld from the client.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	resp := ErrorResponse{
		Error:     kindMessage[kind],
		Kind:      string(kind),
		Retryable: ledger.IsRetryable(err),
	}

	switch kind {
	case ledger.KindInternal, ledger.KindPersistenceConflict:
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err))
	case ledger.KindInsufficientFunds:
		var ife *ledger.InsufficientFundsError
		if errors.As(err, &ife) {
			resp.Details = map[string]string{
				"available": ledger.FormatAmount(ife.Available),
				"requested": ledger.FormatAmount(ife.Requested),
			}
		}
	default:
		resp.Details = err.Error()
	}

	writeJSON(w, statusFor(kind), resp)
}
